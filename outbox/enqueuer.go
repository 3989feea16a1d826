package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/next-trace/scg-order-bus/bridge"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
)

// Enqueuer turns staged notifications into outbox records. Notifications that are not
// cross-process or not part of the codec stay local.
type Enqueuer struct {
	codec  *bridge.Codec
	topic  string
	origin string
	prop   cbus.HeaderPropagator
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithOrigin stamps every record's envelope with the name of the sending service.
func WithOrigin(origin string) EnqueuerOption {
	return func(q *Enqueuer) { q.origin = origin }
}

func NewEnqueuer(codec *bridge.Codec, topic string, prop cbus.HeaderPropagator, opts ...EnqueuerOption) *Enqueuer {
	if prop == nil {
		prop = cbus.NopHeaderPropagator{}
	}

	q := &Enqueuer{codec: codec, topic: topic, prop: prop}
	for _, o := range opts {
		o(q)
	}

	return q
}

// Records encodes events in order. The trace context of ctx is captured in each envelope so the
// relayed message continues the trace of the command that raised it.
func (q *Enqueuer) Records(ctx context.Context, events []cbus.Notification) ([]Record, error) {
	var out []Record

	for _, n := range events {
		cp, ok := n.(cbus.CrossProcess)
		if !ok || !q.codec.Knows(cp.EventName()) {
			continue
		}

		env, err := q.codec.Encode(cp)
		if err != nil {
			return nil, fmt.Errorf("outbox %s: %w", cp.EventName(), err)
		}

		if q.origin != "" {
			env.Properties[cbus.PropOrigin] = q.origin
		}

		q.prop.Inject(ctx, env.Properties)

		id, err := uuid.Parse(env.Property(cbus.PropMessageID))
		if err != nil {
			id = uuid.New()
		}

		out = append(out, Record{
			ID:        id,
			Topic:     q.topic,
			Envelope:  env,
			Status:    StatusPending,
			CreatedAt: time.Now().UTC(),
		})
	}

	return out, nil
}

// Enqueue appends the records for events to store.
func (q *Enqueuer) Enqueue(ctx context.Context, store Store, events []cbus.Notification) error {
	recs, err := q.Records(ctx, events)
	if err != nil || len(recs) == 0 {
		return err
	}

	return store.Append(ctx, recs...)
}
