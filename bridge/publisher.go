package bridge

import (
	"context"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// EventPublisher sends one cross-process event to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, e cbus.CrossProcess) error
}

// Publisher encodes cross-process events and sends them to one topic.
type Publisher struct {
	sender cbus.Sender
	codec  *Codec
	topic  string
	origin string
	prop   cbus.HeaderPropagator
}

var _ EventPublisher = (*Publisher)(nil)

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPropagator sets the propagator used to inject trace headers.
func WithPropagator(p cbus.HeaderPropagator) PublisherOption {
	return func(pub *Publisher) { pub.prop = p }
}

// WithOrigin stamps every envelope with the name of the sending service.
func WithOrigin(origin string) PublisherOption {
	return func(pub *Publisher) { pub.origin = origin }
}

func NewPublisher(sender cbus.Sender, codec *Codec, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{sender: sender, codec: codec, topic: topic, prop: cbus.NopHeaderPropagator{}}
	for _, o := range opts {
		o(p)
	}

	return p
}

// Publish returns once the transport accepted the event. Context errors are returned
// unwrapped; transport failures match berr.ErrPublishFailed.
func (p *Publisher) Publish(ctx context.Context, e cbus.CrossProcess) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.sender == nil {
		return fmt.Errorf("bridge publish: %w", berr.ErrAsyncNotConfigured)
	}

	env, err := p.codec.Encode(e)
	if err != nil {
		return err
	}

	if p.origin != "" {
		env.Properties[cbus.PropOrigin] = p.origin
	}

	p.prop.Inject(ctx, env.Properties)

	if err := p.sender.Send(ctx, p.topic, env); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("bridge publish %s to %s: %w", env.Type, p.topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}
