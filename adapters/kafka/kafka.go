// Package kafka carries order events over Kafka with franz-go.
//
// Kafka has no per-message negative acknowledgement, so Nack republishes the record to the same
// topic with an incremented x-delivery-count header, or to the dead-letter topic once the
// delivery policy is exhausted. Offsets are committed per polled batch, after every record of
// the batch was settled.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Writer is a minimal Kafka-like producer interface. Write returns once the record is acked.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Poller is the consumer-group seam.
type Poller interface {
	Poll(ctx context.Context) ([]*kgo.Record, error)
	Commit(ctx context.Context, recs ...*kgo.Record) error
	Close()
}

// Sender implements cbus.Sender using an injected Writer.
type Sender struct {
	Writer Writer
}

var _ cbus.Sender = (*Sender)(nil)

func NewSender(w Writer) *Sender { return &Sender{Writer: w} }

// Send writes env to topic keyed by its message id so retries of one event share a partition.
func (s *Sender) Send(ctx context.Context, topic string, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Writer == nil {
		return fmt.Errorf("kafka send: %w", berr.ErrAsyncNotConfigured)
	}

	headers := env.Clone().Properties
	if headers == nil {
		headers = map[string]string{}
	}

	headers[cbus.PropEventType] = env.Type

	if err := s.Writer.Write(ctx, topic, []byte(env.Property(cbus.PropMessageID)), env.Payload, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka send %s: %w", topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Receiver streams records from a Poller.
type Receiver struct {
	poller Poller
	writer Writer
	topic  string
	policy cbus.DeliveryPolicy

	// commitTimeout bounds the final commit after the stream was cancelled
	commitTimeout time.Duration
	backoff       time.Duration

	mu        sync.Mutex
	receiving bool
	closed    bool
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ cbus.Receiver = (*Receiver)(nil)

func NewReceiver(p Poller, w Writer, topic string, policy cbus.DeliveryPolicy) *Receiver {
	return &Receiver{
		poller:        p,
		writer:        w,
		topic:         topic,
		policy:        policy,
		commitTimeout: 5 * time.Second,
		backoff:       time.Second,
	}
}

func (r *Receiver) Receive(ctx context.Context) (<-chan cbus.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.receiving {
		return nil, fmt.Errorf("kafka receive %s: %w", r.topic, berr.ErrListenerClosed)
	}

	if r.poller == nil {
		return nil, fmt.Errorf("kafka receive %s: %w", r.topic, berr.ErrAsyncNotConfigured)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.receiving = true

	out := make(chan cbus.Delivery)
	go r.loop(ctx, out)

	return out, nil
}

func (r *Receiver) loop(ctx context.Context, out chan<- cbus.Delivery) {
	for ctx.Err() == nil {
		recs, err := r.poller.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, berr.ErrListenerClosed) {
				break
			}

			if sleepCtx(ctx, r.backoff) != nil {
				break
			}

			continue
		}

		if len(recs) == 0 {
			continue
		}

		if !r.dispatch(ctx, out, recs) {
			return
		}
	}

	close(out)
}

// dispatch hands out one batch and commits it once every record is settled. It reports
// whether the loop may continue.
func (r *Receiver) dispatch(ctx context.Context, out chan<- cbus.Delivery, recs []*kgo.Record) bool {
	var (
		wg      sync.WaitGroup
		handed  []*kgo.Record
		failed  bool
		failMu  sync.Mutex
		stopped bool
	)

	for _, rec := range recs {
		wg.Add(1)

		d := &delivery{r: r, rec: rec, done: func(err error) {
			if err != nil {
				failMu.Lock()
				failed = true
				failMu.Unlock()
			}

			wg.Done()
		}}

		select {
		case out <- d:
			handed = append(handed, rec)
		case <-ctx.Done():
			wg.Done()

			stopped = true
		}

		if stopped {
			break
		}
	}

	if stopped {
		close(out)
	}

	wg.Wait()

	if failed {
		// a Nack could not be republished; leave the batch uncommitted so it is consumed again
		if !stopped {
			close(out)
		}

		return false
	}

	commitCtx := ctx
	if stopped {
		var cancel context.CancelFunc
		commitCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.commitTimeout)
		defer cancel()
	}

	if len(handed) > 0 {
		_ = r.poller.Commit(commitCtx, handed...)
	}

	return !stopped
}

func (r *Receiver) Close() error {
	r.mu.Lock()
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	r.closeOnce.Do(func() {
		if r.poller != nil {
			r.poller.Close()
		}
	})

	return nil
}

// previousDeliveries reads the x-delivery-count header written by earlier Nacks.
func previousDeliveries(rec *kgo.Record) int {
	for _, h := range rec.Headers {
		if h.Key == cbus.PropDeliveries {
			n, _ := strconv.Atoi(string(h.Value))
			return n
		}
	}

	return 0
}

type delivery struct {
	r    *Receiver
	rec  *kgo.Record
	once sync.Once
	done func(error)
}

func (d *delivery) Envelope() cbus.Envelope {
	props := make(map[string]string, len(d.rec.Headers)+1)
	for _, h := range d.rec.Headers {
		props[h.Key] = string(h.Value)
	}

	props[cbus.PropDeliveries] = strconv.Itoa(previousDeliveries(d.rec) + 1)

	return cbus.Envelope{Type: props[cbus.PropEventType], Payload: d.rec.Value, Properties: props}
}

func (d *delivery) Ack(context.Context) error {
	d.once.Do(func() { d.done(nil) })
	return nil
}

func (d *delivery) Nack(ctx context.Context) error {
	var err error

	d.once.Do(func() {
		err = d.requeue(ctx)
		d.done(err)
	})

	return err
}

func (d *delivery) requeue(ctx context.Context) error {
	if d.r.writer == nil {
		return fmt.Errorf("kafka nack: %w", berr.ErrAsyncNotConfigured)
	}

	attempts := previousDeliveries(d.rec) + 1

	topic := d.rec.Topic
	if d.r.policy.Exhausted(attempts) {
		topic = d.r.policy.DeadLetterTopicFor(d.rec.Topic)
	}

	headers := make(map[string]string, len(d.rec.Headers)+1)
	for _, h := range d.rec.Headers {
		headers[h.Key] = string(h.Value)
	}

	headers[cbus.PropDeliveries] = strconv.Itoa(attempts)

	if err := d.r.writer.Write(context.WithoutCancel(ctx), topic, d.rec.Key, d.rec.Value, headers); err != nil {
		return fmt.Errorf("kafka nack %s: %w", topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Adapter bundles both halves so it satisfies cbus.Transport.
type Adapter struct {
	*Sender
	*Receiver
}

var _ cbus.Transport = (*Adapter)(nil)

// New creates a Kafka adapter over explicit seams.
func New(w Writer, p Poller, topic string, policy cbus.DeliveryPolicy) *Adapter {
	return &Adapter{Sender: NewSender(w), Receiver: NewReceiver(p, w, topic, policy)}
}
