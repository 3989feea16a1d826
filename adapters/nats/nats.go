package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Client is a minimal JetStream-like publisher interface decoupled from any concrete library.
// Publish returns once the stream stored the message.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// Msg is one fetched message.
type Msg interface {
	Data() []byte
	Headers() map[string]string
	// Delivered is the delivery attempt, starting at 1.
	Delivered() int
	Ack() error
	Nak() error
	// Term stops redelivery of the message.
	Term() error
}

// Fetcher pulls batches from a durable consumer. An empty batch with a nil error means
// nothing arrived in time.
type Fetcher interface {
	Fetch(ctx context.Context, batch int) ([]Msg, error)
	Close() error
}

// Sender implements cbus.Sender using an injected Client. The topic is the subject.
type Sender struct {
	Client Client
}

var _ cbus.Sender = (*Sender)(nil)

func NewSender(c Client) *Sender { return &Sender{Client: c} }

func (s *Sender) Send(ctx context.Context, topic string, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Client == nil {
		return fmt.Errorf("nats send: %w", berr.ErrAsyncNotConfigured)
	}

	headers := env.Clone().Properties
	if headers == nil {
		headers = map[string]string{}
	}

	headers[cbus.PropEventType] = env.Type

	if err := s.Client.Publish(ctx, topic, env.Payload, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats send %s: %w", topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Receiver streams messages from a Fetcher. Exhausted messages are copied to the dead-letter
// subject and terminated.
type Receiver struct {
	fetcher Fetcher
	dlq     Client
	topic   string
	policy  cbus.DeliveryPolicy
	batch   int
	backoff time.Duration

	mu        sync.Mutex
	receiving bool
	closed    bool
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

var _ cbus.Receiver = (*Receiver)(nil)

// NewReceiver builds a Receiver. dlq may be nil, in which case exhausted messages are only
// terminated.
func NewReceiver(f Fetcher, dlq Client, topic string, policy cbus.DeliveryPolicy) *Receiver {
	return &Receiver{fetcher: f, dlq: dlq, topic: topic, policy: policy, batch: 10, backoff: time.Second}
}

func (r *Receiver) Receive(ctx context.Context) (<-chan cbus.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.receiving {
		return nil, fmt.Errorf("nats receive %s: %w", r.topic, berr.ErrListenerClosed)
	}

	if r.fetcher == nil {
		return nil, fmt.Errorf("nats receive %s: %w", r.topic, berr.ErrAsyncNotConfigured)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.receiving = true

	out := make(chan cbus.Delivery)

	go func() {
		defer close(out)

		for ctx.Err() == nil {
			msgs, err := r.fetcher.Fetch(ctx, r.batch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				if sleepCtx(ctx, r.backoff) != nil {
					return
				}

				continue
			}

			for i, m := range msgs {
				select {
				case out <- &delivery{r: r, m: m}:
				case <-ctx.Done():
					// fetched but never handed out
					for _, rest := range msgs[i:] {
						_ = rest.Nak()
					}

					return
				}
			}
		}
	}()

	return out, nil
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
		if r.fetcher != nil {
			r.closeErr = r.fetcher.Close()
		}
	})

	return r.closeErr
}

func (r *Receiver) deadLetter(ctx context.Context, m Msg) error {
	if r.dlq != nil {
		headers := make(map[string]string, len(m.Headers())+1)
		for k, v := range m.Headers() {
			headers[k] = v
		}

		headers[cbus.PropDeliveries] = strconv.Itoa(m.Delivered())

		if err := r.dlq.Publish(ctx, r.policy.DeadLetterTopicFor(r.topic), m.Data(), headers); err != nil {
			// keep it in the stream rather than lose it
			return errors.Join(err, m.Nak())
		}
	}

	return m.Term()
}

type delivery struct {
	r    *Receiver
	m    Msg
	once sync.Once
}

func (d *delivery) Envelope() cbus.Envelope {
	props := make(map[string]string, len(d.m.Headers())+1)
	for k, v := range d.m.Headers() {
		props[k] = v
	}

	props[cbus.PropDeliveries] = strconv.Itoa(d.m.Delivered())

	return cbus.Envelope{Type: props[cbus.PropEventType], Payload: d.m.Data(), Properties: props}
}

func (d *delivery) Ack(context.Context) error {
	var err error
	d.once.Do(func() { err = d.m.Ack() })

	return err
}

func (d *delivery) Nack(ctx context.Context) error {
	var err error

	d.once.Do(func() {
		if d.r.policy.Exhausted(d.m.Delivered()) {
			err = d.r.deadLetter(ctx, d.m)
			return
		}

		err = d.m.Nak()
	})

	return err
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

// New creates an Adapter over explicit seams.
func New(c Client, f Fetcher, topic string, policy cbus.DeliveryPolicy) *Adapter {
	return &Adapter{Sender: NewSender(c), Receiver: NewReceiver(f, c, topic, policy)}
}
