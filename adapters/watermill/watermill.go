// Package watermill adapts any watermill Pub/Sub (gochannel, SQL, Kafka, AMQP) to the bridge
// transport contracts.
//
// Watermill has no delivery counter, so the Receiver counts Nacks per message UUID and moves a
// message to the dead-letter topic once the delivery policy is exhausted.
package watermill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Sender implements cbus.Sender over a watermill publisher.
type Sender struct {
	pub message.Publisher
}

var _ cbus.Sender = (*Sender)(nil)

func NewSender(pub message.Publisher) *Sender { return &Sender{pub: pub} }

func (s *Sender) Send(ctx context.Context, topic string, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.pub == nil {
		return fmt.Errorf("watermill send: %w", berr.ErrAsyncNotConfigured)
	}

	id := env.Property(cbus.PropMessageID)
	if id == "" {
		id = watermill.NewUUID()
	}

	msg := message.NewMessage(id, append([]byte(nil), env.Payload...))
	msg.SetContext(ctx)

	for k, v := range env.Properties {
		msg.Metadata.Set(k, v)
	}

	msg.Metadata.Set(cbus.PropEventType, env.Type)

	if err := s.pub.Publish(topic, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("watermill send %s: %w", topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Receiver implements cbus.Receiver over a watermill subscriber.
type Receiver struct {
	sub    message.Subscriber
	dlq    message.Publisher
	topic  string
	policy cbus.DeliveryPolicy

	mu        sync.Mutex
	attempts  map[string]int
	receiving bool
	closed    bool
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

var _ cbus.Receiver = (*Receiver)(nil)

// NewReceiver builds a Receiver for topic. dlq may be nil, in which case exhausted messages are
// acknowledged and dropped.
func NewReceiver(sub message.Subscriber, dlq message.Publisher, topic string, policy cbus.DeliveryPolicy) *Receiver {
	return &Receiver{sub: sub, dlq: dlq, topic: topic, policy: policy, attempts: map[string]int{}}
}

func (r *Receiver) Receive(ctx context.Context) (<-chan cbus.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.receiving {
		return nil, fmt.Errorf("watermill receive %s: %w", r.topic, berr.ErrListenerClosed)
	}

	if r.sub == nil {
		return nil, fmt.Errorf("watermill receive %s: %w", r.topic, berr.ErrAsyncNotConfigured)
	}

	ctx, cancel := context.WithCancel(ctx)

	msgs, err := r.sub.Subscribe(ctx, r.topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watermill subscribe %s: %w", r.topic, err)
	}

	r.cancel = cancel
	r.receiving = true

	out := make(chan cbus.Delivery)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}

				d := &delivery{r: r, m: m, attempt: r.attempt(m.UUID)}

				select {
				case out <- d:
				case <-ctx.Done():
					m.Nack()
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Receiver) attempt(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.attempts[id] + 1
}

func (r *Receiver) settle(id string, nacked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if nacked {
		r.attempts[id]++
		return
	}

	delete(r.attempts, id)
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
		if r.sub != nil {
			r.closeErr = r.sub.Close()
		}
	})

	return r.closeErr
}

type delivery struct {
	r       *Receiver
	m       *message.Message
	attempt int
	once    sync.Once
}

func (d *delivery) Envelope() cbus.Envelope {
	props := make(map[string]string, len(d.m.Metadata)+1)
	for k, v := range d.m.Metadata {
		props[k] = v
	}

	props[cbus.PropDeliveries] = strconv.Itoa(d.attempt)

	return cbus.Envelope{Type: props[cbus.PropEventType], Payload: d.m.Payload, Properties: props}
}

func (d *delivery) Ack(context.Context) error {
	d.once.Do(func() {
		d.r.settle(d.m.UUID, false)
		d.m.Ack()
	})

	return nil
}

func (d *delivery) Nack(ctx context.Context) error {
	var err error

	d.once.Do(func() {
		if !d.r.policy.Exhausted(d.attempt) {
			d.r.settle(d.m.UUID, true)
			d.m.Nack()

			return
		}

		if d.r.dlq != nil {
			dead := d.m.Copy()
			dead.Metadata.Set(cbus.PropDeliveries, strconv.Itoa(d.attempt))
			dead.SetContext(context.WithoutCancel(ctx))

			if err = d.r.dlq.Publish(d.r.policy.DeadLetterTopicFor(d.r.topic), dead); err != nil {
				// keep it on the topic rather than lose it
				err = fmt.Errorf("watermill dead-letter %s: %w", d.r.topic, errors.Join(berr.ErrPublishFailed, err))
				d.r.settle(d.m.UUID, true)
				d.m.Nack()

				return
			}
		}

		d.r.settle(d.m.UUID, false)
		d.m.Ack()
	})

	return err
}

// Adapter bundles both halves so it satisfies cbus.Transport.
type Adapter struct {
	*Sender
	*Receiver
}

var _ cbus.Transport = (*Adapter)(nil)

// New creates an Adapter publishing and dead-lettering through pub and consuming topic from sub.
func New(pub message.Publisher, sub message.Subscriber, topic string, policy cbus.DeliveryPolicy) *Adapter {
	return &Adapter{Sender: NewSender(pub), Receiver: NewReceiver(sub, pub, topic, policy)}
}
