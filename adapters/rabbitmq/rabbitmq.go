package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PubMsg is one message handed to a Publisher.
type PubMsg struct {
	Exchange   string
	RoutingKey string
	Type       string
	MessageID  string
	Timestamp  time.Time
	Body       []byte
	Headers    map[string]string
}

// Publisher is the publishing seam. The reconnecting session satisfies it; tests use fakes.
type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Consumer is the consuming seam. The returned channel closes when ctx is done.
type Consumer interface {
	Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error)
}

// Sender implements cbus.Sender over a Publisher.
type Sender struct {
	Publisher Publisher
	Exchange  string
}

var _ cbus.Sender = (*Sender)(nil)

func NewSender(p Publisher, exchange string) *Sender { return &Sender{Publisher: p, Exchange: exchange} }

func (s *Sender) Send(ctx context.Context, topic string, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Publisher == nil {
		return fmt.Errorf("rabbitmq send: %w", berr.ErrAsyncNotConfigured)
	}

	msg := PubMsg{
		Exchange:   s.Exchange,
		RoutingKey: topic,
		Type:       env.Type,
		MessageID:  env.Property(cbus.PropMessageID),
		Body:       env.Payload,
		Headers:    env.Clone().Properties,
	}

	if at, err := time.Parse(time.RFC3339Nano, env.Property(cbus.PropCreatedAt)); err == nil {
		msg.Timestamp = at
	}

	if err := s.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq send %s: %w", topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Receiver implements cbus.Receiver over a Consumer and one queue.
type Receiver struct {
	consumer Consumer
	queue    string

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

var _ cbus.Receiver = (*Receiver)(nil)

func NewReceiver(c Consumer, queue string) *Receiver { return &Receiver{consumer: c, queue: queue} }

func (r *Receiver) Receive(ctx context.Context) (<-chan cbus.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("rabbitmq receive %s: %w", r.queue, berr.ErrListenerClosed)
	}

	if r.consumer == nil {
		return nil, fmt.Errorf("rabbitmq receive %s: %w", r.queue, berr.ErrAsyncNotConfigured)
	}

	ctx, cancel := context.WithCancel(ctx)

	in, err := r.consumer.Consume(ctx, r.queue)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rabbitmq consume %s: %w", r.queue, err)
	}

	r.cancel = cancel
	out := make(chan cbus.Delivery)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok {
					return
				}

				select {
				case out <- &delivery{d: d}:
				case <-ctx.Done():
					// not handed out, let the broker redeliver it
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}

	return nil
}

type delivery struct {
	d    amqp.Delivery
	once sync.Once
}

func (d *delivery) Envelope() cbus.Envelope {
	props := make(map[string]string, len(d.d.Headers)+2)
	for k, v := range d.d.Headers {
		props[k] = headerString(v)
	}

	if d.d.MessageId != "" {
		props[cbus.PropMessageID] = d.d.MessageId
	}

	typ := d.d.Type
	if typ == "" {
		typ = props[cbus.PropEventType]
	}

	// quorum queues count redeliveries in x-delivery-count, starting at 0 for the first attempt
	if n, err := strconv.Atoi(props[cbus.PropDeliveries]); err == nil {
		props[cbus.PropDeliveries] = strconv.Itoa(n + 1)
	} else {
		props[cbus.PropDeliveries] = "1"
	}

	return cbus.Envelope{Type: typ, Payload: d.d.Body, Properties: props}
}

func (d *delivery) Ack(context.Context) error {
	var err error
	d.once.Do(func() { err = d.d.Ack(false) })

	return err
}

func (d *delivery) Nack(context.Context) error {
	var err error
	d.once.Do(func() { err = d.d.Nack(false, true) })

	return err
}

func headerString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

// Adapter bundles both halves so it satisfies cbus.Transport.
type Adapter struct {
	*Sender
	*Receiver
}

var _ cbus.Transport = (*Adapter)(nil)

// New builds an Adapter over explicit seams.
func New(p Publisher, c Consumer, exchange, queue string) *Adapter {
	return &Adapter{Sender: NewSender(p, exchange), Receiver: NewReceiver(c, queue)}
}
