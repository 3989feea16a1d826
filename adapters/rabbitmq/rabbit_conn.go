package rabbitmq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	berr "github.com/next-trace/scg-order-bus/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Concrete AMQP connection-backed session with auto-reconnect.

const (
	defaultExchange = "orderbus"
	exchangeKind    = "topic"
	maxBackoff      = 30 * time.Second
)

type Config struct {
	URL         string
	ConnTimeout time.Duration
	// Exchange receives every envelope; the topic is the routing key.
	Exchange string
	// Queue is the quorum queue consumed by the Receiver. Empty means send only.
	Queue string
	// Topic is bound to Queue.
	Topic string
	// DeliveryLimit is the quorum queue x-delivery-limit. Zero leaves the broker default.
	DeliveryLimit int
	Prefetch      int
}

func (c Config) exchange() string {
	if c.Exchange == "" {
		return defaultExchange
	}

	return c.Exchange
}

func (c Config) deadLetterExchange() string { return c.exchange() + ".dlx" }

func (c Config) deadLetterQueue() string { return c.Queue + ".dlq" }

// declareTopology declares the exchange, and when a queue is configured the quorum queue with
// its dead-letter exchange and parking queue.
func (c Config) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(c.exchange(), exchangeKind, true, false, false, false, nil); err != nil {
		return err
	}

	if c.Queue == "" {
		return nil
	}

	if err := ch.ExchangeDeclare(c.deadLetterExchange(), "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(c.deadLetterQueue(), true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		return err
	}

	if err := ch.QueueBind(c.deadLetterQueue(), "", c.deadLetterExchange(), false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-queue-type":           "quorum",
		"x-dead-letter-exchange": c.deadLetterExchange(),
	}
	if c.DeliveryLimit > 0 {
		args["x-delivery-limit"] = c.DeliveryLimit
	}

	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, args); err != nil {
		return err
	}

	return ch.QueueBind(c.Queue, c.Topic, c.exchange(), false, nil)
}

type session struct {
	cfg    Config
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed while a connection is up
}

func newSession(cfg Config) (*session, func()) {
	s := &session{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go s.run()

	return s, s.close
}

// current waits until a connection is up and returns it with the publishing channel.
func (s *session) current(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	for {
		s.mu.RLock()
		conn, ch, ready := s.conn, s.ch, s.ready
		s.mu.RUnlock()

		if ch != nil {
			return conn, ch, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-s.closed:
			return nil, nil, fmt.Errorf("rabbitmq: session closed: %w", berr.ErrPublishFailed)
		}
	}
}

func (s *session) Publish(ctx context.Context, m PubMsg) error {
	_, ch, err := s.current(ctx)
	if err != nil {
		return err
	}

	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      h,
			ContentType:  "application/json",
			Type:         m.Type,
			MessageId:    m.MessageID,
			Timestamp:    m.Timestamp,
			Body:         m.Body,
		},
	)
}

// Consume streams deliveries from queue on a dedicated channel and resubscribes after a
// reconnect until ctx ends or the session closes.
func (s *session) Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error) {
	first, err := s.subscribe(ctx, queue)
	if err != nil {
		return nil, err
	}

	out := make(chan amqp.Delivery)

	go func() {
		defer close(out)

		in := first
		for {
			for d := range in {
				select {
				case out <- d:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}

			// the channel or connection went away
			next, err := s.subscribe(ctx, queue)
			if err != nil {
				return
			}

			in = next
		}
	}()

	return out, nil
}

func (s *session) subscribe(ctx context.Context, queue string) (<-chan amqp.Delivery, error) {
	for {
		conn, _, err := s.current(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			// connection dropped between current and Channel; wait for the next one
			if err := sleepCtx(ctx, time.Second); err != nil {
				return nil, err
			}

			continue
		}

		if s.cfg.Prefetch > 0 {
			if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
				_ = ch.Close()
				return nil, err
			}
		}

		deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			return nil, err
		}

		return deliveries, nil
	}
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

func (s *session) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(s.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-order-bus"},
		Dial:       amqp.DefaultDial(s.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := s.cfg.declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

func (s *session) run() {
	backoff := time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter only

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		conn, ch, err := s.dial()
		if err != nil {
			sleep := min(backoff+time.Duration(rng.Int63n(int64(backoff/2))), maxBackoff)

			t := time.NewTimer(sleep)
			select {
			case <-s.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		backoff = time.Second

		s.mu.Lock()
		s.conn = conn
		s.ch = ch
		close(s.ready)
		s.mu.Unlock()

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-s.closed:
			return
		case <-notify:
		}

		s.mu.Lock()
		s.conn, s.ch = nil, nil
		s.ready = make(chan struct{})
		s.mu.Unlock()

		_ = ch.Close()
		_ = conn.Close()
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
	}

	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, declares the topology and returns an
// Adapter plus a cleanup that closes the connection.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrAsyncNotConfigured)
	}

	s, cleanup := newSession(cfg)

	var consumer Consumer
	if cfg.Queue != "" {
		consumer = s
	}

	return New(s, consumer, cfg.exchange(), cfg.Queue), cleanup, nil
}
