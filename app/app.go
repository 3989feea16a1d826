// Package app wires the order services: the request pipeline, the cart and catalog handlers,
// storage and the broker bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/next-trace/scg-order-bus/behavior"
	"github.com/next-trace/scg-order-bus/bridge"
	"github.com/next-trace/scg-order-bus/cart"
	"github.com/next-trace/scg-order-bus/catalog"
	"github.com/next-trace/scg-order-bus/config"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	"github.com/next-trace/scg-order-bus/outbox"
	"github.com/next-trace/scg-order-bus/servicebus"
	memstore "github.com/next-trace/scg-order-bus/storage/memory"
	"github.com/next-trace/scg-order-bus/storage/sqlite"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// App is one running order service.
type App struct {
	Bus       *servicebus.Bus
	Codec     *bridge.Codec
	Publisher *bridge.Publisher
	Listener  *bridge.Listener
	// Relay is set when events leave through the outbox.
	Relay *outbox.Relay

	logger   *slog.Logger
	cleanups []func()

	mu         sync.Mutex
	relayStop  context.CancelFunc
	relayDone  chan struct{}
	stopped    bool
	cleanupOne sync.Once
}

type options struct {
	logger     *slog.Logger
	tracer     trace.Tracer
	transport  cbus.Transport
	prop       cbus.HeaderPropagator
	authorizer behavior.Authorizer
	setup      []func(*servicebus.Registry) error
}

// Option configures New.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithTracer sets the tracer of the Tracing behavior. The global tracer is used otherwise.
func WithTracer(t trace.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithTransport replaces the broker connection cfg.Broker would open.
func WithTransport(t cbus.Transport) Option { return func(o *options) { o.transport = t } }

// WithPropagator replaces the W3C trace-context propagator.
func WithPropagator(p cbus.HeaderPropagator) Option { return func(o *options) { o.prop = p } }

// WithAuthorizer adds the Authorize behavior in front of every handler.
func WithAuthorizer(a behavior.Authorizer) Option { return func(o *options) { o.authorizer = a } }

// WithSetup registers extra handlers or subscribers before the registry is sealed.
func WithSetup(fn func(*servicebus.Registry) error) Option {
	return func(o *options) { o.setup = append(o.setup, fn) }
}

// New builds an App from cfg. Nothing consumes the broker until Start.
func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	if o.prop == nil {
		o.prop = bridge.NewOTelPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
	}

	a := &App{logger: o.logger}

	codec, err := NewCodec()
	if err != nil {
		return nil, fmt.Errorf("app codec: %w", err)
	}

	a.Codec = codec

	transport := o.transport
	if transport == nil {
		t, cleanup, err := openTransport(cfg, o.logger)
		if err != nil {
			return nil, fmt.Errorf("app transport: %w", err)
		}

		transport = t
		a.cleanups = append(a.cleanups, cleanup)
	}

	reg := servicebus.NewRegistry()

	behaviors := []cbus.Behavior{
		behavior.Recovery(o.logger),
		behavior.Logging(o.logger),
		behavior.Tracing(o.tracer),
	}

	if o.authorizer != nil {
		behaviors = append(behaviors, behavior.Authorize(o.authorizer))
	}

	behaviors = append(behaviors, behavior.Validate(behavior.NewStructValidator()))

	if err := reg.RegisterBehavior(behaviors...); err != nil {
		a.Close()
		return nil, fmt.Errorf("app behaviors: %w", err)
	}

	// handlers publish through the bus built below, once the registry is complete
	var bus *servicebus.Bus

	pub := cbus.PublisherFunc(func(ctx context.Context, n cbus.Notification) error {
		return bus.Publish(ctx, n)
	})

	a.Publisher = bridge.NewPublisher(transport, codec, cfg.Topic,
		bridge.WithPropagator(o.prop),
		bridge.WithOrigin(cfg.ServiceName))

	var (
		carts    cart.Repository
		products catalog.Repository
	)

	switch cfg.Storage {
	case config.StorageSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app storage: %w", err)
		}

		a.cleanups = append(a.cleanups, func() { _ = db.Close() })

		enq := outbox.NewEnqueuer(codec, cfg.Topic, o.prop, outbox.WithOrigin(cfg.ServiceName))
		carts, products = sqlite.NewCarts(db, enq), sqlite.NewProducts(db, enq)

		if err := reg.RegisterCommandBehavior(behavior.Transaction(db)); err != nil {
			a.Close()
			return nil, fmt.Errorf("app behaviors: %w", err)
		}

		a.Relay = outbox.NewRelay(sqlite.NewOutbox(db), transport, o.logger,
			outbox.WithInterval(cfg.OutboxInterval),
			outbox.WithBatch(cfg.OutboxBatch),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts))
	default:
		carts, products = memstore.NewCarts(), memstore.NewProducts()

		fwd := bridge.NewForwarder(a.Publisher, o.logger, bridge.WithRetry(cfg.ForwardAttempts, cfg.ForwardDelay))
		if err := bridge.ForwardAll(reg, codec, fwd); err != nil {
			a.Close()
			return nil, fmt.Errorf("app forwarder: %w", err)
		}
	}

	err = errors.Join(
		cart.Register(reg, cart.NewHandlers(carts, pub, o.logger)),
		catalog.Register(reg, catalog.NewHandlers(products, pub, o.logger)),
	)
	for _, fn := range o.setup {
		err = errors.Join(err, fn(reg))
	}

	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app handlers: %w", err)
	}

	bus = servicebus.New(reg, o.logger)
	a.Bus = bus
	a.Listener = bridge.NewListener(transport, codec, bus, o.logger,
		bridge.WithWorkers(cfg.ListenerWorkers),
		bridge.WithExtractor(o.prop),
		bridge.SkipOrigin(cfg.ServiceName))

	return a, nil
}

// Start begins consuming the broker and, with outbox storage, relaying the outbox.
func (a *App) Start(ctx context.Context) error {
	if err := a.Listener.Start(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Relay != nil && a.relayDone == nil && !a.stopped {
		relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.relayStop = cancel
		a.relayDone = make(chan struct{})

		go func() {
			defer close(a.relayDone)
			_ = a.Relay.Run(relayCtx)
		}()
	}

	a.logger.InfoContext(ctx, "order bus started")

	return nil
}

// Done is closed once the listener has shut down, whether by Stop or because the broker gave up.
func (a *App) Done() <-chan struct{} { return a.Listener.Done() }

// Stop stops the relay, then the listener, then releases storage and broker connections.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	stop, done := a.relayStop, a.relayDone
	a.mu.Unlock()

	if stop != nil {
		stop()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := a.Listener.Stop(ctx)

	a.Close()

	return err
}

// Close releases storage and broker connections without waiting for in-flight work.
func (a *App) Close() {
	a.cleanupOne.Do(func() {
		for i := len(a.cleanups) - 1; i >= 0; i-- {
			a.cleanups[i]()
		}
	})
}
