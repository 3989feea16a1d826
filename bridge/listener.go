package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Listener consumes a broker topic and republishes every known event on the local bus.
//
// A Listener runs once: Start begins consuming, Stop ends it for good. Both are idempotent.
type Listener struct {
	recv    cbus.Receiver
	codec   *Codec
	pub     cbus.Publisher
	logger  *slog.Logger
	prop    cbus.HeaderPropagator
	workers int
	origin  string

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithWorkers sets how many deliveries are processed concurrently. Values below 1 mean 1.
func WithWorkers(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithExtractor sets the propagator used to restore trace context from delivery properties.
func WithExtractor(p cbus.HeaderPropagator) ListenerOption {
	return func(l *Listener) { l.prop = p }
}

// SkipOrigin acknowledges, without republishing, envelopes stamped with origin. A service
// passes its own name so events it raised are not handled a second time when the broker hands
// them back.
func SkipOrigin(origin string) ListenerOption {
	return func(l *Listener) { l.origin = origin }
}

func NewListener(recv cbus.Receiver, codec *Codec, pub cbus.Publisher, logger *slog.Logger, opts ...ListenerOption) *Listener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	l := &Listener{
		recv:    recv,
		codec:   codec,
		pub:     pub,
		logger:  logger,
		prop:    cbus.NopHeaderPropagator{},
		workers: 1,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}

	return l
}

// Start begins consuming. It returns once the receiver is subscribed; processing continues in
// the background until Stop is called, ctx is done, or the receiver gives up.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return fmt.Errorf("listener start: %w", berr.ErrListenerClosed)
	}

	if l.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	deliveries, err := l.recv.Receive(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("listener start: %w", err)
	}

	l.started = true
	l.cancel = cancel

	// in-flight deliveries finish even when the loop is told to stop
	work := context.WithoutCancel(runCtx)

	var wg sync.WaitGroup
	for range l.workers {
		wg.Go(func() {
			for d := range deliveries {
				l.handle(work, d)
			}
		})
	}

	go func() {
		wg.Wait()
		cancel()
		l.release()
		l.logger.InfoContext(work, "listener stopped")
		l.finish()
	}()

	return nil
}

// Stop ends consumption, waits for in-flight deliveries to settle, then closes the receiver.
// If ctx ends first Stop returns ctx.Err() while the shutdown continues in the background.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopped = true
	started, cancel := l.started, l.cancel
	l.mu.Unlock()

	if !started {
		l.release()
		l.finish()

		return l.closeErr
	}

	cancel()

	select {
	case <-l.done:
		return l.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once a started listener has fully shut down.
func (l *Listener) Done() <-chan struct{} { return l.done }

func (l *Listener) finish() {
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *Listener) release() {
	l.closeOnce.Do(func() {
		l.closeErr = l.recv.Close()
	})
}

func (l *Listener) handle(ctx context.Context, d cbus.Delivery) {
	env := d.Envelope()
	settled := false

	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "delivery panicked",
				slog.String("event", env.Type), slog.String("panic", fmt.Sprint(r)))

			if !settled {
				l.nack(ctx, d, env)
			}
		}
	}()

	if l.origin != "" && env.Property(cbus.PropOrigin) == l.origin {
		l.logger.DebugContext(ctx, "own event, skipping",
			slog.String("event", env.Type), slog.String("message_id", env.Property(cbus.PropMessageID)))

		settled = true
		l.ack(ctx, d, env)

		return
	}

	n, err := l.codec.Decode(env)
	switch {
	case errors.Is(err, berr.ErrUnknownEventType):
		l.logger.WarnContext(ctx, "unknown event type, dropping",
			slog.String("event", env.Type), slog.String("message_id", env.Property(cbus.PropMessageID)))

		settled = true
		l.ack(ctx, d, env)

		return
	case err != nil:
		l.logger.ErrorContext(ctx, "undecodable delivery",
			slog.String("event", env.Type), slog.Any("err", err))

		settled = true
		l.nack(ctx, d, env)

		return
	}

	hctx := WithInbound(l.prop.Extract(ctx, env.Properties), env.Property(cbus.PropMessageID))
	if err := l.pub.Publish(hctx, n); err != nil {
		l.logger.WarnContext(ctx, "local subscribers failed, requesting redelivery",
			slog.String("event", env.Type), slog.Any("err", err))

		settled = true
		l.nack(ctx, d, env)

		return
	}

	settled = true
	l.ack(ctx, d, env)
}

func (l *Listener) ack(ctx context.Context, d cbus.Delivery, env cbus.Envelope) {
	if err := d.Ack(ctx); err != nil {
		l.logger.WarnContext(ctx, "ack failed", slog.String("event", env.Type), slog.Any("err", err))
	}
}

func (l *Listener) nack(ctx context.Context, d cbus.Delivery, env cbus.Envelope) {
	if err := d.Nack(ctx); err != nil {
		l.logger.WarnContext(ctx, "nack failed", slog.String("event", env.Type), slog.Any("err", err))
	}
}
