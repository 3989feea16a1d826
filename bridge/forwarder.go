package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/servicebus"
)

// SubscriberName is the name the Forwarder is registered under on the local bus.
const SubscriberName = "bridge.Forwarder"

// Forwarder is the local subscriber that pushes cross-process events to the broker with
// bounded retries.
type Forwarder struct {
	pub      EventPublisher
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithRetry sets the attempt count (>= 1) and the initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		if attempts > 0 {
			f.attempts = attempts
		}

		f.delay = delay
	}
}

func NewForwarder(pub EventPublisher, logger *slog.Logger, opts ...ForwarderOption) *Forwarder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	f := &Forwarder{pub: pub, logger: logger, attempts: 3, delay: 100 * time.Millisecond}
	for _, o := range opts {
		o(f)
	}

	return f
}

// Forward sends n to the broker. Local-only notifications and the event that arrived from the
// broker are ignored, so received events never echo back to the topic.
func (f *Forwarder) Forward(ctx context.Context, n cbus.Notification) error {
	if received(ctx, n) {
		return nil
	}

	e, ok := n.(cbus.CrossProcess)
	if !ok {
		return nil
	}

	err := retry.Do(
		func() error { return f.pub.Publish(ctx, e) },
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			f.logger.DebugContext(ctx, "forward retry",
				slog.String("event", e.EventName()), slog.Uint64("attempt", uint64(n+1)), slog.Any("err", err))
		}),
	)
	if err != nil {
		f.logger.ErrorContext(ctx, "forward failed", slog.String("event", e.EventName()), slog.Any("err", err))
		return err
	}

	return nil
}

func retryable(err error) bool {
	return !errors.Is(err, berr.ErrSerializationFailed) &&
		!errors.Is(err, berr.ErrUnknownEventType) &&
		!errors.Is(err, berr.ErrAsyncNotConfigured) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// ForwardAll subscribes f to every event type in codec.
func ForwardAll(reg *servicebus.Registry, codec *Codec, f *Forwarder) error {
	var errs []error
	for _, b := range codec.bindings() {
		errs = append(errs, reg.SubscribeOf(b.sample, SubscriberName, func(ctx context.Context, n any) error {
			return f.Forward(ctx, n)
		}))
	}

	return errors.Join(errs...)
}
