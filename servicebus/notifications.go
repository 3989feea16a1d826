package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// NotificationBus fans a notification out to every subscriber registered for its type.
type NotificationBus struct {
	reg    *Registry
	logger *slog.Logger
}

// NewNotificationBus seals reg and returns a bus over it.
func NewNotificationBus(reg *Registry, logger *slog.Logger) *NotificationBus {
	reg.seal()

	return &NotificationBus{reg: reg, logger: orDiscard(logger)}
}

// Publish invokes every subscriber of n's type in registration order. A failing subscriber
// never prevents the next one from running; failures are logged and returned together via
// errors.Join. No subscribers is a successful no-op. If ctx is cancelled between subscribers,
// the rest are skipped and the context error is part of the result.
func (b *NotificationBus) Publish(ctx context.Context, n cbus.Notification) error {
	if isNil(n) {
		return nil
	}

	subs := b.reg.resolveSubscribers(reflect.TypeOf(n))
	if len(subs) == 0 {
		return nil
	}

	name := EventName(n)

	var errs []error

	for i, s := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if err := invokeSubscriber(ctx, s, n); err != nil {
			se := &berr.SubscriberError{Event: name, Subscriber: s.name, Index: i, Err: err}
			b.logger.WarnContext(ctx, "subscriber failed",
				slog.String("event", name),
				slog.String("subscriber", s.name),
				slog.Int("index", i),
				slog.Any("err", err))

			errs = append(errs, se)
		}
	}

	return errors.Join(errs...)
}

func invokeSubscriber(ctx context.Context, s subscriberEntry, n any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in subscriber: %v", r)
		}
	}()

	return s.call(ctx, n)
}

// EventName returns the wire name for cross-process notifications and the Go type name otherwise.
func EventName(n any) string {
	if cp, ok := n.(cbus.CrossProcess); ok {
		return cp.EventName()
	}

	t := reflect.TypeOf(n)
	if t == nil {
		return "<nil>"
	}

	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if name := t.Name(); name != "" {
		return name
	}

	return t.String()
}

// isNil reports a nil notification, including a nil pointer held in the interface.
func isNil(n cbus.Notification) bool {
	if n == nil {
		return true
	}

	v := reflect.ValueOf(n)

	return v.Kind() == reflect.Ptr && v.IsNil()
}
