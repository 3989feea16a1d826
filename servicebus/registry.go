package servicebus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Kind is the closed set of request shapes a handler can be registered as.
type Kind uint8

const (
	KindCommand Kind = iota + 1
	KindCommandWithResponse
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindCommandWithResponse:
		return "command-with-response"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

func (k Kind) isCommand() bool { return k == KindCommand || k == KindCommandWithResponse }

type handlerEntry struct {
	kind Kind
	call cbus.HandlerFunc
}

type subscriberEntry struct {
	name string
	call func(ctx context.Context, n any) error
}

type behaviorEntry struct {
	match    func(t reflect.Type, k Kind) bool
	behavior cbus.Behavior
}

// Registry maps request types to exactly one handler and notification types to an ordered
// list of subscribers. It is populated at process start and sealed when the first
// Dispatcher or NotificationBus is built from it; it is read-only afterwards, so lookups
// take no locks.
type Registry struct {
	mu     sync.Mutex
	sealed bool

	handlers    map[reflect.Type]handlerEntry
	subscribers map[reflect.Type][]subscriberEntry

	// behaviors in registration order; the first registered wraps all others
	behaviors []behaviorEntry
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:    make(map[reflect.Type]handlerEntry),
		subscribers: make(map[reflect.Type][]subscriberEntry),
	}
}

func (r *Registry) seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether the registry has been handed to a dispatcher or bus.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sealed
}

func (r *Registry) addHandler(t reflect.Type, e handlerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %s %s: %w", e.kind, typeString(t), berr.ErrRegistrySealed)
	}

	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("register %s %s: %w", e.kind, typeString(t), berr.ErrHandlerExists)
	}

	r.handlers[t] = e

	return nil
}

func (r *Registry) addSubscriber(t reflect.Type, e subscriberEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("subscribe %s: %w", typeString(t), berr.ErrRegistrySealed)
	}

	r.subscribers[t] = append(r.subscribers[t], e)

	return nil
}

func (r *Registry) addBehaviors(match func(reflect.Type, Kind) bool, bs ...cbus.Behavior) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register behavior: %w", berr.ErrRegistrySealed)
	}

	for _, b := range bs {
		if b == nil {
			continue
		}

		r.behaviors = append(r.behaviors, behaviorEntry{match: match, behavior: b})
	}

	return nil
}

// resolveHandler is only called after sealing.
func (r *Registry) resolveHandler(t reflect.Type) (handlerEntry, bool) {
	e, ok := r.handlers[t]
	return e, ok
}

// resolveSubscribers is only called after sealing; the slice must not be mutated.
func (r *Registry) resolveSubscribers(t reflect.Type) []subscriberEntry {
	return r.subscribers[t]
}

// HasHandler reports whether a handler is registered for the dynamic type of sample.
func (r *Registry) HasHandler(sample any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.handlers[reflect.TypeOf(sample)]

	return ok
}

// SubscriberCount returns the number of subscribers registered for the dynamic type of sample.
func (r *Registry) SubscriberCount(sample any) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.subscribers[reflect.TypeOf(sample)])
}

// RegisterHandlerOf registers an untyped handler for the type of sample.
// Provide a zero value of the request type via sample.
func (r *Registry) RegisterHandlerOf(sample any, kind Kind, handler cbus.HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("register %s %T: nil handler: %w", kind, sample, berr.ErrHandlerNotFound)
	}

	return r.addHandler(reflect.TypeOf(sample), handlerEntry{kind: kind, call: handler})
}

// SubscribeOf registers an untyped subscriber for the type of sample. Multiple subscribers are allowed.
func (r *Registry) SubscribeOf(sample any, name string, handler func(ctx context.Context, n any) error) error {
	return r.addSubscriber(reflect.TypeOf(sample), subscriberEntry{name: name, call: handler})
}

// RegisterBehavior appends behaviors that wrap every request.
func (r *Registry) RegisterBehavior(bs ...cbus.Behavior) error {
	return r.addBehaviors(func(reflect.Type, Kind) bool { return true }, bs...)
}

// RegisterCommandBehavior appends behaviors that wrap commands only (with or without response).
func (r *Registry) RegisterCommandBehavior(bs ...cbus.Behavior) error {
	return r.addBehaviors(func(_ reflect.Type, k Kind) bool { return k.isCommand() }, bs...)
}

// RegisterBehaviorFor appends behaviors that wrap requests of type R only.
func RegisterBehaviorFor[R any](r *Registry, bs ...cbus.Behavior) error {
	want := reflect.TypeFor[R]()

	return r.addBehaviors(func(t reflect.Type, _ Kind) bool { return t == want }, bs...)
}

// RegisterCommand registers the handler for command type C. Duplicate registrations are rejected.
func RegisterCommand[C cbus.Command](r *Registry, h cbus.CommandHandler[C]) error {
	return RegisterCommandFunc(r, h.Handle)
}

// RegisterCommandFunc registers a function as the handler for command type C.
func RegisterCommandFunc[C cbus.Command](r *Registry, fn func(ctx context.Context, c C) error) error {
	t := reflect.TypeFor[C]()

	return r.addHandler(t, handlerEntry{
		kind: KindCommand,
		call: func(ctx context.Context, v any) (any, error) {
			c, ok := v.(C)
			if !ok {
				return nil, fmt.Errorf("dispatch %s: %w", typeString(reflect.TypeOf(v)), berr.ErrHandlerTypeMismatch)
			}

			return nil, fn(ctx, c)
		},
	})
}

// RegisterCommandWithResponse registers the handler for command type C producing R.
func RegisterCommandWithResponse[C cbus.Command, R any](r *Registry, h cbus.ResponseHandler[C, R]) error {
	return registerWithResult[C, R](r, KindCommandWithResponse, h.Handle)
}

// RegisterCommandWithResponseFunc registers a function as the handler for command type C.
func RegisterCommandWithResponseFunc[C cbus.Command, R any](r *Registry, fn func(ctx context.Context, c C) (R, error)) error {
	return registerWithResult(r, KindCommandWithResponse, fn)
}

// RegisterQuery registers the handler for query type Q producing R. Duplicate registrations are rejected.
func RegisterQuery[Q cbus.Query, R any](r *Registry, h cbus.QueryHandler[Q, R]) error {
	return registerWithResult[Q, R](r, KindQuery, h.Handle)
}

// RegisterQueryFunc registers a function as the handler for query type Q.
func RegisterQueryFunc[Q cbus.Query, R any](r *Registry, fn func(ctx context.Context, q Q) (R, error)) error {
	return registerWithResult(r, KindQuery, fn)
}

func registerWithResult[T any, R any](r *Registry, kind Kind, fn func(context.Context, T) (R, error)) error {
	t := reflect.TypeFor[T]()

	return r.addHandler(t, handlerEntry{
		kind: kind,
		call: func(ctx context.Context, v any) (any, error) {
			req, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("send %s: %w", typeString(reflect.TypeOf(v)), berr.ErrHandlerTypeMismatch)
			}

			return fn(ctx, req)
		},
	})
}

// Subscribe registers a notification handler for type N. Multiple handlers are allowed and are
// invoked in registration order.
func Subscribe[N cbus.Notification](r *Registry, h cbus.NotificationHandler[N]) error {
	return SubscribeFunc(r, fmt.Sprintf("%T", h), h.Handle)
}

// SubscribeFunc registers a named function as a subscriber for notification type N.
func SubscribeFunc[N cbus.Notification](r *Registry, name string, fn func(ctx context.Context, n N) error) error {
	t := reflect.TypeFor[N]()

	return r.addSubscriber(t, subscriberEntry{
		name: name,
		call: func(ctx context.Context, v any) error {
			n, ok := v.(N)
			if !ok {
				return fmt.Errorf("publish %s: %w", typeString(reflect.TypeOf(v)), berr.ErrHandlerTypeMismatch)
			}

			return fn(ctx, n)
		},
	})
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	return t.String()
}
