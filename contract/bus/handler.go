package bus

import "context"

// CommandHandler handles commands of type C.
// Implementations must be safe for concurrent use by multiple goroutines.
type CommandHandler[C Command] interface {
	Handle(ctx context.Context, c C) error
}

// ResponseHandler handles commands of type C that produce a result of type R.
// Implementations must be safe for concurrent use by multiple goroutines.
type ResponseHandler[C Command, R any] interface {
	Handle(ctx context.Context, c C) (R, error)
}

// QueryHandler handles queries of type Q and returns a result of type R.
// Implementations must be safe for concurrent use by multiple goroutines.
type QueryHandler[Q Query, R any] interface {
	Handle(ctx context.Context, q Q) (R, error)
}

// NotificationHandler handles notifications of type N.
type NotificationHandler[N Notification] interface {
	Handle(ctx context.Context, n N) error
}

// HandlerFunc is the untyped shape every request handler and pipeline stage is reduced to.
type HandlerFunc func(ctx context.Context, req any) (any, error)

// Behavior wraps a pipeline stage. It either calls next (with optional pre/post work)
// or short-circuits by returning without calling it. Behaviors are shared across calls and
// must keep per-call state on the stack.
type Behavior func(next HandlerFunc) HandlerFunc
