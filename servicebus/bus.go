package servicebus

// revive:disable:max-public-structs

import (
	"context"
	"log/slog"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
)

// Bus is a thin in-process mediator combining the Dispatcher (one handler per request) and the
// NotificationBus (any number of subscribers per notification) over one sealed Registry.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	*Dispatcher
	*NotificationBus
}

var _ cbus.Bus = (*Bus)(nil)

// New seals reg and constructs a Bus over it. The logger may be nil.
func New(reg *Registry, logger *slog.Logger) *Bus {
	return &Bus{
		Dispatcher:      NewDispatcher(reg, logger),
		NotificationBus: NewNotificationBus(reg, logger),
	}
}

// CommandBus is a thin facade over Bus for commands.
type CommandBus struct{ b *Bus }

// NewCommandBus constructs a CommandBus over a Bus.
func NewCommandBus(b *Bus) *CommandBus { return &CommandBus{b: b} }

// Dispatch dispatches a command using the underlying Bus.
func (c *CommandBus) Dispatch(ctx context.Context, cmd cbus.Command) error {
	return c.b.Dispatch(ctx, cmd)
}

// QueryBus is a thin facade over Bus for queries.
type QueryBus struct{ b *Bus }

// NewQueryBus constructs a QueryBus over a Bus.
func NewQueryBus(b *Bus) *QueryBus { return &QueryBus{b: b} }

// revive:enable:max-public-structs

// Ask executes an untyped query using the underlying Bus.
func (q *QueryBus) Ask(ctx context.Context, query cbus.Query) (any, error) {
	return q.b.request(ctx, query, KindQuery)
}

// AskGeneric is a typed helper to execute queries via a QueryBus.
func AskGeneric[Q cbus.Query, R any](ctx context.Context, qb *QueryBus, query Q) (R, error) {
	return Ask[Q, R](ctx, qb.b, query)
}
