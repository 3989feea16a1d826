package bus

import "context"

// Bus is a minimal, tech-agnostic interface that mirrors the capabilities of the
// concrete service bus while remaining non-generic for interface compatibility.
//
// Typed helpers remain available via generic helper functions in the servicebus package.
// This interface is intended for consumers that want to depend only on contracts.
type Bus interface {
	// Requests
	Send(ctx context.Context, req any) (any, error)
	Dispatch(ctx context.Context, cmd Command) error

	// Events
	Publish(ctx context.Context, n Notification) error
}
