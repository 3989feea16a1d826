package bus

import "context"

// Publisher publishes notifications to the local subscribers of their type.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// PublisherFunc adapts a function to Publisher. It lets handlers be wired before the bus that
// will publish their events exists.
type PublisherFunc func(ctx context.Context, n Notification) error

func (f PublisherFunc) Publish(ctx context.Context, n Notification) error { return f(ctx, n) }

// Sender hands an envelope to a durable broker topic. Implementations return only after the
// transport has accepted the message (or failed).
type Sender interface {
	Send(ctx context.Context, topic string, env Envelope) error
}
