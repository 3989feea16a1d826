package bus

import "context"

// Delivery is one message received from a broker. Exactly one of Ack or Nack must be called.
// Ack removes the message from the broker; Nack hands it back for redelivery (and eventually
// dead-lettering, per broker configuration).
type Delivery interface {
	Envelope() Envelope
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// Receiver streams deliveries from a broker topic. The returned channel is closed when ctx is
// done, the receiver is closed, or the transport fails permanently.
type Receiver interface {
	Receive(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Transport is a convenience interface for adapters that both send and receive.
// Any adapter that implements Sender and Receiver can back both bridge halves.
type Transport interface {
	Sender
	Receiver
}
