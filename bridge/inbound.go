package bridge

import (
	"context"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	"github.com/next-trace/scg-order-bus/domain"
)

type inboundKey struct{}

type inbound struct{ messageID string }

// WithInbound marks ctx as handling the broker message messageID.
func WithInbound(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, inboundKey{}, inbound{messageID: messageID})
}

// Inbound reports whether ctx handles an event that arrived from the broker.
func Inbound(ctx context.Context) bool {
	_, ok := ctx.Value(inboundKey{}).(inbound)
	return ok
}

// received reports whether n is the very event ctx is handling. Events raised while handling
// it carry their own ids and are not the received one. Without an id to compare, every event
// under an inbound ctx counts as received.
func received(ctx context.Context, n cbus.Notification) bool {
	in, ok := ctx.Value(inboundKey{}).(inbound)
	if !ok {
		return false
	}

	if de, isDomain := n.(domain.Event); isDomain && in.messageID != "" {
		return de.EventID().String() == in.messageID
	}

	return true
}
