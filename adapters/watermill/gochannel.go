package watermill

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
)

// NewGoChannel builds an Adapter over watermill's in-process Pub/Sub. Messages survive only as
// long as the process. The returned cleanup closes the Pub/Sub.
func NewGoChannel(logger *slog.Logger, topic string, policy cbus.DeliveryPolicy) (*Adapter, func()) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
		// keep messages published before the listener subscribed
		Persistent: true,
	}, watermill.NewSlogLogger(logger))

	cleanup := func() { _ = ps.Close() }

	return New(ps, ps, topic, policy), cleanup
}
