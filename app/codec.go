package app

import (
	"github.com/next-trace/scg-order-bus/bridge"
	"github.com/next-trace/scg-order-bus/cart"
	"github.com/next-trace/scg-order-bus/catalog"
)

// NewCodec returns the codec of every event that leaves the process.
func NewCodec() (*bridge.Codec, error) {
	return bridge.NewCodec(
		bridge.Event[cart.CartItemAdded](),
		bridge.Event[cart.CartItemRemoved](),
		bridge.Event[catalog.ProductCreated](),
		bridge.Event[catalog.ProductStockChanged](),
		bridge.Event[catalog.ProductDeleted](),
	)
}
