package servicebus

import (
	"context"
	"reflect"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
)

// route is a resolved, fully composed request pipeline for one request type.
type route struct {
	kind  Kind
	chain cbus.HandlerFunc
}

// buildPipeline composes the behaviors that match t around the terminal handler.
// The first registered behavior is the outermost one. Every stage boundary observes
// cancellation before entering the stage.
func buildPipeline(t reflect.Type, h handlerEntry, behaviors []behaviorEntry) route {
	final := guard(h.call)
	for i := len(behaviors) - 1; i >= 0; i-- {
		be := behaviors[i]
		if !be.match(t, h.kind) {
			continue
		}

		final = guard(be.behavior(final))
	}

	return route{kind: h.kind, chain: final}
}

func guard(next cbus.HandlerFunc) cbus.HandlerFunc {
	return func(ctx context.Context, req any) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		return next(ctx, req)
	}
}

// Compose wraps h with behaviors outside of any registry, using the same ordering and
// cancellation rules as the dispatcher.
func Compose(h cbus.HandlerFunc, bs ...cbus.Behavior) cbus.HandlerFunc {
	final := guard(h)
	for i := len(bs) - 1; i >= 0; i-- {
		final = guard(bs[i](final))
	}

	return final
}
