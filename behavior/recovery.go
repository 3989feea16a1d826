package behavior

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

const stackSize = 4096

// Recovery turns a panic further down the pipeline into an error wrapping berr.ErrPanicked.
// Register it first so it also covers the other behaviors.
func Recovery(logger *slog.Logger) cbus.Behavior {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(next cbus.HandlerFunc) cbus.HandlerFunc {
		return func(ctx context.Context, req any) (res any, err error) {
			defer func() {
				if r := recover(); r != nil {
					stack := make([]byte, stackSize)
					stack = stack[:runtime.Stack(stack, false)]

					logger.ErrorContext(ctx, "panic recovered",
						slog.String("request", RequestName(req)),
						slog.String("panic", fmt.Sprint(r)),
						slog.String("stack", string(stack)))

					res = nil
					err = fmt.Errorf("handle %s: %w: %v", RequestName(req), berr.ErrPanicked, r)
				}
			}()

			return next(ctx, req)
		}
	}
}
