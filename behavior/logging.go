package behavior

import (
	"context"
	"log/slog"
	"time"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
)

// Logging logs every request with its elapsed time. Successful requests are logged at debug
// level, failed ones at warn level with the error.
func Logging(logger *slog.Logger) cbus.Behavior {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(next cbus.HandlerFunc) cbus.HandlerFunc {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			res, err := next(ctx, req)

			attrs := []any{
				slog.String("request", RequestName(req)),
				slog.Duration("elapsed", time.Since(start)),
			}

			if err != nil {
				logger.WarnContext(ctx, "request failed", append(attrs, slog.Any("err", err))...)
			} else {
				logger.DebugContext(ctx, "request handled", attrs...)
			}

			return res, err
		}
	}
}
