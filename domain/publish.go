package domain

import (
	"context"
	"log/slog"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	"github.com/next-trace/scg-order-bus/txn"
)

// SaveAndPublish persists agg and, only once the save is durable, drains its pending events
// and publishes them in staging order.
//
// A failed save returns its error and leaves the queue untouched. Inside a unit of work the
// drain waits for the commit (txn.AfterCommit); a rolled back unit of work publishes nothing.
// Publication runs on a context that ignores the caller's cancellation so a drained queue is
// always published in full. Subscriber failures are logged and never fail the command.
func SaveAndPublish[A Aggregate](
	ctx context.Context,
	save func(context.Context, A) error,
	agg A,
	pub cbus.Publisher,
	logger *slog.Logger,
) error {
	if err := save(ctx, agg); err != nil {
		return err
	}

	txn.AfterCommit(ctx, func(ctx context.Context) {
		PublishDrained(context.WithoutCancel(ctx), agg.DrainEvents(), pub, logger)
	})

	return nil
}

// PublishDrained hands already drained events to pub one by one, logging failures.
func PublishDrained(ctx context.Context, events []cbus.Notification, pub cbus.Publisher, logger *slog.Logger) {
	for _, e := range events {
		if err := pub.Publish(ctx, e); err != nil && logger != nil {
			logger.WarnContext(ctx, "event subscribers failed", slog.Any("err", err))
		}
	}
}
