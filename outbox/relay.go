package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
)

// Relay polls a Store and sends pending records through a cbus.Sender.
type Relay struct {
	store       Store
	sender      cbus.Sender
	logger      *slog.Logger
	interval    time.Duration
	batch       int
	maxAttempts int
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithInterval sets the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatch sets how many records one poll sends at most.
func WithBatch(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithMaxAttempts sets after how many failed sends a record is marked failed. Zero keeps
// retrying forever.
func WithMaxAttempts(n int) RelayOption {
	return func(r *Relay) { r.maxAttempts = n }
}

func NewRelay(store Store, sender cbus.Sender, logger *slog.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Relay{store: store, sender: sender, logger: logger, interval: time.Second, batch: 100}
	for _, o := range opts {
		o(r)
	}

	return r
}

// Flush sends one batch and returns how many records were sent. Records are sent oldest first
// and the batch stops at the first failure so a topic never sees them out of order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	recs, err := r.store.Pending(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("outbox pending: %w", err)
	}

	sent := 0

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		if err := r.sender.Send(ctx, rec.Topic, rec.Envelope); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return sent, err
			}

			giveUp := r.maxAttempts > 0 && rec.Attempts+1 >= r.maxAttempts

			r.logger.WarnContext(ctx, "outbox send failed",
				slog.String("event", rec.Envelope.Type),
				slog.String("topic", rec.Topic),
				slog.Int("attempt", rec.Attempts+1),
				slog.Bool("gave_up", giveUp),
				slog.Any("err", err))

			if markErr := r.store.MarkAttempt(ctx, rec.ID, err, giveUp); markErr != nil {
				return sent, errors.Join(err, markErr)
			}

			return sent, err
		}

		if err := r.store.MarkSent(ctx, rec.ID, time.Now().UTC()); err != nil {
			// sent but not marked: the next flush sends it again
			return sent, fmt.Errorf("outbox mark sent %s: %w", rec.ID, err)
		}

		sent++
	}

	return sent, nil
}

// Run flushes every interval until ctx is done. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		if n, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.DebugContext(ctx, "outbox flush stopped early", slog.Int("sent", n), slog.Any("err", err))
		} else if n > 0 {
			r.logger.DebugContext(ctx, "outbox flushed", slog.Int("sent", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
