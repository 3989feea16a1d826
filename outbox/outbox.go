// Package outbox stores encoded cross-process events beside the aggregate that raised them and
// relays them to the broker once committed.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
)

// Status of a stored record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	// StatusFailed records gave up after the relay's attempt limit.
	StatusFailed Status = "failed"
)

// Record is one envelope waiting to be sent to Topic.
type Record struct {
	ID        uuid.UUID
	Topic     string
	Envelope  cbus.Envelope
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	SentAt    time.Time
}

// Store persists outbox records. Append joins the unit of work carried by ctx when the store
// supports one.
type Store interface {
	Append(ctx context.Context, recs ...Record) error
	// Pending returns at most limit pending records, oldest first.
	Pending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkAttempt counts one failed send. When giveUp is set the record leaves the pending set.
	MarkAttempt(ctx context.Context, id uuid.UUID, cause error, giveUp bool) error
}
