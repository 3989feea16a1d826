package outbox

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// MemoryStore keeps records in process memory. It has no unit of work; Append is immediate.
type MemoryStore struct {
	mu   sync.Mutex
	recs []Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(_ context.Context, recs ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range recs {
		r.Envelope = r.Envelope.Clone()
		if r.Status == "" {
			r.Status = StatusPending
		}

		s.recs = append(s.recs, r)
	}

	return nil
}

func (s *MemoryStore) Pending(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record

	for _, r := range s.recs {
		if limit > 0 && len(out) == limit {
			break
		}

		if r.Status == StatusPending {
			r.Envelope = r.Envelope.Clone()
			out = append(out, r)
		}
	}

	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.update(id, func(r *Record) {
		r.Status = StatusSent
		r.SentAt = at
	})
}

func (s *MemoryStore) MarkAttempt(_ context.Context, id uuid.UUID, cause error, giveUp bool) error {
	return s.update(id, func(r *Record) {
		r.Attempts++
		if cause != nil {
			r.LastError = cause.Error()
		}

		if giveUp {
			r.Status = StatusFailed
		}
	})
}

// All returns every record in append order.
func (s *MemoryStore) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.recs)
}

func (s *MemoryStore) update(id uuid.UUID, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.recs, func(r Record) bool { return r.ID == id })
	if i < 0 {
		return fmt.Errorf("outbox record %s: %w", id, berr.ErrNotFound)
	}

	fn(&s.recs[i])

	return nil
}
