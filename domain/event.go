// Package domain holds the aggregate side of event staging: event metadata, the pending event
// recorder aggregates embed, and the persist-then-publish helper handlers use.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every domain event through an embedded Meta.
type Event interface {
	EventID() uuid.UUID
	EventTime() time.Time
}

// Meta is the identity part of a domain event. Events embed it by value and are never
// mutated after construction.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMeta returns metadata with a fresh identifier and the current UTC time.
func NewMeta() Meta {
	return Meta{ID: uuid.New(), CreatedAt: time.Now().UTC()}
}

func (m Meta) EventID() uuid.UUID { return m.ID }

func (m Meta) EventTime() time.Time { return m.CreatedAt }
