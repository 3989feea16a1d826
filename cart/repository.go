package cart

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists carts atomically.
//
// Load returns berr.ErrNotFound for unknown ids. Save stores the cart only if the stored
// version still equals c.Version() (0 for a new cart) and returns berr.ErrConcurrencyConflict
// otherwise; on success it calls c.MarkPersisted with the new version.
type Repository interface {
	Load(ctx context.Context, id uuid.UUID) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
}
