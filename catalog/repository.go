package catalog

import "context"

// Repository persists products. Load returns berr.ErrNotFound for unknown or deleted
// products. Save follows the same optimistic version rule as cart.Repository.
type Repository interface {
	Load(ctx context.Context, id int) (*Product, error)
	Save(ctx context.Context, p *Product) error
}
