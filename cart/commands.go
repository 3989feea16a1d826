package cart

import "github.com/google/uuid"

// CreateCart opens a cart and returns its id. ID may be preset by the caller for idempotent
// creation; a zero ID gets a fresh one.
type CreateCart struct {
	ID uuid.UUID `json:"id"`
}

type AddItemToCart struct {
	CartID    uuid.UUID `json:"cartId" validate:"required"`
	ProductID int       `json:"productId" validate:"gt=0"`
	Name      string    `json:"name" validate:"required"`
	Price     float64   `json:"price" validate:"gte=0"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

type UpdateCartItemQuantity struct {
	CartID    uuid.UUID `json:"cartId" validate:"required"`
	ProductID int       `json:"productId" validate:"gt=0"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

type RemoveCartItem struct {
	CartID    uuid.UUID `json:"cartId" validate:"required"`
	ProductID int       `json:"productId" validate:"gt=0"`
}

type ClearCart struct {
	CartID uuid.UUID `json:"cartId" validate:"required"`
}

// GetCart is answered with a View.
type GetCart struct {
	CartID uuid.UUID `json:"cartId" validate:"required"`
}

// View is the read shape of a cart.
type View struct {
	ID      uuid.UUID `json:"id"`
	Version int       `json:"version"`
	Lines   []Line    `json:"lines"`
	Total   float64   `json:"total"`
}
