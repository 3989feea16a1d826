package cart

import (
	"github.com/google/uuid"
	"github.com/next-trace/scg-order-bus/domain"
)

// Wire names of the cart events that leave the process.
const (
	EventItemAdded   = "cart.item_added"
	EventItemRemoved = "cart.item_removed"
)

// CartCreated is staged when a new cart is opened.
type CartCreated struct {
	domain.Meta
	CartID uuid.UUID `json:"cartId"`
}

// CartItemAdded is staged when a product is put into a cart for the first time.
type CartItemAdded struct {
	domain.Meta
	CartID    uuid.UUID `json:"cartId"`
	ProductID int       `json:"productId"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
}

func (CartItemAdded) EventName() string { return EventItemAdded }

// CartItemQuantityUpdated is staged when the quantity of an existing line changes.
type CartItemQuantityUpdated struct {
	domain.Meta
	CartID      uuid.UUID `json:"cartId"`
	ProductID   int       `json:"productId"`
	OldQuantity int       `json:"oldQuantity"`
	NewQuantity int       `json:"newQuantity"`
}

// CartItemRemoved is staged when a line is removed from a cart.
type CartItemRemoved struct {
	domain.Meta
	CartID    uuid.UUID `json:"cartId"`
	ProductID int       `json:"productId"`
	Quantity  int       `json:"quantity"`
}

func (CartItemRemoved) EventName() string { return EventItemRemoved }

// CartCleared is staged when every line of a cart is removed at once.
type CartCleared struct {
	domain.Meta
	CartID uuid.UUID `json:"cartId"`
	Lines  int       `json:"lines"`
}
