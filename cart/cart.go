// Package cart is the shopping cart aggregate, its commands and their handlers.
package cart

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/domain"
	"github.com/samber/lo"
)

// Line is one product in a cart.
type Line struct {
	ProductID int     `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// Cart is the aggregate. Every mutation validates first and stages exactly one event as its
// last step; a rejected mutation leaves both state and pending events untouched.
type Cart struct {
	domain.Recorder

	id        uuid.UUID
	createdAt time.Time
	version   int
	lines     []Line
}

// New opens an empty cart and stages CartCreated.
func New(id uuid.UUID) *Cart {
	e := CartCreated{Meta: domain.NewMeta(), CartID: id}
	c := &Cart{id: id, createdAt: e.CreatedAt}
	c.Record(e)

	return c
}

func (c *Cart) ID() uuid.UUID { return c.id }

// Version is the persisted version this instance was loaded at; 0 for a cart never saved.
func (c *Cart) Version() int { return c.version }

func (c *Cart) CreatedAt() time.Time { return c.createdAt }

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []Line { return slices.Clone(c.lines) }

// Total is the sum of price times quantity over all lines.
func (c *Cart) Total() float64 {
	return lo.SumBy(c.lines, func(l Line) float64 { return l.Price * float64(l.Quantity) })
}

func (c *Cart) indexOf(productID int) int {
	return slices.IndexFunc(c.lines, func(l Line) bool { return l.ProductID == productID })
}

// AddItem puts qty units of a product into the cart. A product already in the cart has its
// quantity increased and stages CartItemQuantityUpdated; otherwise a new line is appended and
// CartItemAdded is staged.
func (c *Cart) AddItem(productID int, name string, price float64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("add product %d to cart %s: quantity %d: %w", productID, c.id, qty, berr.ErrInvalidQuantity)
	}

	if i := c.indexOf(productID); i >= 0 {
		old := c.lines[i].Quantity
		c.lines[i].Quantity = old + qty
		c.Record(CartItemQuantityUpdated{
			Meta:        domain.NewMeta(),
			CartID:      c.id,
			ProductID:   productID,
			OldQuantity: old,
			NewQuantity: old + qty,
		})

		return nil
	}

	c.lines = append(c.lines, Line{ProductID: productID, Name: name, Price: price, Quantity: qty})
	c.Record(CartItemAdded{
		Meta:      domain.NewMeta(),
		CartID:    c.id,
		ProductID: productID,
		Name:      name,
		Price:     price,
		Quantity:  qty,
	})

	return nil
}

// UpdateQuantity sets the quantity of an existing line. Setting the current quantity is a
// no-op and stages nothing.
func (c *Cart) UpdateQuantity(productID, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("update product %d in cart %s: quantity %d: %w", productID, c.id, qty, berr.ErrInvalidQuantity)
	}

	i := c.indexOf(productID)
	if i < 0 {
		return fmt.Errorf("update product %d in cart %s: %w", productID, c.id, berr.ErrNotFound)
	}

	old := c.lines[i].Quantity
	if old == qty {
		return nil
	}

	c.lines[i].Quantity = qty
	c.Record(CartItemQuantityUpdated{
		Meta:        domain.NewMeta(),
		CartID:      c.id,
		ProductID:   productID,
		OldQuantity: old,
		NewQuantity: qty,
	})

	return nil
}

// RemoveItem drops a line.
func (c *Cart) RemoveItem(productID int) error {
	i := c.indexOf(productID)
	if i < 0 {
		return fmt.Errorf("remove product %d from cart %s: %w", productID, c.id, berr.ErrNotFound)
	}

	removed := c.lines[i]
	c.lines = slices.Delete(c.lines, i, i+1)
	c.Record(CartItemRemoved{
		Meta:      domain.NewMeta(),
		CartID:    c.id,
		ProductID: productID,
		Quantity:  removed.Quantity,
	})

	return nil
}

// Clear drops every line. Clearing an empty cart stages nothing.
func (c *Cart) Clear() {
	if len(c.lines) == 0 {
		return
	}

	n := len(c.lines)
	c.lines = nil
	c.Record(CartCleared{Meta: domain.NewMeta(), CartID: c.id, Lines: n})
}

// Snapshot is the persisted form of a cart.
type Snapshot struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Version   int       `json:"version"`
	Lines     []Line    `json:"lines"`
}

// Snapshot captures the current state for a repository.
func (c *Cart) Snapshot() Snapshot {
	return Snapshot{ID: c.id, CreatedAt: c.createdAt, Version: c.version, Lines: c.Lines()}
}

// Restore rebuilds a cart from a snapshot with no pending events.
func Restore(s Snapshot) *Cart {
	return &Cart{id: s.ID, createdAt: s.CreatedAt, version: s.Version, lines: slices.Clone(s.Lines)}
}

// MarkPersisted records the version a repository stored the cart at.
func (c *Cart) MarkPersisted(version int) { c.version = version }
