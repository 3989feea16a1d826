// Package catalog is the product aggregate the carts refer to by id.
package catalog

import (
	"fmt"

	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/domain"
)

// Product is the catalog aggregate.
type Product struct {
	domain.Recorder

	id      int
	name    string
	price   float64
	stock   int
	deleted bool
	version int
}

// NewProduct creates a product and stages ProductCreated.
func NewProduct(id int, name string, price float64, stock int) (*Product, error) {
	if stock < 0 {
		return nil, fmt.Errorf("create product %d: stock %d: %w", id, stock, berr.ErrInvalidQuantity)
	}

	p := &Product{id: id, name: name, price: price, stock: stock}
	p.Record(ProductCreated{Meta: domain.NewMeta(), ProductID: id, Name: name, Price: price, Stock: stock})

	return p, nil
}

func (p *Product) ID() int        { return p.id }
func (p *Product) Name() string   { return p.name }
func (p *Product) Price() float64 { return p.price }
func (p *Product) Stock() int     { return p.stock }
func (p *Product) Deleted() bool  { return p.deleted }
func (p *Product) Version() int   { return p.version }

// AdjustStock adds delta (which may be negative) to the stock. Stock never goes below zero and
// a zero delta stages nothing.
func (p *Product) AdjustStock(delta int) error {
	if p.deleted {
		return fmt.Errorf("adjust product %d: %w", p.id, berr.ErrNotFound)
	}

	next := p.stock + delta
	if next < 0 {
		return fmt.Errorf("adjust product %d: stock %d%+d: %w", p.id, p.stock, delta, berr.ErrInvalidQuantity)
	}

	if delta == 0 {
		return nil
	}

	old := p.stock
	p.stock = next
	p.Record(ProductStockChanged{Meta: domain.NewMeta(), ProductID: p.id, OldStock: old, NewStock: next})

	return nil
}

// Delete marks the product deleted. Repositories stop returning deleted products.
func (p *Product) Delete() error {
	if p.deleted {
		return fmt.Errorf("delete product %d: %w", p.id, berr.ErrNotFound)
	}

	p.deleted = true
	p.Record(ProductDeleted{Meta: domain.NewMeta(), ProductID: p.id, Name: p.name, Stock: p.stock})

	return nil
}

// Snapshot is the persisted form of a product.
type Snapshot struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Stock   int     `json:"stock"`
	Deleted bool    `json:"deleted"`
	Version int     `json:"version"`
}

func (p *Product) Snapshot() Snapshot {
	return Snapshot{ID: p.id, Name: p.name, Price: p.price, Stock: p.stock, Deleted: p.deleted, Version: p.version}
}

// Restore rebuilds a product with no pending events.
func Restore(s Snapshot) *Product {
	return &Product{id: s.ID, name: s.Name, price: s.Price, stock: s.Stock, deleted: s.Deleted, version: s.Version}
}

// MarkPersisted records the version a repository stored the product at.
func (p *Product) MarkPersisted(version int) { p.version = version }
