// Package memory holds map-backed repositories with the same optimistic versioning rules as the
// sqlite store. They are safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/next-trace/scg-order-bus/cart"
	"github.com/next-trace/scg-order-bus/catalog"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

type Carts struct {
	mu    sync.RWMutex
	items map[uuid.UUID]cart.Snapshot
}

func NewCarts() *Carts {
	return &Carts{items: make(map[uuid.UUID]cart.Snapshot)}
}

var _ cart.Repository = (*Carts)(nil)

func (s *Carts) Load(ctx context.Context, id uuid.UUID) (*cart.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snap, ok := s.items[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("load cart %s: %w", id, berr.ErrNotFound)
	}

	return cart.Restore(snap), nil
}

func (s *Carts) Save(ctx context.Context, c *cart.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := c.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored := s.items[snap.ID].Version; stored != snap.Version {
		return fmt.Errorf("save cart %s: stored version %d, have %d: %w",
			snap.ID, stored, snap.Version, berr.ErrConcurrencyConflict)
	}

	snap.Version++
	s.items[snap.ID] = snap
	c.MarkPersisted(snap.Version)

	return nil
}

type Products struct {
	mu    sync.RWMutex
	items map[int]catalog.Snapshot
}

func NewProducts() *Products {
	return &Products{items: make(map[int]catalog.Snapshot)}
}

var _ catalog.Repository = (*Products)(nil)

func (s *Products) Load(ctx context.Context, id int) (*catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snap, ok := s.items[id]
	s.mu.RUnlock()

	if !ok || snap.Deleted {
		return nil, fmt.Errorf("load product %d: %w", id, berr.ErrNotFound)
	}

	return catalog.Restore(snap), nil
}

func (s *Products) Save(ctx context.Context, p *catalog.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := p.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored := s.items[snap.ID].Version; stored != snap.Version {
		return fmt.Errorf("save product %d: stored version %d, have %d: %w",
			snap.ID, stored, snap.Version, berr.ErrConcurrencyConflict)
	}

	snap.Version++
	s.items[snap.ID] = snap
	p.MarkPersisted(snap.Version)

	return nil
}
