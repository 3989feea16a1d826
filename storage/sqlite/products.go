package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/next-trace/scg-order-bus/catalog"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/outbox"
)

// Products is the SQLite product repository. Deleted products stay in the table and are hidden
// from Load.
type Products struct {
	db *DB
	staging
}

var _ catalog.Repository = (*Products)(nil)

func NewProducts(db *DB, enq *outbox.Enqueuer) *Products {
	return &Products{db: db, staging: staging{outbox: NewOutbox(db), enq: enq}}
}

func (s *Products) Load(ctx context.Context, id int) (*catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := catalog.Snapshot{ID: id}

	err := s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT name, price, stock, deleted, version FROM products WHERE id = ?`, id).
		Scan(&snap.Name, &snap.Price, &snap.Stock, &snap.Deleted, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && snap.Deleted) {
		return nil, fmt.Errorf("load product %d: %w", id, berr.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", id, err)
	}

	return catalog.Restore(snap), nil
}

func (s *Products) Save(ctx context.Context, p *catalog.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := p.Snapshot()
	next := snap.Version + 1
	key := strconv.Itoa(snap.ID)

	err := s.db.inTx(ctx, func(q querier) error {
		var (
			res sql.Result
			err error
		)

		if snap.Version == 0 {
			res, err = q.ExecContext(ctx, `
INSERT INTO products (id, name, price, stock, deleted, version)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
`, snap.ID, snap.Name, snap.Price, snap.Stock, snap.Deleted, next)
		} else {
			res, err = q.ExecContext(ctx, `
UPDATE products SET name = ?, price = ?, stock = ?, deleted = ?, version = ?
WHERE id = ? AND version = ?
`, snap.Name, snap.Price, snap.Stock, snap.Deleted, next, snap.ID, snap.Version)
		}

		if err != nil {
			return fmt.Errorf("write product: %w", err)
		}

		if err := expectOne(res, "product", key, snap.Version); err != nil {
			return err
		}

		return s.enqueue(ctx, q, p.PendingEvents())
	})
	if err != nil {
		return fmt.Errorf("save product %d: %w", snap.ID, err)
	}

	p.MarkPersisted(next)

	return nil
}
