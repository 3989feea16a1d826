package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/next-trace/scg-order-bus/cart"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/outbox"
)

// Carts is the SQLite cart repository. When an Enqueuer is set, Save writes the cart's
// cross-process events to the outbox in the same transaction.
type Carts struct {
	db *DB
	staging
}

var _ cart.Repository = (*Carts)(nil)

func NewCarts(db *DB, enq *outbox.Enqueuer) *Carts {
	return &Carts{db: db, staging: staging{outbox: NewOutbox(db), enq: enq}}
}

func (s *Carts) Load(ctx context.Context, id uuid.UUID) (*cart.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := s.db.conn(ctx)
	snap := cart.Snapshot{ID: id}

	var createdAt int64

	err := q.QueryRowContext(ctx, `SELECT created_at, version FROM carts WHERE id = ?`, id.String()).
		Scan(&createdAt, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load cart %s: %w", id, berr.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("load cart %s: %w", id, err)
	}

	snap.CreatedAt = time.Unix(0, createdAt).UTC()

	rows, err := q.QueryContext(ctx, `
SELECT product_id, name, price, quantity
FROM cart_lines
WHERE cart_id = ?
ORDER BY position
`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load cart %s lines: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l cart.Line
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Price, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}

		snap.Lines = append(snap.Lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}

	return cart.Restore(snap), nil
}

func (s *Carts) Save(ctx context.Context, c *cart.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := c.Snapshot()
	next := snap.Version + 1

	err := s.db.inTx(ctx, func(q querier) error {
		if snap.Version == 0 {
			res, err := q.ExecContext(ctx,
				`INSERT INTO carts (id, created_at, version) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
				snap.ID.String(), snap.CreatedAt.UnixNano(), next)
			if err != nil {
				return fmt.Errorf("insert cart: %w", err)
			}

			if err := expectOne(res, "cart", snap.ID.String(), snap.Version); err != nil {
				return err
			}
		} else {
			res, err := q.ExecContext(ctx,
				`UPDATE carts SET version = ? WHERE id = ? AND version = ?`,
				next, snap.ID.String(), snap.Version)
			if err != nil {
				return fmt.Errorf("update cart: %w", err)
			}

			if err := expectOne(res, "cart", snap.ID.String(), snap.Version); err != nil {
				return err
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = ?`, snap.ID.String()); err != nil {
			return fmt.Errorf("clear cart lines: %w", err)
		}

		for i, l := range snap.Lines {
			if _, err := q.ExecContext(ctx, `
INSERT INTO cart_lines (cart_id, position, product_id, name, price, quantity)
VALUES (?, ?, ?, ?, ?, ?)
`, snap.ID.String(), i, l.ProductID, l.Name, l.Price, l.Quantity); err != nil {
				return fmt.Errorf("insert cart line: %w", err)
			}
		}

		return s.enqueue(ctx, q, c.PendingEvents())
	})
	if err != nil {
		return fmt.Errorf("save cart %s: %w", snap.ID, err)
	}

	c.MarkPersisted(next)

	return nil
}

// staging writes the cross-process events of an aggregate to the outbox.
type staging struct {
	outbox *Outbox
	enq    *outbox.Enqueuer
}

func (s staging) enqueue(ctx context.Context, q querier, events []cbus.Notification) error {
	if s.enq == nil || len(events) == 0 {
		return nil
	}

	recs, err := s.enq.Records(ctx, events)
	if err != nil {
		return err
	}

	return s.outbox.append(ctx, q, recs)
}

// expectOne turns an update that matched no row into a version conflict.
func expectOne(res sql.Result, kind, id string, version int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n != 1 {
		return fmt.Errorf("%s %s at version %d: %w", kind, id, version, berr.ErrConcurrencyConflict)
	}

	return nil
}
