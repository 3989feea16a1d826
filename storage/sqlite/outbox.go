package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/outbox"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outbox is the SQLite outbox.Store. Append joins the transaction carried by ctx.
type Outbox struct {
	db *DB
}

var _ outbox.Store = (*Outbox)(nil)

func NewOutbox(db *DB) *Outbox { return &Outbox{db: db} }

func (o *Outbox) Append(ctx context.Context, recs ...outbox.Record) error {
	return o.db.inTx(ctx, func(q querier) error { return o.append(ctx, q, recs) })
}

func (o *Outbox) append(ctx context.Context, q querier, recs []outbox.Record) error {
	for _, r := range recs {
		props, err := json.Marshal(r.Envelope.Properties)
		if err != nil {
			return fmt.Errorf("outbox properties: %w", err)
		}

		if r.Status == "" {
			r.Status = outbox.StatusPending
		}

		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}

		if _, err := q.ExecContext(ctx, `
INSERT INTO outbox (id, topic, event_type, payload, properties, status, attempts, last_error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, r.ID.String(), r.Topic, r.Envelope.Type, r.Envelope.Payload, string(props),
			string(r.Status), r.Attempts, r.LastError, r.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert outbox record %s: %w", r.ID, err)
		}
	}

	return nil
}

func (o *Outbox) Pending(ctx context.Context, limit int) ([]outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = -1
	}

	rows, err := o.db.conn(ctx).QueryContext(ctx, `
SELECT id, topic, event_type, payload, properties, status, attempts, last_error, created_at
FROM outbox
WHERE status = ?
ORDER BY seq
LIMIT ?
`, string(outbox.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []outbox.Record

	for rows.Next() {
		var (
			r         outbox.Record
			id        string
			props     string
			status    string
			createdAt int64
		)

		if err := rows.Scan(&id, &r.Topic, &r.Envelope.Type, &r.Envelope.Payload, &props,
			&status, &r.Attempts, &r.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}

		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("outbox record id %q: %w", id, err)
		}

		if err := json.Unmarshal([]byte(props), &r.Envelope.Properties); err != nil {
			return nil, fmt.Errorf("outbox record %s properties: %w", id, err)
		}

		r.Status = outbox.Status(status)
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}

	return out, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := o.db.conn(ctx).ExecContext(ctx,
		`UPDATE outbox SET status = ?, sent_at = ? WHERE id = ?`,
		string(outbox.StatusSent), at.UnixNano(), id.String())

	return checkMarked(res, err, id)
}

func (o *Outbox) MarkAttempt(ctx context.Context, id uuid.UUID, cause error, giveUp bool) error {
	status := outbox.StatusPending
	if giveUp {
		status = outbox.StatusFailed
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	res, err := o.db.conn(ctx).ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ?, status = ? WHERE id = ?`,
		msg, string(status), id.String())

	return checkMarked(res, err, id)
}

// Counts returns the number of records per status.
func (o *Outbox) Counts(ctx context.Context) (map[outbox.Status]int, error) {
	rows, err := o.db.conn(ctx).QueryContext(ctx, `SELECT status, COUNT(1) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox: %w", err)
	}
	defer rows.Close()

	out := map[outbox.Status]int{}

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outbox count: %w", err)
		}

		out[outbox.Status(status)] = n
	}

	return out, rows.Err()
}

func checkMarked(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return fmt.Errorf("mark outbox record %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("mark outbox record %s: %w", id, berr.ErrNotFound)
	}

	return nil
}
