package behavior

import (
	"context"
	"fmt"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/txn"
)

// Transaction runs the rest of the pipeline inside one storage transaction. It commits when
// next succeeds and only then runs the after-commit hooks collected on the way (event
// publication). Any error, or a panic, rolls back and discards the hooks. Requests already
// inside a unit of work join it.
func Transaction(b txn.Beginner) cbus.Behavior {
	return func(next cbus.HandlerFunc) cbus.HandlerFunc {
		return func(ctx context.Context, req any) (res any, err error) {
			if txn.InScope(ctx) {
				return next(ctx, req)
			}

			outer := ctx
			ctx, scope := txn.WithScope(ctx)

			ctx, tx, err := b.Begin(ctx)
			if err != nil {
				return nil, fmt.Errorf("begin %s: %w: %w", RequestName(req), berr.ErrTransactionFailed, err)
			}

			done := false
			defer func() {
				if !done {
					scope.Discard()
					_ = tx.Rollback()
				}
			}()

			res, err = next(ctx, req)
			if err != nil {
				return nil, err
			}

			done = true
			if cerr := tx.Commit(); cerr != nil {
				scope.Discard()
				return nil, fmt.Errorf("commit %s: %w: %w", RequestName(req), berr.ErrTransactionFailed, cerr)
			}

			// hooks must not see the finished transaction
			scope.Run(outer)

			return res, nil
		}
	}
}
