package behavior

import (
	"context"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Authorizer decides whether the caller in ctx may issue req. Returning nil allows the request.
type Authorizer interface {
	Authorize(ctx context.Context, req any) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, req any) error

func (f AuthorizerFunc) Authorize(ctx context.Context, req any) error { return f(ctx, req) }

// Authorize rejects requests the Authorizer refuses. The handler is not invoked and the error
// always matches berr.ErrUnauthorized.
func Authorize(a Authorizer) cbus.Behavior {
	return func(next cbus.HandlerFunc) cbus.HandlerFunc {
		return func(ctx context.Context, req any) (any, error) {
			if err := a.Authorize(ctx, req); err != nil {
				if errors.Is(err, berr.ErrUnauthorized) {
					return nil, err
				}

				return nil, fmt.Errorf("authorize %s: %w: %w", RequestName(req), berr.ErrUnauthorized, err)
			}

			return next(ctx, req)
		}
	}
}
