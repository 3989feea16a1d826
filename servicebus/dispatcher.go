package servicebus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Dispatcher routes a request to its single registered handler through the behavior pipeline.
// It is stateless per call and safe for concurrent use; composed pipelines are cached per
// request type on first use.
type Dispatcher struct {
	reg    *Registry
	logger *slog.Logger
	routes sync.Map // reflect.Type -> route
}

// NewDispatcher seals reg and returns a dispatcher over it.
func NewDispatcher(reg *Registry, logger *slog.Logger) *Dispatcher {
	reg.seal()

	return &Dispatcher{reg: reg, logger: orDiscard(logger)}
}

// Send routes req to its handler and returns the handler's result (nil for plain commands).
// Errors from behaviors and handlers are returned unchanged.
func (d *Dispatcher) Send(ctx context.Context, req any) (any, error) {
	return d.request(ctx, req, 0)
}

// Dispatch executes a command and discards any response.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd cbus.Command) error {
	_, err := d.request(ctx, cmd, KindCommand)
	return err
}

// request resolves and runs the pipeline. want == 0 accepts every kind; KindCommand accepts
// both command kinds.
func (d *Dispatcher) request(ctx context.Context, req any, want Kind) (any, error) {
	t := reflect.TypeOf(req)

	rt, err := d.resolve(t)
	if err != nil {
		return nil, err
	}

	if !kindAccepts(want, rt.kind) {
		return nil, fmt.Errorf("send %s: registered as %s, not %s: %w",
			typeString(t), rt.kind, want, berr.ErrHandlerTypeMismatch)
	}

	return rt.chain(ctx, req)
}

func kindAccepts(want, got Kind) bool {
	switch want {
	case 0:
		return true
	case KindCommand:
		return got.isCommand()
	default:
		return want == got
	}
}

func (d *Dispatcher) resolve(t reflect.Type) (route, error) {
	if v, ok := d.routes.Load(t); ok {
		return v.(route), nil
	}

	h, ok := d.reg.resolveHandler(t)
	if !ok {
		return route{}, fmt.Errorf("dispatch %s: %w", typeString(t), berr.ErrHandlerNotFound)
	}

	rt := buildPipeline(t, h, d.reg.behaviors)
	v, _ := d.routes.LoadOrStore(t, rt)

	return v.(route), nil
}

// requester is satisfied by Dispatcher and everything embedding it.
type requester interface {
	request(ctx context.Context, req any, want Kind) (any, error)
}

// Execute sends a command registered with RegisterCommandWithResponse and returns its typed result.
func Execute[C cbus.Command, R any](ctx context.Context, d requester, cmd C) (R, error) {
	return typed[R](d.request(ctx, cmd, KindCommandWithResponse))
}

// Ask executes a query handler synchronously and returns the typed result.
func Ask[Q cbus.Query, R any](ctx context.Context, d requester, q Q) (R, error) {
	return typed[R](d.request(ctx, q, KindQuery))
}

func typed[R any](res any, err error) (R, error) {
	var zero R
	if err != nil {
		return zero, err
	}

	if res == nil {
		return zero, nil
	}

	r, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("result %T: %w", res, berr.ErrHandlerTypeMismatch)
	}

	return r, nil
}

// Chain executes commands in order and stops on the first error.
func (d *Dispatcher) Chain(ctx context.Context, cmds ...cbus.Command) error {
	for _, c := range cmds {
		if err := d.Dispatch(ctx, c); err != nil {
			return err
		}
	}

	return nil
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}

	return l
}
