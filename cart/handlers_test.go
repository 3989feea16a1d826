package cart_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/next-trace/scg-order-bus/cart"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/servicebus"
	"github.com/next-trace/scg-order-bus/storage/memory"
)

type recorder struct {
	events []cbus.Notification
}

func (r *recorder) Publish(_ context.Context, n cbus.Notification) error {
	r.events = append(r.events, n)
	return nil
}

func newBus(t *testing.T, repo cart.Repository) (*servicebus.Bus, *recorder) {
	t.Helper()

	rec := &recorder{}
	reg := servicebus.NewRegistry()

	if err := cart.Register(reg, cart.NewHandlers(repo, rec, nil)); err != nil {
		t.Fatalf("register: %v", err)
	}

	return servicebus.New(reg, nil), rec
}

func TestHandlers_EndToEnd(t *testing.T) {
	b, rec := newBus(t, memory.NewCarts())
	ctx := t.Context()

	id, err := servicebus.Execute[cart.CreateCart, uuid.UUID](ctx, b, cart.CreateCart{})
	if err != nil || id == uuid.Nil {
		t.Fatalf("create: id=%s err=%v", id, err)
	}

	if err := b.Dispatch(ctx, cart.AddItemToCart{CartID: id, ProductID: 1, Name: "Widget", Price: 10.99, Quantity: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := b.Dispatch(ctx, cart.AddItemToCart{CartID: id, ProductID: 1, Name: "Widget", Price: 10.99, Quantity: 3}); err != nil {
		t.Fatalf("add again: %v", err)
	}

	if len(rec.events) != 3 {
		t.Fatalf("want 3 events, got %d", len(rec.events))
	}

	if _, ok := rec.events[0].(cart.CartCreated); !ok {
		t.Fatalf("first event %T", rec.events[0])
	}

	if _, ok := rec.events[1].(cart.CartItemAdded); !ok {
		t.Fatalf("second event %T", rec.events[1])
	}

	if upd, ok := rec.events[2].(cart.CartItemQuantityUpdated); !ok || upd.OldQuantity != 2 || upd.NewQuantity != 5 {
		t.Fatalf("third event %+v", rec.events[2])
	}

	view, err := servicebus.Ask[cart.GetCart, cart.View](ctx, b, cart.GetCart{CartID: id})
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if len(view.Lines) != 1 || view.Lines[0].Quantity != 5 || view.Version != 3 {
		t.Fatalf("view: %+v", view)
	}
}

func TestHandlers_UpdateMissingCart(t *testing.T) {
	b, rec := newBus(t, memory.NewCarts())

	_, err := b.Send(t.Context(), cart.UpdateCartItemQuantity{CartID: uuid.New(), ProductID: 1, Quantity: 2})
	if !errors.Is(err, berr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}

	if len(rec.events) != 0 {
		t.Fatalf("publish called %d times", len(rec.events))
	}
}

type failingRepo struct {
	cart.Repository
}

func (failingRepo) Save(context.Context, *cart.Cart) error { return errors.New("disk full") }

func TestHandlers_SaveFailurePublishesNothing(t *testing.T) {
	b, rec := newBus(t, failingRepo{Repository: memory.NewCarts()})

	if _, err := servicebus.Execute[cart.CreateCart, uuid.UUID](t.Context(), b, cart.CreateCart{}); err == nil {
		t.Fatalf("want save error")
	}

	if len(rec.events) != 0 {
		t.Fatalf("publish called %d times", len(rec.events))
	}
}

func TestHandlers_NoOpMutationDoesNotSave(t *testing.T) {
	repo := memory.NewCarts()
	b, rec := newBus(t, repo)
	ctx := t.Context()

	id, _ := servicebus.Execute[cart.CreateCart, uuid.UUID](ctx, b, cart.CreateCart{})

	if err := b.Dispatch(ctx, cart.ClearCart{CartID: id}); err != nil {
		t.Fatalf("clear: %v", err)
	}

	c, _ := repo.Load(ctx, id)
	if c.Version() != 1 || len(rec.events) != 1 {
		t.Fatalf("version=%d events=%d", c.Version(), len(rec.events))
	}
}
