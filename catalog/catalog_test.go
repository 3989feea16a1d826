package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-order-bus/catalog"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/servicebus"
	"github.com/next-trace/scg-order-bus/storage/memory"
)

func TestProduct_StockNeverNegative(t *testing.T) {
	p, err := catalog.NewProduct(1, "Widget", 10.99, 3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	p.DrainEvents()

	if err := p.AdjustStock(-4); !errors.Is(err, berr.ErrInvalidQuantity) {
		t.Fatalf("want invalid quantity, got %v", err)
	}

	if p.Stock() != 3 || len(p.PendingEvents()) != 0 {
		t.Fatalf("rejected adjustment changed state")
	}

	if err := p.AdjustStock(-3); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	ch := p.DrainEvents()[0].(catalog.ProductStockChanged)
	if ch.OldStock != 3 || ch.NewStock != 0 {
		t.Fatalf("unexpected payload: %+v", ch)
	}

	if _, err := catalog.NewProduct(2, "Gadget", 1, -1); !errors.Is(err, berr.ErrInvalidQuantity) {
		t.Fatalf("negative initial stock accepted")
	}
}

func TestProduct_DeleteOwnPayload(t *testing.T) {
	p, _ := catalog.NewProduct(1, "Widget", 10.99, 3)
	p.DrainEvents()

	if err := p.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}

	del, ok := p.DrainEvents()[0].(catalog.ProductDeleted)
	if !ok || del.Name != "Widget" || del.Stock != 3 || del.EventName() != catalog.EventProductDeleted {
		t.Fatalf("unexpected event %+v", del)
	}

	if err := p.Delete(); !errors.Is(err, berr.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}

	if err := p.AdjustStock(1); !errors.Is(err, berr.ErrNotFound) {
		t.Fatalf("adjust deleted: %v", err)
	}
}

type recorder struct{ events []cbus.Notification }

func (r *recorder) Publish(_ context.Context, n cbus.Notification) error {
	r.events = append(r.events, n)
	return nil
}

func TestHandlers(t *testing.T) {
	rec := &recorder{}
	reg := servicebus.NewRegistry()

	if err := catalog.Register(reg, catalog.NewHandlers(memory.NewProducts(), rec, nil)); err != nil {
		t.Fatalf("register: %v", err)
	}

	b := servicebus.New(reg, nil)
	ctx := t.Context()

	if err := b.Dispatch(ctx, catalog.CreateProduct{ID: 1, Name: "Widget", Price: 10.99, Stock: 10}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := b.Dispatch(ctx, catalog.CreateProduct{ID: 1, Name: "Widget", Price: 10.99, Stock: 10}); !errors.Is(err, berr.ErrConcurrencyConflict) {
		t.Fatalf("duplicate create: %v", err)
	}

	if err := b.Dispatch(ctx, catalog.AdjustProductStock{ProductID: 1, Delta: -2}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	v, err := servicebus.Ask[catalog.GetProduct, catalog.View](ctx, b, catalog.GetProduct{ProductID: 1})
	if err != nil || v.Stock != 8 || v.Version != 2 {
		t.Fatalf("get: %+v %v", v, err)
	}

	if err := b.Dispatch(ctx, catalog.DeleteProduct{ProductID: 1}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := servicebus.Ask[catalog.GetProduct, catalog.View](ctx, b, catalog.GetProduct{ProductID: 1}); !errors.Is(err, berr.ErrNotFound) {
		t.Fatalf("get deleted: %v", err)
	}

	want := []string{catalog.EventProductCreated, catalog.EventProductStockChanged, catalog.EventProductDeleted}
	if len(rec.events) != len(want) {
		t.Fatalf("want %d events, got %d", len(want), len(rec.events))
	}

	for i, e := range rec.events {
		if got := e.(cbus.CrossProcess).EventName(); got != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got, want[i])
		}
	}
}
