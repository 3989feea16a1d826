package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/domain"
	"github.com/next-trace/scg-order-bus/servicebus"
)

type Handlers struct {
	repo   Repository
	pub    cbus.Publisher
	logger *slog.Logger
}

func NewHandlers(repo Repository, pub cbus.Publisher, logger *slog.Logger) *Handlers {
	return &Handlers{repo: repo, pub: pub, logger: logger}
}

// Register binds every catalog request to h.
func Register(r *servicebus.Registry, h *Handlers) error {
	return errors.Join(
		servicebus.RegisterCommandFunc(r, h.Create),
		servicebus.RegisterCommandFunc(r, h.AdjustStock),
		servicebus.RegisterCommandFunc(r, h.Delete),
		servicebus.RegisterQueryFunc(r, h.Get),
	)
}

func (h *Handlers) save(ctx context.Context, p *Product) error {
	return domain.SaveAndPublish(ctx, h.repo.Save, p, h.pub, h.logger)
}

func (h *Handlers) Create(ctx context.Context, cmd CreateProduct) error {
	p, err := NewProduct(cmd.ID, cmd.Name, cmd.Price, cmd.Stock)
	if err != nil {
		return err
	}

	if err := h.save(ctx, p); err != nil {
		if errors.Is(err, berr.ErrConcurrencyConflict) {
			return fmt.Errorf("create product %d: already exists: %w", cmd.ID, err)
		}

		return err
	}

	return nil
}

func (h *Handlers) AdjustStock(ctx context.Context, cmd AdjustProductStock) error {
	p, err := h.repo.Load(ctx, cmd.ProductID)
	if err != nil {
		return err
	}

	if err := p.AdjustStock(cmd.Delta); err != nil {
		return err
	}

	if len(p.PendingEvents()) == 0 {
		return nil
	}

	return h.save(ctx, p)
}

func (h *Handlers) Delete(ctx context.Context, cmd DeleteProduct) error {
	p, err := h.repo.Load(ctx, cmd.ProductID)
	if err != nil {
		return err
	}

	if err := p.Delete(); err != nil {
		return err
	}

	return h.save(ctx, p)
}

func (h *Handlers) Get(ctx context.Context, q GetProduct) (View, error) {
	p, err := h.repo.Load(ctx, q.ProductID)
	if err != nil {
		return View{}, err
	}

	return View{ID: p.ID(), Name: p.Name(), Price: p.Price(), Stock: p.Stock(), Version: p.Version()}, nil
}
