package cart

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	"github.com/next-trace/scg-order-bus/domain"
	"github.com/next-trace/scg-order-bus/servicebus"
)

// Handlers implements the cart commands and queries over a Repository. Every command loads,
// mutates, then persists and publishes through domain.SaveAndPublish.
type Handlers struct {
	repo   Repository
	pub    cbus.Publisher
	logger *slog.Logger
}

func NewHandlers(repo Repository, pub cbus.Publisher, logger *slog.Logger) *Handlers {
	return &Handlers{repo: repo, pub: pub, logger: logger}
}

// Register binds every cart request to h.
func Register(r *servicebus.Registry, h *Handlers) error {
	return errors.Join(
		servicebus.RegisterCommandWithResponseFunc(r, h.CreateCart),
		servicebus.RegisterCommandFunc(r, h.AddItem),
		servicebus.RegisterCommandFunc(r, h.UpdateQuantity),
		servicebus.RegisterCommandFunc(r, h.RemoveItem),
		servicebus.RegisterCommandFunc(r, h.Clear),
		servicebus.RegisterQueryFunc(r, h.Get),
	)
}

func (h *Handlers) save(ctx context.Context, c *Cart) error {
	return domain.SaveAndPublish(ctx, h.repo.Save, c, h.pub, h.logger)
}

func (h *Handlers) CreateCart(ctx context.Context, cmd CreateCart) (uuid.UUID, error) {
	id := cmd.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	c := New(id)
	if err := h.save(ctx, c); err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

func (h *Handlers) AddItem(ctx context.Context, cmd AddItemToCart) error {
	return h.mutate(ctx, cmd.CartID, func(c *Cart) error {
		return c.AddItem(cmd.ProductID, cmd.Name, cmd.Price, cmd.Quantity)
	})
}

func (h *Handlers) UpdateQuantity(ctx context.Context, cmd UpdateCartItemQuantity) error {
	return h.mutate(ctx, cmd.CartID, func(c *Cart) error {
		return c.UpdateQuantity(cmd.ProductID, cmd.Quantity)
	})
}

func (h *Handlers) RemoveItem(ctx context.Context, cmd RemoveCartItem) error {
	return h.mutate(ctx, cmd.CartID, func(c *Cart) error {
		return c.RemoveItem(cmd.ProductID)
	})
}

func (h *Handlers) Clear(ctx context.Context, cmd ClearCart) error {
	return h.mutate(ctx, cmd.CartID, func(c *Cart) error {
		c.Clear()
		return nil
	})
}

func (h *Handlers) mutate(ctx context.Context, id uuid.UUID, fn func(*Cart) error) error {
	c, err := h.repo.Load(ctx, id)
	if err != nil {
		return err
	}

	if err := fn(c); err != nil {
		return err
	}

	if len(c.PendingEvents()) == 0 {
		return nil
	}

	return h.save(ctx, c)
}

func (h *Handlers) Get(ctx context.Context, q GetCart) (View, error) {
	c, err := h.repo.Load(ctx, q.CartID)
	if err != nil {
		return View{}, err
	}

	return View{ID: c.ID(), Version: c.Version(), Lines: c.Lines(), Total: c.Total()}, nil
}
