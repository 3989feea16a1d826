package catalog

import "github.com/next-trace/scg-order-bus/domain"

// Wire names of catalog events. All of them are published to other services.
const (
	EventProductCreated      = "catalog.product_created"
	EventProductStockChanged = "catalog.product_stock_changed"
	EventProductDeleted      = "catalog.product_deleted"
)

type ProductCreated struct {
	domain.Meta
	ProductID int     `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Stock     int     `json:"stock"`
}

func (ProductCreated) EventName() string { return EventProductCreated }

type ProductStockChanged struct {
	domain.Meta
	ProductID int `json:"productId"`
	OldStock  int `json:"oldStock"`
	NewStock  int `json:"newStock"`
}

func (ProductStockChanged) EventName() string { return EventProductStockChanged }

// ProductDeleted carries the last known name and stock of the removed product.
type ProductDeleted struct {
	domain.Meta
	ProductID int    `json:"productId"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
}

func (ProductDeleted) EventName() string { return EventProductDeleted }
