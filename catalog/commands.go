package catalog

type CreateProduct struct {
	ID    int     `json:"id" validate:"gt=0"`
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price" validate:"gte=0"`
	Stock int     `json:"stock" validate:"gte=0"`
}

// AdjustProductStock adds Delta to the stock; negative deltas take stock out.
type AdjustProductStock struct {
	ProductID int `json:"productId" validate:"gt=0"`
	Delta     int `json:"delta"`
}

type DeleteProduct struct {
	ProductID int `json:"productId" validate:"gt=0"`
}

type GetProduct struct {
	ProductID int `json:"productId" validate:"gt=0"`
}

type View struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Stock   int     `json:"stock"`
	Version int     `json:"version"`
}
