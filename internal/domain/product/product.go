package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist or is not
// active.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	Stock         int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Catalog is the read side used by the storefront and by order creation.
// Only active products are visible through it.
type Catalog interface {
	ListActive(ctx context.Context) ([]Product, error)
	GetActive(ctx context.Context, id int64) (*Product, error)
}

// Repository extends Catalog with the admin operations.
type Repository interface {
	Catalog

	List(ctx context.Context) ([]Product, error)
	Get(ctx context.Context, id int64) (*Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Deactivate(ctx context.Context, id int64) error
}
