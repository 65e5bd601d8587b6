package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
)

// Status is the fulfilment state of an order. Only admins change it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipping  Status = "shipping"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrNotFound is returned when an order lookup matches nothing.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateCode is returned by Repository.Create when the order code
	// is already taken. The order is not inserted.
	ErrDuplicateCode = errors.New("order code already exists")
	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("invalid order status")
)

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusShipping, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", errors.Wrapf(ErrInvalidStatus, "%q", s)
	}
}

// Order is a single-line-item purchase. Product name and price are a
// snapshot taken at creation time; totals are never recomputed.
type Order struct {
	ID              int64
	Code            string
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	ProductID       int64
	ProductName     string
	ProductPrice    decimal.Decimal
	Color           string
	Size            string
	Quantity        int
	VoucherCode     string
	DiscountAmount  decimal.Decimal
	TotalPrice      decimal.Decimal
	Note            string
	Status          Status
	CreatedAt       time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order and fills ID and CreatedAt. It returns
	// ErrDuplicateCode without failing the surrounding transaction when the
	// code is taken.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetByCode(ctx context.Context, code string) (*Order, error)
	List(ctx context.Context, limit, offset int) ([]Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

// Tx exposes the repositories bound to a single database transaction.
type Tx interface {
	Products() product.Catalog
	Vouchers() voucher.Repository
	Orders() Repository
}

// Transactor runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Publisher announces committed orders to other systems.
type Publisher interface {
	OrderCreated(ctx context.Context, o *Order) error
}

type nopPublisher struct{}

func (nopPublisher) OrderCreated(context.Context, *Order) error { return nil }
