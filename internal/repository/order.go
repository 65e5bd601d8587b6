package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/order"
)

const orderColumns = `id, order_code, customer_name, customer_phone, customer_address,
	product_id, product_name, product_price, color, size, quantity,
	voucher_code, discount_amount, total_price, note, status, created_at`

const (
	// createOrderSQL skips the insert on a code collision instead of raising
	// a unique violation, which would abort the surrounding transaction.
	createOrderSQL = `INSERT INTO orders (order_code, customer_name, customer_phone, customer_address,
		product_id, product_name, product_price, color, size, quantity,
		voucher_code, discount_amount, total_price, note, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (order_code) DO NOTHING
		RETURNING id, created_at`

	getOrderSQL       = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByCodeSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_code = $1`
	listOrdersSQL     = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses the given pool or
// transaction.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order and fills its ID and CreatedAt. Returns
// order.ErrDuplicateCode when the code is already taken.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.db.QueryRow(ctx, createOrderSQL,
		o.Code, o.CustomerName, o.CustomerPhone, o.CustomerAddress,
		o.ProductID, o.ProductName, o.ProductPrice, o.Color, o.Size, o.Quantity,
		o.VoucherCode, o.DiscountAmount, o.TotalPrice, o.Note, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrDuplicateCode
		}
		return fmt.Errorf("creating order %q: %w", o.Code, err)
	}
	return nil
}

// Get returns an order by ID or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id, fmt.Sprint(id))
}

// GetByCode returns an order by its public code or order.ErrNotFound.
func (r *OrderRepository) GetByCode(ctx context.Context, code string) (*order.Order, error) {
	return r.get(ctx, getOrderByCodeSQL, code, code)
}

// List returns a page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, limit, offset int) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus sets the fulfilment status of an order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status order.Status) error {
	tag, err := r.db.Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating order %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) get(ctx context.Context, query string, arg any, label string) (*order.Order, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %s: %w", label, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %s: %w", label, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o        order.Order
		quantity int32
		status   string
	)
	err := row.Scan(
		&o.ID, &o.Code, &o.CustomerName, &o.CustomerPhone, &o.CustomerAddress,
		&o.ProductID, &o.ProductName, &o.ProductPrice, &o.Color, &o.Size, &quantity,
		&o.VoucherCode, &o.DiscountAmount, &o.TotalPrice, &o.Note, &status, &o.CreatedAt,
	)
	o.Quantity = int(quantity)
	o.Status = order.Status(status)
	return o, err
}
