package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

const productColumns = `id, name, price, original_price, stock, is_active, created_at, updated_at`

const (
	listProductsSQL       = `SELECT ` + productColumns + ` FROM products ORDER BY id`
	listActiveProductsSQL = `SELECT ` + productColumns + ` FROM products WHERE is_active ORDER BY id`
	getProductSQL         = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getActiveProductSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1 AND is_active`

	createProductSQL = `INSERT INTO products (name, price, original_price, stock, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	updateProductSQL = `UPDATE products
		SET name = $2, price = $3, original_price = $4, stock = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`

	deactivateProductSQL = `UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db DBTX
}

// NewProductRepository returns a ProductRepository that uses the given pool
// or transaction.
func NewProductRepository(db DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// ListActive returns the products visible to customers ordered by ID.
func (r *ProductRepository) ListActive(ctx context.Context) ([]product.Product, error) {
	return r.list(ctx, listActiveProductsSQL)
}

// List returns every product, including deactivated ones.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	return r.list(ctx, listProductsSQL)
}

// GetActive returns an active product or product.ErrNotFound.
func (r *ProductRepository) GetActive(ctx context.Context, id int64) (*product.Product, error) {
	return r.get(ctx, getActiveProductSQL, id)
}

// Get returns a product regardless of its active flag.
func (r *ProductRepository) Get(ctx context.Context, id int64) (*product.Product, error) {
	return r.get(ctx, getProductSQL, id)
}

// Create inserts p and fills its ID and timestamps.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	err := r.db.QueryRow(ctx, createProductSQL,
		p.Name, p.Price, nullDecimal(p.OriginalPrice), p.Stock, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.Name, err)
	}
	return nil
}

// Update overwrites the editable fields of p.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	err := r.db.QueryRow(ctx, updateProductSQL,
		p.ID, p.Name, p.Price, nullDecimal(p.OriginalPrice), p.Stock, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.ErrNotFound
		}
		return fmt.Errorf("updating product %d: %w", p.ID, err)
	}
	return nil
}

// Deactivate hides a product from the storefront. Orders keep referencing it.
func (r *ProductRepository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deactivateProductSQL, id)
	if err != nil {
		return fmt.Errorf("deactivating product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (r *ProductRepository) list(ctx context.Context, query string) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *ProductRepository) get(ctx context.Context, query string, id int64) (*product.Product, error) {
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		original decimal.NullDecimal
		stock    int32
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &original, &stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if original.Valid {
		p.OriginalPrice = &original.Decimal
	}
	p.Stock = int(stock)
	return p, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
