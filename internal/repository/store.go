package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
)

var _ order.Transactor = (*Store)(nil)

// Store runs order workflows in PostgreSQL transactions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that begins transactions on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx begins a read-committed transaction, hands fn repositories bound to
// it, and commits when fn returns nil. Any error or panic rolls back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, txRepos{db: tx})
	})
}

type txRepos struct {
	db pgx.Tx
}

func (t txRepos) Products() product.Catalog { return NewProductRepository(t.db) }
func (t txRepos) Vouchers() voucher.Repository { return NewVoucherRepository(t.db) }
func (t txRepos) Orders() order.Repository { return NewOrderRepository(t.db) }
