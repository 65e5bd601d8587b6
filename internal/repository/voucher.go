package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/voucher"
)

const voucherColumns = `id, code, discount_amount, valid_from, valid_to, usage_limit, used_count, is_active, created_at`

const (
	getVoucherByCodeSQL = `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = UPPER(BTRIM($1))`
	getVoucherSQL       = `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`
	listVouchersSQL     = `SELECT ` + voucherColumns + ` FROM vouchers ORDER BY created_at DESC, id DESC`

	// consumeVoucherSQL checks the cap and increments in one statement. Under
	// concurrent redemption the row lock serializes updates and the WHERE
	// clause is re-evaluated against the committed used_count.
	consumeVoucherSQL = `UPDATE vouchers SET used_count = used_count + 1
		WHERE id = $1 AND is_active AND (usage_limit = 0 OR used_count < usage_limit)`

	createVoucherSQL = `INSERT INTO vouchers (code, discount_amount, valid_from, valid_to, usage_limit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, used_count, created_at`

	updateVoucherSQL = `UPDATE vouchers
		SET code = $2, discount_amount = $3, valid_from = $4, valid_to = $5, usage_limit = $6, is_active = $7
		WHERE id = $1
		RETURNING used_count, created_at`

	deleteVoucherSQL = `DELETE FROM vouchers WHERE id = $1`
)

var _ voucher.Repository = (*VoucherRepository)(nil)

// VoucherRepository implements voucher.Repository backed by PostgreSQL.
type VoucherRepository struct {
	db DBTX
}

// NewVoucherRepository returns a VoucherRepository that uses the given pool
// or transaction.
func NewVoucherRepository(db DBTX) *VoucherRepository {
	return &VoucherRepository{db: db}
}

// FindByCode looks up a voucher by code (case-insensitive). Returns
// voucher.ErrInvalidVoucher when no voucher has that code.
func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (*voucher.Voucher, error) {
	rows, err := r.db.Query(ctx, getVoucherByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding voucher by code %q: %w", code, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVoucher)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrInvalidVoucher
		}
		return nil, fmt.Errorf("finding voucher by code %q: %w", code, err)
	}
	return &v, nil
}

// Consume records one redemption. It returns voucher.ErrVoucherLimit when
// the conditional update matches no row.
func (r *VoucherRepository) Consume(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, consumeVoucherSQL, id)
	if err != nil {
		return fmt.Errorf("consuming voucher %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return voucher.ErrVoucherLimit
	}
	return nil
}

// List returns all vouchers, newest first.
func (r *VoucherRepository) List(ctx context.Context) ([]voucher.Voucher, error) {
	rows, err := r.db.Query(ctx, listVouchersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}
	return pgx.CollectRows(rows, scanVoucher)
}

// Get returns a voucher by ID or voucher.ErrNotFound.
func (r *VoucherRepository) Get(ctx context.Context, id int64) (*voucher.Voucher, error) {
	rows, err := r.db.Query(ctx, getVoucherSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting voucher %d: %w", id, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVoucher)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrNotFound
		}
		return nil, fmt.Errorf("getting voucher %d: %w", id, err)
	}
	return &v, nil
}

// Create inserts v and fills ID, UsedCount and CreatedAt.
func (r *VoucherRepository) Create(ctx context.Context, v *voucher.Voucher) error {
	var used int32
	err := r.db.QueryRow(ctx, createVoucherSQL,
		v.Code, v.DiscountAmount, v.ValidFrom, v.ValidTo, v.UsageLimit, v.IsActive,
	).Scan(&v.ID, &used, &v.CreatedAt)
	if err != nil {
		return voucherWriteError(err, "creating voucher %q", v.Code)
	}
	v.UsedCount = int(used)
	return nil
}

// Update overwrites the admin-editable fields. used_count is never written
// here; lowering usage_limit below it fails with
// voucher.ErrInvalidDefinition.
func (r *VoucherRepository) Update(ctx context.Context, v *voucher.Voucher) error {
	var used int32
	err := r.db.QueryRow(ctx, updateVoucherSQL,
		v.ID, v.Code, v.DiscountAmount, v.ValidFrom, v.ValidTo, v.UsageLimit, v.IsActive,
	).Scan(&used, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return voucher.ErrNotFound
		}
		return voucherWriteError(err, "updating voucher %d", v.ID)
	}
	v.UsedCount = int(used)
	return nil
}

// Delete removes a voucher. Orders keep the code as plain text.
func (r *VoucherRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deleteVoucherSQL, id)
	if err != nil {
		return fmt.Errorf("deleting voucher %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return voucher.ErrNotFound
	}
	return nil
}

func voucherWriteError(err error, format string, args ...any) error {
	switch pgErrorCode(err) {
	case uniqueViolation:
		return voucher.ErrDuplicateCode
	case checkViolation:
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), voucher.ErrInvalidDefinition)
	default:
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
}

func scanVoucher(row pgx.CollectableRow) (voucher.Voucher, error) {
	var (
		v     voucher.Voucher
		limit int32
		used  int32
	)
	err := row.Scan(
		&v.ID, &v.Code, &v.DiscountAmount, &v.ValidFrom, &v.ValidTo,
		&limit, &used, &v.IsActive, &v.CreatedAt,
	)
	v.UsageLimit = int(limit)
	v.UsedCount = int(used)
	return v, err
}
