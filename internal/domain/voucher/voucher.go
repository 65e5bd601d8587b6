package voucher

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidVoucher is returned when no active voucher matches the code
	// at the given time.
	ErrInvalidVoucher = errors.New("invalid voucher")
	// ErrVoucherLimit is returned when a limited voucher has no uses left.
	ErrVoucherLimit = errors.New("voucher usage limit reached")
	// ErrNotFound is returned by admin lookups by id.
	ErrNotFound = errors.New("voucher not found")
	// ErrDuplicateCode is returned when creating or renaming a voucher onto
	// an existing code.
	ErrDuplicateCode = errors.New("voucher code already exists")
)

// Voucher is a fixed-amount discount code with a validity window and an
// optional usage cap. UsageLimit of zero means unlimited.
type Voucher struct {
	ID             int64
	Code           string
	DiscountAmount decimal.Decimal
	ValidFrom      time.Time
	ValidTo        time.Time
	UsageLimit     int
	UsedCount      int
	IsActive       bool
	CreatedAt      time.Time
}

// Unlimited reports whether the voucher has no usage cap.
func (v *Voucher) Unlimited() bool {
	return v.UsageLimit <= 0
}

// Remaining returns the number of redemptions left, or -1 when unlimited.
func (v *Voucher) Remaining() int {
	if v.Unlimited() {
		return -1
	}
	return max(v.UsageLimit-v.UsedCount, 0)
}

// NormalizeCode trims and upper-cases a voucher code. Codes are stored in
// this form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Finder looks up an active voucher by its normalized code. Implementations
// return ErrInvalidVoucher when nothing matches.
type Finder interface {
	FindByCode(ctx context.Context, code string) (*Voucher, error)
}

// Repository provides voucher persistence.
type Repository interface {
	Finder

	// Consume increments used_count by one if the voucher still has uses
	// left, and returns ErrVoucherLimit otherwise. The check and the
	// increment happen in a single statement.
	Consume(ctx context.Context, id int64) error

	List(ctx context.Context) ([]Voucher, error)
	Get(ctx context.Context, id int64) (*Voucher, error)
	Create(ctx context.Context, v *Voucher) error
	Update(ctx context.Context, v *Voucher) error
	Delete(ctx context.Context, id int64) error
}
