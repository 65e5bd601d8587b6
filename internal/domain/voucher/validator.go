package voucher

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator checks whether a voucher code can be redeemed at a point in time.
// It never mutates usage; redemption is recorded by Repository.Consume.
type Validator struct {
	vouchers Finder
}

// NewValidator creates a Validator backed by the given Finder.
func NewValidator(vouchers Finder) *Validator {
	return &Validator{vouchers: vouchers}
}

// Validate normalizes the code, looks up the voucher and checks it against now.
func (v *Validator) Validate(ctx context.Context, code string, now time.Time) (*Voucher, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidVoucher
	}

	found, err := v.vouchers.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidVoucher) {
			return nil, ErrInvalidVoucher
		}
		return nil, errors.Wrap(err, "lookup voucher")
	}

	if err := Check(found, now); err != nil {
		return nil, err
	}
	return found, nil
}

// Check applies the activity, window and usage rules to an already loaded
// voucher. Both window bounds are inclusive.
func Check(v *Voucher, now time.Time) error {
	if !v.IsActive {
		return ErrInvalidVoucher
	}
	if now.Before(v.ValidFrom) || now.After(v.ValidTo) {
		return ErrInvalidVoucher
	}
	if v.UsageLimit > 0 && v.UsedCount >= v.UsageLimit {
		return ErrVoucherLimit
	}
	return nil
}
