package voucher

import "github.com/go-faster/errors"

// ErrInvalidDefinition is returned when admin-supplied voucher fields break
// the voucher rules.
var ErrInvalidDefinition = errors.New("invalid voucher definition")

// Prepare normalizes the code and checks the fields an admin may set.
func (v *Voucher) Prepare() error {
	v.Code = NormalizeCode(v.Code)
	switch {
	case v.Code == "":
		return errors.Wrap(ErrInvalidDefinition, "code is required")
	case !v.DiscountAmount.IsPositive():
		return errors.Wrap(ErrInvalidDefinition, "discount_amount must be positive")
	case v.ValidFrom.IsZero() || v.ValidTo.IsZero():
		return errors.Wrap(ErrInvalidDefinition, "validity window is required")
	case v.ValidTo.Before(v.ValidFrom):
		return errors.Wrap(ErrInvalidDefinition, "valid_to is before valid_from")
	case v.UsageLimit < 0:
		return errors.Wrap(ErrInvalidDefinition, "usage_limit must not be negative")
	}
	return nil
}
