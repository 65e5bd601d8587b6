package order

import "github.com/shopspring/decimal"

// Quote is the price breakdown of one line item.
type Quote struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Price computes subtotal = unitPrice*qty and total = max(0, subtotal-discount).
// Negative inputs are treated as zero.
func Price(unitPrice decimal.Decimal, qty int, discount decimal.Decimal) Quote {
	unitPrice = floorAtZero(unitPrice)
	discount = floorAtZero(discount)
	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(max(qty, 0))))

	return Quote{
		Subtotal: subtotal,
		Discount: discount,
		Total:    floorAtZero(subtotal.Sub(discount)),
	}
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
