// Package money holds the fixed-point decimal conventions used for every
// monetary value in the billing model. All amounts carry two fraction
// digits; binary floats never appear on a money path.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fraction digits kept on stored amounts.
const Scale = 2

// Zero is the default amount for new catalog entries and empty totals.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// Parse converts a decimal string ("12.50") into a normalized amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Round(Scale), nil
}

// MustParse is Parse for literals in tests and seed code.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Line computes a line subtotal: unit price times quantity, rounded to
// the working scale. Exact for any quantity since the arithmetic stays
// in base 10.
func Line(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(Scale)
}

// IsNegative reports whether the amount is below zero.
func IsNegative(d decimal.Decimal) bool {
	return d.Sign() < 0
}
