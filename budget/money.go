// money.go - currency comparison and rounding helpers.
//
// All balances are currency decimals. Comparisons use a fixed epsilon of one
// cent; rounding is 2-place half-away-from-zero to match currency display
// (not banker's rounding).
package budget

import "github.com/shopspring/decimal"

// Epsilon is the fixed currency-unit tolerance for balance comparisons.
var Epsilon = decimal.NewFromFloat(0.01)

// RoundCurrency rounds to 2 decimal places, half away from zero.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinEpsilon reports whether |d| < 0.01.
func WithinEpsilon(d decimal.Decimal) bool {
	return d.Abs().LessThan(Epsilon)
}

// ParseCurrency parses a user-typed decimal string. Rejects empty input and
// anything decimal.NewFromString cannot parse as a finite number.
func ParseCurrency(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, Invalid("amount", "empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Invalid("amount", "not a number: "+s)
	}
	return d, nil
}
