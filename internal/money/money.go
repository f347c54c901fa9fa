// Package money converts between integer minor units (the only stored unit) and decimal strings
// used at the API boundary.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidAmount is returned for strings that are not decimal numbers.
var ErrInvalidAmount = errors.New("money: invalid amount")

// Parse converts "15.00" (or "15", "15.005") into minor units, rounding half-up at 2 dp.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return FromDecimal(d), nil
}

// FromDecimal rounds half away from zero to 2 dp and scales to minor units.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Round(2).Mul(hundred).IntPart()
}

// ToDecimal converts minor units into a decimal major amount.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Format renders minor units with exactly two decimals.
func Format(minor int64) string {
	return ToDecimal(minor).StringFixed(2)
}

// WithinTolerance reports whether |a-b| <= tol (all in minor units).
func WithinTolerance(a, b, tol int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}
