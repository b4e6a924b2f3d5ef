// Package money converts between major-unit amounts and the integer minor
// units stored on carts and orders.
package money

import (
	"math"

	"checkout-payments/internal/apperr"

	"github.com/shopspring/decimal"
)

// MinorExponent is the number of minor-unit digits (paise, cents).
const MinorExponent = 2

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ToMinorUnits scales amount to minor units, rounding half-up.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, apperr.New(apperr.KindInvalidAmount, "amount %s is negative", amount.String())
	}

	minor := amount.Shift(MinorExponent).Round(0)
	if minor.GreaterThan(maxMinor) {
		return 0, apperr.New(apperr.KindInvalidAmount, "amount %s is out of range", amount.String())
	}

	return minor.IntPart(), nil
}

func FromFloat(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, apperr.New(apperr.KindInvalidAmount, "amount is not a finite number")
	}
	return ToMinorUnits(decimal.NewFromFloat(amount))
}

func FromString(amount string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, apperr.New(apperr.KindInvalidAmount, "amount %q is not a number", amount)
	}
	return ToMinorUnits(d)
}

func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorExponent)
}

// Format renders minor units as a fixed two-digit major amount, e.g. "6500.00".
func Format(minor int64) string {
	return ToMajor(minor).StringFixed(MinorExponent)
}

// LineTotal multiplies a unit price by a quantity, failing on overflow.
func LineTotal(unitMinor int64, quantity int) (int64, error) {
	if unitMinor < 0 || quantity < 0 {
		return 0, apperr.New(apperr.KindInvalidAmount, "negative price or quantity")
	}
	if quantity != 0 && unitMinor > math.MaxInt64/int64(quantity) {
		return 0, apperr.New(apperr.KindInvalidAmount, "line total overflows")
	}
	return unitMinor * int64(quantity), nil
}

// Add sums minor amounts, failing on overflow.
func Add(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, apperr.New(apperr.KindInvalidAmount, "total overflows")
	}
	return a + b, nil
}
