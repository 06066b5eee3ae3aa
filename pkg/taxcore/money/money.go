// Package money holds the decimal conventions used for every rupee
// amount in the computation core. Amounts are decimal.Decimal values;
// binary floats never carry money.
package money

import "github.com/shopspring/decimal"

// Zero is the zero rupee amount.
var Zero = decimal.Zero

// Tolerance is one paisa. Two amounts closer than this are treated as
// equal when reconciling sources.
var Tolerance = decimal.New(1, -2)

// Rupees returns a whole-rupee amount.
func Rupees(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// FromFloat converts a float64 read from an upstream payload. Upstream
// parsers emit JSON numbers, so this is the one sanctioned float entry
// point; the value is normalized to paise immediately.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// Round2 rounds to the paisa, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Equal reports whether a and b agree to within one paisa.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Clamp01 clamps d to the [0,1] interval. Used for confidence scores.
func Clamp01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if d.GreaterThan(one) {
		return one
	}
	return d
}
