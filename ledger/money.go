package ledger

import "github.com/shopspring/decimal"

// Scale is the number of decimal places every monetary value is kept at.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Round rounds half-up (away from zero on a tie) to Scale places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns amount * rate / 100, rounded.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate).Div(hundred))
}

// MustDecimal parses s or panics. Intended for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
