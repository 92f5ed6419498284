package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE - FIXED | PERCENTAGE | TIER
// =============================================================================

type Kind string

const (
	KindFixed      Kind = "FIXED"
	KindPercentage Kind = "PERCENTAGE"
	KindTier       Kind = "TIER"
)

// Rule is a closed set of variants. Only this package implements it, and
// Calculator.Apply has one branch per variant.
type Rule interface {
	Kind() Kind
	Validate() error
	sealed()
}

// Fixed yields Amount regardless of the base amount.
type Fixed struct {
	Amount decimal.Decimal
}

// Percentage yields base * Rate / 100.
type Percentage struct {
	Rate decimal.Decimal
}

// Tiered applies the rate of the single matching tier to the whole base
// amount. It is not marginal: 450,000 in a 4% tier yields 18,000.
type Tiered struct {
	Tiers []Tier
}

func (Fixed) Kind() Kind      { return KindFixed }
func (Percentage) Kind() Kind { return KindPercentage }
func (Tiered) Kind() Kind     { return KindTier }

func (Fixed) sealed()      {}
func (Percentage) sealed() {}
func (Tiered) sealed()     {}

func (r Fixed) Validate() error {
	if r.Amount.IsNegative() {
		return fmt.Errorf("%w: fixed amount %s is negative", ErrInvalidParameter, r.Amount)
	}
	return nil
}

func (r Percentage) Validate() error {
	if r.Rate.IsNegative() || r.Rate.GreaterThan(maxPercent) {
		return fmt.Errorf("%w: percentage %s outside [0, 100]", ErrInvalidParameter, r.Rate)
	}
	return nil
}

func (r Tiered) Validate() error {
	return ValidateTiers(r.Tiers)
}
