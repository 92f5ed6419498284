package commission

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/ledger"
)

// DefaultTaxRate is the institutional VAT on commissions, in percent.
var DefaultTaxRate = decimal.RequireFromString("19.25")

// Calculator turns a rule and a base amount into money. Every result is
// rounded half-up to 2 places.
type Calculator struct {
	TaxRate decimal.Decimal
	Logger  *slog.Logger
}

func NewCalculator() *Calculator {
	return &Calculator{TaxRate: DefaultTaxRate}
}

func (c *Calculator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Apply evaluates rule against base.
//
// FIXED returns the configured amount; a negative amount is treated as
// zero and logged. PERCENTAGE with a rate outside [0, 100] yields zero and
// is logged. TIER resolves one tier and applies its rate to all of base.
func (c *Calculator) Apply(rule Rule, base decimal.Decimal) (decimal.Decimal, error) {
	switch r := rule.(type) {
	case Fixed:
		if r.Amount.IsNegative() {
			c.logger().Warn("negative fixed commission treated as zero", "amount", r.Amount.String())
			return decimal.Zero, nil
		}
		return ledger.Round(r.Amount), nil

	case Percentage:
		return c.percent(base, r.Rate), nil

	case Tiered:
		tier, err := ResolveTier(r.Tiers, base)
		if err != nil {
			return decimal.Zero, fmt.Errorf("amount %s: %w", base, err)
		}
		return c.percent(base, tier.Rate), nil

	case nil:
		return decimal.Zero, fmt.Errorf("%w: missing rule", ErrInvalidParameter)
	}
	return decimal.Zero, fmt.Errorf("%w: unsupported rule %T", ErrInvalidParameter, rule)
}

func (c *Calculator) percent(base, rate decimal.Decimal) decimal.Decimal {
	if rate.IsNegative() || rate.GreaterThan(maxPercent) {
		c.logger().Warn("commission rate out of range treated as zero", "rate", rate.String())
		return decimal.Zero
	}
	return ledger.Percent(base, rate)
}

// Commission computes the commission on a client's collected total.
func (c *Calculator) Commission(p *Parameter, total decimal.Decimal) (decimal.Decimal, error) {
	if p == nil {
		return decimal.Zero, fmt.Errorf("%w: nil parameter", ErrInvalidParameter)
	}
	return c.Apply(p.Rule, total)
}

// Tax is commission * TaxRate / 100.
func (c *Calculator) Tax(commission decimal.Decimal) decimal.Decimal {
	return ledger.Percent(commission, c.TaxRate)
}

// NetBalance is currentBalance - commission - tax.
func (c *Calculator) NetBalance(currentBalance, commission, tax decimal.Decimal) decimal.Decimal {
	return ledger.Round(currentBalance.Sub(commission).Sub(tax))
}
