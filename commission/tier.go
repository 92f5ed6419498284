package commission

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TIERS - Contiguous amount intervals with a rate each
// =============================================================================

var (
	one        = decimal.NewFromInt(1)
	maxPercent = decimal.NewFromInt(100)
)

// Tier covers [Min, Max]. A nil Max means no upper bound and is only
// allowed on the last tier of a set.
type Tier struct {
	Min  decimal.Decimal
	Max  *decimal.Decimal
	Rate decimal.Decimal // percent, 0-100
}

// Bounded is a convenience constructor for a closed tier.
func Bounded(min, max, rate decimal.Decimal) Tier {
	return Tier{Min: min, Max: &max, Rate: rate}
}

// Unbounded is a convenience constructor for an open-ended last tier.
func Unbounded(min, rate decimal.Decimal) Tier {
	return Tier{Min: min, Rate: rate}
}

// ValidateTiers checks a whole tier set. Run it when a parameter is
// written, never per lookup.
//
// Rules:
//   - at least one tier
//   - Min >= 0, Rate in [0, 100], Max >= Min when set
//   - only the last tier may be unbounded
//   - tier[i-1].Max + 1 == tier[i].Min (sorted, no gap, no overlap)
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return &TierConfigError{Index: 0, Reason: "empty tier set"}
	}

	for i, t := range tiers {
		if t.Min.IsNegative() {
			return &TierConfigError{Index: i, Reason: "negative minimum"}
		}
		if t.Rate.IsNegative() || t.Rate.GreaterThan(maxPercent) {
			return &TierConfigError{Index: i, Reason: "rate outside [0, 100]"}
		}
		if t.Max == nil {
			if i != len(tiers)-1 {
				return &TierConfigError{Index: i, Reason: "unbounded tier must be last"}
			}
		} else if t.Max.LessThan(t.Min) {
			return &TierConfigError{Index: i, Reason: "maximum below minimum"}
		}
		if i > 0 {
			prev := tiers[i-1]
			if !prev.Max.Add(one).Equal(t.Min) {
				return &TierConfigError{Index: i, Reason: "not contiguous with previous tier (previous max + 1 != min)"}
			}
		}
	}
	return nil
}

// ResolveTier returns the tier containing amount.
//
// A tier that is followed by another covers [Min, next.Min), which is the
// same as [Min, Max] for whole-unit amounts and leaves no hole for
// fractional amounts between Max and Max + 1. The last tier covers
// [Min, Max] or [Min, inf).
func ResolveTier(tiers []Tier, amount decimal.Decimal) (Tier, error) {
	if amount.IsNegative() {
		return Tier{}, ErrNoApplicableTier
	}

	for i, t := range tiers {
		if amount.LessThan(t.Min) {
			break
		}
		if i+1 < len(tiers) {
			if amount.LessThan(tiers[i+1].Min) {
				return t, nil
			}
			continue
		}
		if t.Max == nil || amount.LessThanOrEqual(*t.Max) {
			return t, nil
		}
	}
	return Tier{}, ErrNoApplicableTier
}
