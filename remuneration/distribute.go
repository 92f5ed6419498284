package remuneration

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
)

// =============================================================================
// VI VS S - Pure distribution plan
// =============================================================================

// Allocation is what one rubric received.
type Allocation struct {
	RubricID   string
	Name       string
	Vi         decimal.Decimal
	FromPool   decimal.Decimal // passage-commission -> salary
	FromCharge decimal.Decimal // charge -> salary, deficit only
}

// Deficit reports whether the charge account had to top up this rubric.
func (a Allocation) Deficit() bool { return a.FromCharge.IsPositive() }

// Plan is the outcome of distributing S, before anything is posted.
type Plan struct {
	S           decimal.Decimal
	TotalVi     decimal.Decimal
	Surplus     decimal.Decimal
	Tax         decimal.Decimal
	Allocations []Allocation

	// Stopped is set when a deficit ended the distribution. Unpaid lists
	// the rubrics that came after it.
	Stopped bool
	Unpaid  []string
}

// Distribute runs the Vi-vs-S algorithm over rubrics, which must already
// be filtered and ordered (see ActiveRubrics).
//
// Every Vi is computed on s itself, never on what is left of it. Rubrics
// with Vi <= 0 are skipped. The first rubric the pool cannot cover takes
// the rest of the pool plus the shortfall from the charge account, and no
// later rubric is paid. A pool left over after all rubrics is surplus. Tax
// is always s * TaxRate.
func Distribute(calc *commission.Calculator, s decimal.Decimal, rubrics []Rubric) (Plan, error) {
	if s.IsNegative() {
		return Plan{}, fmt.Errorf("%w: S %s is negative", ErrInvalidRemunerationInput, s)
	}
	s = ledger.Round(s)

	plan := Plan{
		S:       s,
		TotalVi: decimal.Zero,
		Surplus: decimal.Zero,
	}
	remaining := s

	for i, r := range rubrics {
		vi, err := calc.Apply(r.Rule, s)
		if err != nil {
			return Plan{}, &RubricError{RubricID: r.ID, Err: err}
		}
		if !vi.IsPositive() {
			continue
		}

		alloc := Allocation{RubricID: r.ID, Name: r.Name, Vi: vi}
		plan.TotalVi = plan.TotalVi.Add(vi)

		if vi.LessThanOrEqual(remaining) {
			alloc.FromPool = vi
			alloc.FromCharge = decimal.Zero
			remaining = remaining.Sub(vi)
			plan.Allocations = append(plan.Allocations, alloc)
			continue
		}

		alloc.FromPool = remaining
		alloc.FromCharge = vi.Sub(remaining)
		remaining = decimal.Zero
		plan.Allocations = append(plan.Allocations, alloc)

		plan.Stopped = true
		for _, rest := range rubrics[i+1:] {
			plan.Unpaid = append(plan.Unpaid, rest.ID)
		}
		break
	}

	if remaining.IsPositive() {
		plan.Surplus = remaining
	}
	plan.Tax = calc.Tax(s)
	return plan, nil
}
