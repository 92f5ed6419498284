/*
Package remuneration distributes a collector's commission pool S across
compensation rubrics.

PURPOSE:
  After a commission period, the passage-commission account of a collector
  holds S. Each active rubric owes the collector Vi, always computed on the
  original S. The pool pays rubrics in priority order; the first rubric the
  pool cannot fully cover is topped up from the collector's charge account
  and ends the distribution. Whatever is left is EMF surplus for the agency.
  Tax on S moves from passage-tax to the agency's tax account.

KEY CONCEPTS:
  - Rubric: Named rule (FIXED/PERCENTAGE/TIER) with an activation window
  - Plan: Pure result of the Vi-vs-S algorithm (distribute.go)
  - Record: Audit row for one distribution, linked to its calculation

SEE ALSO:
  - commission/: Produces S and the CalculationRecord
  - ledger/: Accounts and atomic movements
*/
package remuneration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/warp/commission-engine/commission"
)

var validate = validator.New()

// =============================================================================
// RUBRIC
// =============================================================================

// Rubric is one compensation line for a collector.
//
// It is active from EffectiveFrom (inclusive). With ExpiresAfterDays set it
// stops being active that many days later (exclusive).
type Rubric struct {
	ID               string          `validate:"required"`
	CollectorID      string          `validate:"required"`
	Name             string          `validate:"required,max=120"`
	Priority         int             `validate:"min=0"`
	Rule             commission.Rule `validate:"-"`
	EffectiveFrom    time.Time       `validate:"required"`
	ExpiresAfterDays *int            `validate:"omitempty,min=1"`
	CreatedAt        time.Time       `validate:"-"`
}

func (r Rubric) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRubric, err)
	}
	if r.Rule == nil {
		return fmt.Errorf("%w: missing rule", ErrInvalidRubric)
	}
	if err := r.Rule.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRubric, err)
	}
	return nil
}

// ActiveAt reports whether the rubric applies at t.
func (r Rubric) ActiveAt(t time.Time) bool {
	if t.Before(r.EffectiveFrom) {
		return false
	}
	if r.ExpiresAfterDays == nil {
		return true
	}
	return t.Before(r.EffectiveFrom.AddDate(0, 0, *r.ExpiresAfterDays))
}

// ActiveRubrics filters rubrics active at asOf and orders them by
// Priority, then EffectiveFrom. Ties keep declaration order.
func ActiveRubrics(rubrics []Rubric, asOf time.Time) []Rubric {
	var out []Rubric
	for _, r := range rubrics {
		if r.ActiveAt(asOf) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
	})
	return out
}

// RubricStore persists rubrics.
type RubricStore interface {
	SaveRubric(ctx context.Context, r Rubric) error

	// RubricsFor returns every rubric of the collector in declaration order.
	RubricsFor(ctx context.Context, collectorID string) ([]Rubric, error)
}

// DefineRubric validates r and saves it.
func DefineRubric(ctx context.Context, store RubricStore, r Rubric) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return store.SaveRubric(ctx, r)
}
