package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CALCULATION RECORD - The idempotence guard for (collector, period)
// =============================================================================

type CalculationStatus string

const (
	StatusRunning   CalculationStatus = "running"
	StatusCompleted CalculationStatus = "completed"
	StatusCancelled CalculationStatus = "cancelled"
)

// CalculationRecord is the single non-cancelled row for a collector's
// exact period. It is claimed (running) before any movement is posted.
type CalculationRecord struct {
	ID             string
	CollectorID    string
	Period         Period
	S              decimal.Decimal // commissions only, tax excluded
	ClientTax      decimal.Decimal // sum of client-side tax movements
	Status         CalculationStatus
	PartialFailure bool
	Remunerated    bool
	RemunerationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the record blocks another calculation.
func (r CalculationRecord) Active() bool { return r.Status != StatusCancelled }

// CalculationStore persists calculation records.
type CalculationStore interface {
	// ClaimCalculation inserts rec. It fails with ErrDuplicateCalculation
	// if a non-cancelled record exists for the same collector and period.
	ClaimCalculation(ctx context.Context, rec CalculationRecord) error

	// ActiveCalculation returns the non-cancelled record for the exact
	// period, or ErrCalculationNotFound.
	ActiveCalculation(ctx context.Context, collectorID string, p Period) (*CalculationRecord, error)

	// GetCalculation returns ErrCalculationNotFound when id is unknown.
	GetCalculation(ctx context.Context, id string) (*CalculationRecord, error)

	// UpdateCalculation overwrites the mutable fields of an existing record.
	UpdateCalculation(ctx context.Context, rec CalculationRecord) error

	// CalculationsFor lists a collector's records, newest period first.
	CalculationsFor(ctx context.Context, collectorID string) ([]CalculationRecord, error)
}
