package remuneration

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Record is the audit row of one distribution. A record with a
// CalculationID is unique for that calculation, which is what prevents the
// same S from being paid twice.
type Record struct {
	ID             string
	CollectorID    string
	CalculationID  string            // empty for an ad-hoc S
	Period         commission.Period // zero for an ad-hoc S
	S              decimal.Decimal
	TotalVi        decimal.Decimal
	Surplus        decimal.Decimal
	Tax            decimal.Decimal
	ClientTaxTotal decimal.Decimal // tax already routed per client, when linked
	Status         Status
	Allocations    []Allocation
	MovementIDs    []ledger.MovementID
	CreatedAt      time.Time
}

// RecordStore persists remuneration records.
type RecordStore interface {
	// ClaimRemuneration inserts rec as pending. It fails with
	// ErrAlreadyRemunerated if rec.CalculationID already has a record.
	ClaimRemuneration(ctx context.Context, rec Record) error

	// CompleteRemuneration stores the final figures of a claimed record.
	CompleteRemuneration(ctx context.Context, rec Record) error

	// ReleaseRemuneration drops a pending claim whose movements failed.
	ReleaseRemuneration(ctx context.Context, id string) error

	// GetRemuneration returns ErrRemunerationNotFound when id is unknown.
	GetRemuneration(ctx context.Context, id string) (*Record, error)

	// RemunerationsFor lists a collector's records, newest first.
	RemunerationsFor(ctx context.Context, collectorID string) ([]Record, error)
}
