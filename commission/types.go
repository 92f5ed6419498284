/*
Package commission computes per-client commissions for a collector's
period and routes them into the ledger.

PURPOSE:
  Field collectors gather periodic savings from clients. For every client
  with a positive collected amount in a period, the institution charges a
  commission (plus tax on that commission). This package resolves which
  commission parameter applies, computes the amounts, posts the client-side
  movements, and records the collector's commission pool S.

KEY CONCEPTS:
  - Period: Inclusive [Start, End] day range a calculation covers
  - Parameter: Commission rule owned by a client, collector or agency
  - Rule: FIXED, PERCENTAGE or TIER (sum type, see rule.go)
  - CalculationRecord: One non-cancelled row per (collector, exact period)
  - S: Sum of committed client commissions, tax excluded

CONTROL FLOW (orchestrator.go):
  lock collector -> idempotence guard -> for each client:
    collected amount -> hierarchy resolve -> commission + tax ->
    client->passage-commission, client->passage-tax
  -> S -> completed CalculationRecord

SEE ALSO:
  - remuneration/: Distributes S across compensation rubrics
  - ledger/: Accounts and atomic movements
*/
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD
// =============================================================================

// Period is an inclusive range of whole days.
type Period struct {
	Start time.Time
	End   time.Time
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewPeriod normalizes both bounds to midnight UTC.
func NewPeriod(start, end time.Time) Period {
	return Period{Start: day(start), End: day(end)}
}

// Validate fails with ErrInvalidPeriod when End is before Start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if t falls on a day within [Start, End].
func (p Period) Contains(t time.Time) bool {
	d := day(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// =============================================================================
// DIRECTORY - Agencies, collectors, clients
// =============================================================================

type Agency struct {
	ID   string
	Name string
}

type Collector struct {
	ID       string
	AgencyID string
	Name     string
}

type Client struct {
	ID          string
	CollectorID string
	Name        string
}

// Directory resolves the client -> collector -> agency chain with explicit
// lookups. Nothing is assumed to be pre-loaded.
type Directory interface {
	// Client returns ErrEntityNotFound when id is unknown.
	Client(ctx context.Context, id string) (*Client, error)

	// Collector returns ErrEntityNotFound when id is unknown.
	Collector(ctx context.Context, id string) (*Collector, error)

	// ClientsOf lists a collector's clients in a stable order.
	ClientsOf(ctx context.Context, collectorID string) ([]Client, error)
}

// CollectionSource reports how much was collected from a client.
//
//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=types.go CollectionSource
type CollectionSource interface {
	// CollectedAmount sums the client's collections dated within p.
	CollectedAmount(ctx context.Context, clientID string, p Period) (decimal.Decimal, error)
}
