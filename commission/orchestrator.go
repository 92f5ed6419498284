/*
orchestrator.go - Per-collector, per-period commission run

PURPOSE:
  ProcessPeriod is one unit of work: a collector and an exact period. It
  claims the period, computes every client's commission and tax, posts the
  client-side movements and completes the CalculationRecord with S.

IDEMPOTENCE:
  1. The collector is locked for the whole run (locking.Locker).
  2. An existing non-cancelled record for the exact period fails with
     ErrDuplicateCalculation unless Force is set.
  3. Force reverses the client movements of the existing record and
     cancels it. A record whose S was already remunerated is final:
     Force fails with ErrAlreadyRemunerated.
  4. The new record is claimed (status running) before any movement is
     posted, so the store's uniqueness check is the last word even across
     processes.

FAILURE SEMANTICS:
  Each client is its own unit of work. A client whose lookup, parameter,
  calculation or posting fails is logged and skipped; the batch carries on
  and the result is flagged PartialFailure. S only includes clients whose
  movements were committed. Once the client loop has started the record is
  always completed, never cancelled; only failures before it release the
  claim.
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/ledger"
	"github.com/warp/commission-engine/locking"
)

type Orchestrator struct {
	Directory    Directory
	Collections  CollectionSource
	Resolver     *HierarchyResolver
	Calculator   *Calculator
	Calculations CalculationStore
	Chart        *ledger.Chart
	Poster       *ledger.Poster
	Locker       locking.Locker
	Clock        ledger.Clock
	Logger       *slog.Logger
}

// PeriodRequest identifies the unit of work.
type PeriodRequest struct {
	CollectorID string
	Period      Period
	Force       bool
}

// ClientCommission is one client's committed contribution to S.
type ClientCommission struct {
	ClientID    string
	Collected   decimal.Decimal
	Commission  decimal.Decimal
	Tax         decimal.Decimal
	ParameterID string
	Scope       Scope
	Movements   []ledger.Movement
}

// ClientFailure is a client that was skipped because of an error.
type ClientFailure struct {
	ClientID string
	Err      error
}

// Result summarizes a ProcessPeriod run.
type Result struct {
	Calculation    CalculationRecord
	Clients        []ClientCommission
	Skipped        []string // zero collected amount or zero commission
	Failures       []ClientFailure
	PartialFailure bool
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) now() ledger.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return ledger.SystemClock{}
}

// ProcessPeriod runs the commission calculation for one collector and
// period.
func (o *Orchestrator) ProcessPeriod(ctx context.Context, req PeriodRequest) (*Result, error) {
	if req.CollectorID == "" {
		return nil, fmt.Errorf("%w: collector id is required", ErrEntityNotFound)
	}
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}

	if o.Locker != nil {
		unlock, err := o.Locker.Lock(ctx, locking.CollectorKey(req.CollectorID))
		if err != nil {
			return nil, fmt.Errorf("lock collector %s: %w", req.CollectorID, err)
		}
		defer unlock()
	}

	log := o.logger().With("collector", req.CollectorID, "period", req.Period.String())

	if err := o.guard(ctx, req, log); err != nil {
		return nil, err
	}

	collector, err := o.Directory.Collector(ctx, req.CollectorID)
	if err != nil {
		return nil, fmt.Errorf("load collector %s: %w", req.CollectorID, err)
	}

	now := o.now().Now()
	rec := CalculationRecord{
		ID:          uuid.NewString(),
		CollectorID: collector.ID,
		Period:      req.Period,
		S:           decimal.Zero,
		ClientTax:   decimal.Zero,
		Status:      StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.Calculations.ClaimCalculation(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateCalculation) {
			return nil, &DuplicateCalculationError{CollectorID: req.CollectorID, Period: req.Period}
		}
		return nil, fmt.Errorf("claim calculation: %w", err)
	}

	result, started, err := o.run(ctx, collector, &rec, log)
	if err != nil {
		if !started {
			o.abandon(ctx, rec, log)
		}
		return nil, err
	}
	return result, nil
}

// guard enforces one non-cancelled calculation per exact period.
func (o *Orchestrator) guard(ctx context.Context, req PeriodRequest, log *slog.Logger) error {
	existing, err := o.Calculations.ActiveCalculation(ctx, req.CollectorID, req.Period)
	if errors.Is(err, ErrCalculationNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check existing calculation: %w", err)
	}

	if !req.Force {
		return &DuplicateCalculationError{CollectorID: req.CollectorID, Period: req.Period, ExistingID: existing.ID}
	}
	if existing.Remunerated {
		return fmt.Errorf("%w: calculation %s cannot be replaced", ErrAlreadyRemunerated, existing.ID)
	}

	reversed, err := o.reverse(ctx, existing)
	if err != nil {
		return fmt.Errorf("reverse calculation %s: %w", existing.ID, err)
	}

	existing.Status = StatusCancelled
	existing.UpdatedAt = o.now().Now()
	if err := o.Calculations.UpdateCalculation(ctx, *existing); err != nil {
		return fmt.Errorf("cancel calculation %s: %w", existing.ID, err)
	}
	log.Info("forced re-run cancelled previous calculation", "calculation", existing.ID, "reversed", reversed)
	return nil
}

// reverse posts the mirror of every client movement of rec, atomically.
// A record that already carries reversals is left alone, so a Force that
// failed after reversing can be retried.
func (o *Orchestrator) reverse(ctx context.Context, rec *CalculationRecord) (int, error) {
	mvs, err := o.Poster.Store.MovementsByReference(ctx, rec.ID)
	if err != nil {
		return 0, err
	}

	var reqs []ledger.MovementRequest
	for _, m := range mvs {
		switch m.Direction {
		case ledger.DirAdjustment:
			return 0, nil
		case ledger.DirCommission, ledger.DirClientTax:
			reqs = append(reqs, ledger.MovementRequest{
				Source:      m.Destination,
				Destination: m.Source,
				Amount:      m.Amount,
				Label:       "Reversal: " + m.Label,
				Direction:   ledger.DirAdjustment,
				Reference:   rec.ID,
			})
		}
	}

	if _, err := o.Poster.PostBatch(ctx, reqs); err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// run reports started once the client loop is entered; from then on
// movements may be committed and the claim must not be released.
func (o *Orchestrator) run(ctx context.Context, collector *Collector, rec *CalculationRecord, log *slog.Logger) (result *Result, started bool, err error) {
	clients, err := o.Directory.ClientsOf(ctx, collector.ID)
	if err != nil {
		return nil, false, fmt.Errorf("list clients of %s: %w", collector.ID, err)
	}

	owner := ledger.CollectorOwner(collector.ID)
	accounts, err := o.Chart.Lookup(ctx, owner, ledger.AccountPassageCommission, ledger.AccountPassageTax)
	if err != nil {
		return nil, false, err
	}

	result = &Result{}
	for _, client := range clients {
		var cc *ClientCommission
		err := ctx.Err()
		if err == nil {
			cc, err = o.processClient(ctx, client, rec, accounts)
		}
		switch {
		case err != nil:
			log.Error("client commission failed", "client", client.ID, "error", err)
			result.Failures = append(result.Failures, ClientFailure{ClientID: client.ID, Err: err})
		case cc == nil:
			result.Skipped = append(result.Skipped, client.ID)
		default:
			result.Clients = append(result.Clients, *cc)
			rec.S = rec.S.Add(cc.Commission)
			rec.ClientTax = rec.ClientTax.Add(cc.Tax)
		}
	}

	rec.S = ledger.Round(rec.S)
	rec.ClientTax = ledger.Round(rec.ClientTax)
	rec.Status = StatusCompleted
	rec.PartialFailure = len(result.Failures) > 0
	rec.UpdatedAt = o.now().Now()
	// Movements may already be committed; the record must land even if the
	// caller gave up.
	if err := o.Calculations.UpdateCalculation(context.WithoutCancel(ctx), *rec); err != nil {
		log.Error("calculation left running with committed movements", "calculation", rec.ID, "error", err)
		return nil, true, fmt.Errorf("complete calculation %s: %w", rec.ID, err)
	}

	result.Calculation = *rec
	result.PartialFailure = rec.PartialFailure
	log.Info("commission period processed",
		"calculation", rec.ID,
		"s", rec.S.StringFixed(ledger.Scale),
		"clients", len(result.Clients),
		"skipped", len(result.Skipped),
		"failed", len(result.Failures))
	return result, true, nil
}

// processClient returns (nil, nil) for a client that owes nothing.
func (o *Orchestrator) processClient(ctx context.Context, client Client, rec *CalculationRecord, accounts map[ledger.AccountType]*ledger.Account) (*ClientCommission, error) {
	collected, err := o.Collections.CollectedAmount(ctx, client.ID, rec.Period)
	if err != nil {
		return nil, fmt.Errorf("collected amount: %w", err)
	}
	if !collected.IsPositive() {
		return nil, nil
	}

	param, err := o.Resolver.Resolve(ctx, client)
	if err != nil {
		return nil, err
	}

	commission, err := o.Calculator.Commission(param, collected)
	if err != nil {
		return nil, err
	}
	if !commission.IsPositive() {
		return nil, nil
	}
	tax := o.Calculator.Tax(commission)

	clientAcc, err := o.Chart.GetOrCreate(ctx, ledger.ClientOwner(client.ID), ledger.AccountClient)
	if err != nil {
		return nil, err
	}

	reqs := []ledger.MovementRequest{{
		Source:      clientAcc.ID,
		Destination: accounts[ledger.AccountPassageCommission].ID,
		Amount:      commission,
		Label:       fmt.Sprintf("Commission %s %s", client.ID, rec.Period),
		Direction:   ledger.DirCommission,
		Reference:   rec.ID,
	}}
	if tax.IsPositive() {
		reqs = append(reqs, ledger.MovementRequest{
			Source:      clientAcc.ID,
			Destination: accounts[ledger.AccountPassageTax].ID,
			Amount:      tax,
			Label:       fmt.Sprintf("Commission tax %s %s", client.ID, rec.Period),
			Direction:   ledger.DirClientTax,
			Reference:   rec.ID,
		})
	}

	mvs, err := o.Poster.PostBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	return &ClientCommission{
		ClientID:    client.ID,
		Collected:   collected,
		Commission:  commission,
		Tax:         tax,
		ParameterID: param.ID,
		Scope:       param.Scope,
		Movements:   mvs,
	}, nil
}

// abandon cancels a claim whose run failed before any client was
// processed, so the period can be retried without Force.
func (o *Orchestrator) abandon(ctx context.Context, rec CalculationRecord, log *slog.Logger) {
	rec.Status = StatusCancelled
	rec.UpdatedAt = o.now().Now()
	if err := o.Calculations.UpdateCalculation(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("failed to cancel abandoned calculation", "calculation", rec.ID, "error", err)
	}
}
