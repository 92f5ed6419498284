package remuneration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
	"github.com/warp/commission-engine/locking"
)

// =============================================================================
// PROCESSOR - Plan, post, record
// =============================================================================

// Processor turns a Plan into ledger movements. All movements of one
// distribution are posted in a single atomic batch.
type Processor struct {
	Directory    commission.Directory
	Rubrics      RubricStore
	Records      RecordStore
	Calculations commission.CalculationStore
	Calculator   *commission.Calculator
	Chart        *ledger.Chart
	Poster       *ledger.Poster
	Locker       locking.Locker
	Clock        ledger.Clock
	Logger       *slog.Logger
}

// Input is one remuneration request.
type Input struct {
	CollectorID   string
	S             decimal.Decimal
	CalculationID string
	Period        commission.Period
	ClientTax     decimal.Decimal // client-side tax of the linked calculation

	// AsOf selects active rubrics. Defaults to Period.End, or now when the
	// period is unset.
	AsOf time.Time
}

// Result is the recorded distribution and the movements it produced.
type Result struct {
	Record    Record
	Plan      Plan
	Movements []ledger.Movement
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Processor) clock() ledger.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return ledger.SystemClock{}
}

func (p *Processor) lock(ctx context.Context, collectorID string) (func(), error) {
	if p.Locker == nil {
		return func() {}, nil
	}
	unlock, err := p.Locker.Lock(ctx, locking.CollectorKey(collectorID))
	if err != nil {
		return nil, fmt.Errorf("lock collector %s: %w", collectorID, err)
	}
	return unlock, nil
}

// ProcessRemuneration distributes S for a collector.
func (p *Processor) ProcessRemuneration(ctx context.Context, in Input) (*Result, error) {
	if in.CollectorID == "" {
		return nil, fmt.Errorf("%w: collector id is required", ErrInvalidRemunerationInput)
	}
	unlock, err := p.lock(ctx, in.CollectorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return p.process(ctx, in)
}

// RemunerateCalculation distributes the S of a completed calculation and
// marks the calculation as remunerated.
func (p *Processor) RemunerateCalculation(ctx context.Context, calculationID string) (*Result, error) {
	calc, err := p.Calculations.GetCalculation(ctx, calculationID)
	if err != nil {
		return nil, err
	}

	unlock, err := p.lock(ctx, calc.CollectorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock.
	calc, err = p.Calculations.GetCalculation(ctx, calculationID)
	if err != nil {
		return nil, err
	}
	if calc.Remunerated {
		return nil, fmt.Errorf("%w: calculation %s (remuneration %s)", ErrAlreadyRemunerated, calc.ID, calc.RemunerationID)
	}
	if calc.Status != commission.StatusCompleted {
		return nil, fmt.Errorf("%w: calculation %s is %s", ErrInvalidRemunerationInput, calc.ID, calc.Status)
	}

	res, err := p.process(ctx, Input{
		CollectorID:   calc.CollectorID,
		S:             calc.S,
		CalculationID: calc.ID,
		Period:        calc.Period,
		ClientTax:     calc.ClientTax,
	})
	if err != nil {
		return nil, err
	}

	calc.Remunerated = true
	calc.RemunerationID = res.Record.ID
	calc.UpdatedAt = p.clock().Now()
	if err := p.Calculations.UpdateCalculation(context.WithoutCancel(ctx), *calc); err != nil {
		return nil, fmt.Errorf("mark calculation %s remunerated: %w", calc.ID, err)
	}
	return res, nil
}

func (p *Processor) process(ctx context.Context, in Input) (*Result, error) {
	log := p.logger().With("collector", in.CollectorID)

	collector, err := p.Directory.Collector(ctx, in.CollectorID)
	if err != nil {
		return nil, fmt.Errorf("load collector %s: %w", in.CollectorID, err)
	}

	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = in.Period.End
	}
	if asOf.IsZero() {
		asOf = p.clock().Now()
	}

	all, err := p.Rubrics.RubricsFor(ctx, collector.ID)
	if err != nil {
		return nil, fmt.Errorf("load rubrics: %w", err)
	}
	rubrics := ActiveRubrics(all, asOf)

	plan, err := Distribute(p.Calculator, in.S, rubrics)
	if err != nil {
		return nil, err
	}

	if in.CalculationID != "" && !in.ClientTax.Equal(plan.Tax) {
		// Per-client rounding can drift from the tax on S.
		log.Warn("remuneration tax differs from client tax total",
			"calculation", in.CalculationID,
			"tax", plan.Tax.StringFixed(ledger.Scale),
			"client_tax", in.ClientTax.StringFixed(ledger.Scale))
	}

	rec := Record{
		ID:             uuid.NewString(),
		CollectorID:    collector.ID,
		CalculationID:  in.CalculationID,
		Period:         in.Period,
		S:              plan.S,
		TotalVi:        plan.TotalVi,
		Surplus:        plan.Surplus,
		Tax:            plan.Tax,
		ClientTaxTotal: ledger.Round(in.ClientTax),
		Status:         StatusPending,
		Allocations:    plan.Allocations,
		CreatedAt:      p.clock().Now(),
	}
	if err := p.Records.ClaimRemuneration(ctx, rec); err != nil {
		return nil, err
	}

	reqs, err := p.movements(ctx, collector, plan, rec.ID)
	if err == nil {
		var mvs []ledger.Movement
		mvs, err = p.Poster.PostBatch(ctx, reqs)
		if err == nil {
			return p.complete(ctx, rec, plan, mvs, log)
		}
	}

	if relErr := p.Records.ReleaseRemuneration(context.WithoutCancel(ctx), rec.ID); relErr != nil {
		log.Error("failed to release remuneration claim", "remuneration", rec.ID, "error", relErr)
	}
	return nil, err
}

func (p *Processor) complete(ctx context.Context, rec Record, plan Plan, mvs []ledger.Movement, log *slog.Logger) (*Result, error) {
	rec.Status = StatusCompleted
	rec.MovementIDs = make([]ledger.MovementID, len(mvs))
	for i, m := range mvs {
		rec.MovementIDs[i] = m.ID
	}
	if err := p.Records.CompleteRemuneration(context.WithoutCancel(ctx), rec); err != nil {
		return nil, fmt.Errorf("complete remuneration %s: %w", rec.ID, err)
	}

	log.Info("remuneration processed",
		"remuneration", rec.ID,
		"s", plan.S.StringFixed(ledger.Scale),
		"total_vi", plan.TotalVi.StringFixed(ledger.Scale),
		"surplus", plan.Surplus.StringFixed(ledger.Scale),
		"tax", plan.Tax.StringFixed(ledger.Scale),
		"stopped", plan.Stopped)
	return &Result{Record: rec, Plan: plan, Movements: mvs}, nil
}

// movements maps a plan onto the chart of accounts. Collector-side accounts
// belong to the collector; product and tax belong to its agency.
func (p *Processor) movements(ctx context.Context, collector *commission.Collector, plan Plan, ref string) ([]ledger.MovementRequest, error) {
	col, err := p.Chart.Lookup(ctx, ledger.CollectorOwner(collector.ID),
		ledger.AccountPassageCommission, ledger.AccountPassageTax, ledger.AccountCollectorSalary, ledger.AccountCharge)
	if err != nil {
		return nil, err
	}
	agency, err := p.Chart.Lookup(ctx, ledger.AgencyOwner(collector.AgencyID), ledger.AccountProduct, ledger.AccountTax)
	if err != nil {
		return nil, err
	}

	pool := col[ledger.AccountPassageCommission].ID
	salary := col[ledger.AccountCollectorSalary].ID

	var reqs []ledger.MovementRequest
	for _, a := range plan.Allocations {
		if a.FromPool.IsPositive() {
			reqs = append(reqs, ledger.MovementRequest{
				Source:      pool,
				Destination: salary,
				Amount:      a.FromPool,
				Label:       "Remuneration " + a.Name,
				Direction:   ledger.DirRemuneration,
				Reference:   ref,
			})
		}
		if a.FromCharge.IsPositive() {
			reqs = append(reqs, ledger.MovementRequest{
				Source:      col[ledger.AccountCharge].ID,
				Destination: salary,
				Amount:      a.FromCharge,
				Label:       "Remuneration deficit " + a.Name,
				Direction:   ledger.DirDeficit,
				Reference:   ref,
			})
		}
	}
	if plan.Surplus.IsPositive() {
		reqs = append(reqs, ledger.MovementRequest{
			Source:      pool,
			Destination: agency[ledger.AccountProduct].ID,
			Amount:      plan.Surplus,
			Label:       "EMF surplus " + collector.ID,
			Direction:   ledger.DirSurplus,
			Reference:   ref,
		})
	}
	if plan.Tax.IsPositive() {
		reqs = append(reqs, ledger.MovementRequest{
			Source:      col[ledger.AccountPassageTax].ID,
			Destination: agency[ledger.AccountTax].ID,
			Amount:      plan.Tax,
			Label:       "Commission tax " + collector.ID,
			Direction:   ledger.DirTax,
			Reference:   ref,
		})
	}
	return reqs, nil
}
