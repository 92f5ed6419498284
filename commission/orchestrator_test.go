package commission_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/mocks"
	"github.com/warp/commission-engine/ledger"
)

func TestProcessPeriod_PostsClientMovementsAndAggregatesS(t *testing.T) {
	// GIVEN: a collector with three clients, one of whom collected nothing
	f := newFixture(t, collections{
		"client-1": amt("450000"),
		"client-2": amt("20000"),
		"client-3": amt("0"),
	})
	f.dir.addCollector("col-1", "agency-1")
	f.dir.addClient("client-1", "col-1")
	f.dir.addClient("client-2", "col-1")
	f.dir.addClient("client-3", "col-1")
	f.define(t, commission.ScopeAgency, "agency-1", commission.Tiered{Tiers: standardTiers()})
	f.define(t, commission.ScopeClient, "client-2", commission.Fixed{Amount: amt("500")})

	// WHEN: the period is processed
	res, err := f.orch.ProcessPeriod(context.Background(), commission.PeriodRequest{CollectorID: "col-1", Period: march()})
	require.NoError(t, err)

	// THEN: S excludes tax and only counts clients that paid
	assert.False(t, res.PartialFailure)
	assert.True(t, res.Calculation.S.Equal(amt("18500")), "S = %s", res.Calculation.S)
	assert.True(t, res.Calculation.ClientTax.Equal(amt("3561.25")), "client tax = %s", res.Calculation.ClientTax)
	assert.Equal(t, commission.StatusCompleted, res.Calculation.Status)
	assert.False(t, res.Calculation.Remunerated)
	assert.Equal(t, []string{"client-3"}, res.Skipped)
	require.Len(t, res.Clients, 2)
	assert.Equal(t, commission.ScopeAgency, res.Clients[0].Scope)
	assert.Equal(t, commission.ScopeClient, res.Clients[1].Scope)

	// AND: passage accounts hold exactly what the clients were debited
	col := ledger.CollectorOwner("col-1")
	assert.True(t, f.balance(t, col, ledger.AccountPassageCommission).Equal(amt("18500")))
	assert.True(t, f.balance(t, col, ledger.AccountPassageTax).Equal(amt("3561.25")))
	assert.True(t, f.balance(t, ledger.ClientOwner("client-1"), ledger.AccountClient).Equal(amt("-21465")))
	assert.True(t, f.balance(t, ledger.ClientOwner("client-2"), ledger.AccountClient).Equal(amt("-596.25")))

	// AND: the zero client has no account and no movement
	_, err = f.mem.FindAccount(context.Background(), ledger.ClientOwner("client-3"), ledger.AccountClient)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	// AND: value is conserved and every movement references the record
	assert.True(t, f.totalBalance().IsZero())
	mvs, err := f.mem.MovementsByReference(context.Background(), res.Calculation.ID)
	require.NoError(t, err)
	assert.Len(t, mvs, 4)
}

func TestProcessPeriod_SecondRunIsDuplicate(t *testing.T) {
	f := newFixture(t, collections{"client-1": amt("1000")})
	f.dir.addCollector("col-1", "agency-1")
	f.dir.addClient("client-1", "col-1")
	f.define(t, commission.ScopeCollector, "col-1", commission.Percentage{Rate: amt("10")})
	ctx := context.Background()
	req := commission.PeriodRequest{CollectorID: "col-1", Period: march()}

	first, err := f.orch.ProcessPeriod(ctx, req)
	require.NoError(t, err)
	before, err := f.mem.MovementsByReference(ctx, first.Calculation.ID)
	require.NoError(t, err)

	// WHEN: the same exact period is processed again without force
	_, err = f.orch.ProcessPeriod(ctx, req)

	// THEN: it fails and posts nothing new
	require.ErrorIs(t, err, commission.ErrDuplicateCalculation)
	var dup *commission.DuplicateCalculationError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.Calculation.ID, dup.ExistingID)
	assert.True(t, commission.IsClientError(err))

	assert.Len(t, f.mem.Accounts(), 3)
	assert.True(t, f.balance(t, ledger.CollectorOwner("col-1"), ledger.AccountPassageCommission).Equal(amt("100")))
	after, err := f.mem.MovementsByReference(ctx, first.Calculation.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProcessPeriod_ForceCancelsPreviousRecord(t *testing.T) {
	f := newFixture(t, collections{"client-1": amt("1000")})
	f.dir.addCollector("col-1", "agency-1")
	f.dir.addClient("client-1", "col-1")
	f.define(t, commission.ScopeCollector, "col-1", commission.Percentage{Rate: amt("10")})
	ctx := context.Background()

	first, err := f.orch.ProcessPeriod(ctx, commission.PeriodRequest{CollectorID: "col-1", Period: march()})
	require.NoError(t, err)

	second, err := f.orch.ProcessPeriod(ctx, commission.PeriodRequest{CollectorID: "col-1", Period: march(), Force: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.Calculation.ID, second.Calculation.ID)

	old, err := f.calcs.GetCalculation(ctx, first.Calculation.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.StatusCancelled, old.Status)

	active, err := f.calcs.ActiveCalculation(ctx, "col-1", march())
	require.NoError(t, err)
	assert.Equal(t, second.Calculation.ID, active.ID)

	// AND: the first run was reversed, so the client is charged once
	col := ledger.CollectorOwner("col-1")
	assert.True(t, f.balance(t, ledger.ClientOwner("client-1"), ledger.AccountClient).Equal(amt("-119.25")))
	assert.True(t, f.balance(t, col, ledger.AccountPassageCommission).Equal(amt("100")))
	assert.True(t, f.balance(t, col, ledger.AccountPassageTax).Equal(amt("19.25")))
	assert.True(t, f.totalBalance().IsZero())

	mvs, err := f.mem.MovementsByReference(ctx, first.Calculation.ID)
	require.NoError(t, err)
	require.Len(t, mvs, 4)
	assert.Equal(t, ledger.DirAdjustment, mvs[2].Direction)
	assert.Equal(t, ledger.DirAdjustment, mvs[3].Direction)
}

func TestProcessPeriod_ForceRefusesRemuneratedCalculation(t *testing.T) {
	// GIVEN: a processed period whose S has been distributed
	f := newFixture(t, collections{"client-1": amt("1000")})
	f.dir.addCollector("col-1", "agency-1")
	f.dir.addClient("client-1", "col-1")
	f.define(t, commission.ScopeCollector, "col-1", commission.Percentage{Rate: amt("10")})
	ctx := context.Background()

	first, err := f.orch.ProcessPeriod(ctx, commission.PeriodRequest{CollectorID: "col-1", Period: march()})
	require.NoError(t, err)
	rec := first.Calculation
	rec.Remunerated = true
	rec.RemunerationID = "rem-1"
	require.NoError(t, f.calcs.UpdateCalculation(ctx, rec))

	// WHEN: a forced re-run is attempted
	_, err = f.orch.ProcessPeriod(ctx, commission.PeriodRequest{CollectorID: "col-1", Period: march(), Force: true})

	// THEN: it is refused and nothing moves
	assert.ErrorIs(t, err, commission.ErrAlreadyRemunerated)
	assert.True(t, commission.IsClientError(err))

	active, err := f.calcs.ActiveCalculation(ctx, "col-1", march())
	require.NoError(t, err)
	assert.Equal(t, first.Calculation.ID, active.ID)
	assert.True(t, active.Remunerated)

	assert.True(t, f.balance(t, ledger.ClientOwner("client-1"), ledger.AccountClient).Equal(amt("-119.25")))
	assert.True(t, f.balance(t, ledger.CollectorOwner("col-1"), ledger.AccountPassageCommission).Equal(amt("100")))
	assert.Len(t, f.calcs.records, 1)
}

func TestProcessPeriod_CompletionFailureKeepsClaim(t *testing.T) {
	// GIVEN: the store rejects the final update of the record
	f := newFixture(t, collections{"client-1": amt("1000")})
	f.dir.addCollector("col-1", "agency-1")
	f.dir.addClient("client-1", "col-1")
	f.define(t, commission.ScopeCollector, "col-1", commission.Percentage{Rate: amt("10")})
	f.calcs.failCompletion = errors.New("disk full")
	ctx := context.Background()

	// WHEN
	_, err := f.orch.ProcessPeriod(ctx, commission.PeriodRequest{CollectorID: "col-1", Period: march()})
	require.Error(t, err)

	// THEN: movements stayed committed and the claim was not released
	assert.True(t, f.balance(t, ledger.ClientOwner("client-1"), ledger.AccountClient).Equal(amt("-119.25")))
	active, err := f.calcs.ActiveCalculation(ctx, "col-1", march())
	require.NoError(t, err)
	assert.Equal(t, commission.StatusRunning, active.Status)

	// AND: a plain re-run is a duplicate, so the client is not charged twice
	f.calcs.failCompletion = nil
	_, err = f.orch.ProcessPeriod(ctx, commission.PeriodRequest{CollectorID: "col-1", Period: march()})
	assert.ErrorIs(t, err, commission.ErrDuplicateCalculation)
	assert.True(t, f.balance(t, ledger.ClientOwner("client-1"), ledger.AccountClient).Equal(amt("-119.25")))
}

func TestProcessPeriod_DifferentPeriodIsNotDuplicate(t *testing.T) {
	f := newFixture(t, collections{"client-1": amt("1000")})
	f.dir.addCollector("col-1", "agency-1")
	f.dir.addClient("client-1", "col-1")
	f.define(t, commission.ScopeCollector, "col-1", commission.Percentage{Rate: amt("10")})
	ctx := context.Background()

	_, err := f.orch.ProcessPeriod(ctx, commission.PeriodRequest{CollectorID: "col-1", Period: march()})
	require.NoError(t, err)

	p := march()
	p.End = p.End.AddDate(0, 0, -1)
	_, err = f.orch.ProcessPeriod(ctx, commission.PeriodRequest{CollectorID: "col-1", Period: p})
	assert.NoError(t, err)
}

func TestProcessPeriod_ClientFailureIsContained(t *testing.T) {
	// GIVEN: the collected-amount source fails for one client
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mocks.NewMockCollectionSource(ctrl)
	source.EXPECT().CollectedAmount(gomock.Any(), "client-1", march()).Return(amt("1000"), nil)
	source.EXPECT().CollectedAmount(gomock.Any(), "client-2", march()).Return(decimal.Zero, errors.New("collections unavailable"))
	source.EXPECT().CollectedAmount(gomock.Any(), "client-3", march()).Return(amt("2000"), nil)

	f := newFixture(t, source)
	f.dir.addCollector("col-1", "agency-1")
	f.dir.addClient("client-1", "col-1")
	f.dir.addClient("client-2", "col-1")
	f.dir.addClient("client-3", "col-1")
	f.define(t, commission.ScopeCollector, "col-1", commission.Percentage{Rate: amt("10")})

	// WHEN
	res, err := f.orch.ProcessPeriod(context.Background(), commission.PeriodRequest{CollectorID: "col-1", Period: march()})

	// THEN: the batch completes, flagged partial, and S skips the failed client
	require.NoError(t, err)
	assert.True(t, res.PartialFailure)
	assert.True(t, res.Calculation.PartialFailure)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "client-2", res.Failures[0].ClientID)
	assert.True(t, res.Calculation.S.Equal(amt("300")))
	assert.True(t, f.totalBalance().IsZero())
}

func TestProcessPeriod_MissingParameterFailsOnlyThatClient(t *testing.T) {
	f := newFixture(t, collections{"client-1": amt("1000"), "client-2": amt("1000")})
	f.dir.addCollector("col-1", "agency-1")
	f.dir.addClient("client-1", "col-1")
	f.dir.addClient("client-2", "col-1")
	f.define(t, commission.ScopeClient, "client-2", commission.Fixed{Amount: amt("25")})

	res, err := f.orch.ProcessPeriod(context.Background(), commission.PeriodRequest{CollectorID: "col-1", Period: march()})

	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, commission.ErrNoCommissionParameterFound)
	assert.True(t, res.Calculation.S.Equal(amt("25")))
}

func TestProcessPeriod_UnknownCollectorReleasesNothing(t *testing.T) {
	f := newFixture(t, collections{})

	_, err := f.orch.ProcessPeriod(context.Background(), commission.PeriodRequest{CollectorID: "ghost", Period: march()})

	assert.ErrorIs(t, err, commission.ErrEntityNotFound)
	assert.Empty(t, f.calcs.records)
}

func TestProcessPeriod_InvalidPeriod(t *testing.T) {
	f := newFixture(t, collections{})
	p := march()
	p.Start, p.End = p.End, p.Start

	_, err := f.orch.ProcessPeriod(context.Background(), commission.PeriodRequest{CollectorID: "col-1", Period: p})
	assert.ErrorIs(t, err, commission.ErrInvalidPeriod)
}

func TestBatch_IsolatesCollectors(t *testing.T) {
	// GIVEN: two healthy collectors and one unknown
	f := newFixture(t, collections{"a-1": amt("1000"), "b-1": amt("3000")})
	f.dir.addCollector("col-a", "agency-1")
	f.dir.addCollector("col-b", "agency-1")
	f.dir.addClient("a-1", "col-a")
	f.dir.addClient("b-1", "col-b")
	f.define(t, commission.ScopeAgency, "agency-1", commission.Percentage{Rate: amt("5")})

	batch := &commission.Batch{Orchestrator: f.orch, Workers: 2}

	// WHEN
	items := batch.Run(context.Background(), []string{"col-a", "ghost", "col-b"}, march(), false)

	// THEN: results come back in input order, only the unknown one failed
	require.Len(t, items, 3)
	assert.Equal(t, "col-a", items[0].CollectorID)
	require.NoError(t, items[0].Err)
	assert.True(t, items[0].Result.Calculation.S.Equal(amt("50")))

	assert.ErrorIs(t, items[1].Err, commission.ErrEntityNotFound)

	require.NoError(t, items[2].Err)
	assert.True(t, items[2].Result.Calculation.S.Equal(amt("150")))
	assert.True(t, f.totalBalance().IsZero())
}
