package commission_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
	"github.com/warp/commission-engine/ledger/store"
	"github.com/warp/commission-engine/locking"
)

// =============================================================================
// TEST HELPERS - In-memory directory, parameters, calculations, collections
// =============================================================================

func amt(s string) decimal.Decimal { return ledger.MustDecimal(s) }

func march() commission.Period {
	return commission.NewPeriod(
		time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
	)
}

type directory struct {
	collectors map[string]commission.Collector
	clients    []commission.Client
}

func newDirectory() *directory {
	return &directory{collectors: map[string]commission.Collector{}}
}

func (d *directory) addCollector(id, agencyID string) {
	d.collectors[id] = commission.Collector{ID: id, AgencyID: agencyID, Name: id}
}

func (d *directory) addClient(id, collectorID string) {
	d.clients = append(d.clients, commission.Client{ID: id, CollectorID: collectorID, Name: id})
}

func (d *directory) Client(_ context.Context, id string) (*commission.Client, error) {
	for _, c := range d.clients {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, commission.ErrEntityNotFound
}

func (d *directory) Collector(_ context.Context, id string) (*commission.Collector, error) {
	c, ok := d.collectors[id]
	if !ok {
		return nil, commission.ErrEntityNotFound
	}
	return &c, nil
}

func (d *directory) ClientsOf(_ context.Context, collectorID string) ([]commission.Client, error) {
	var out []commission.Client
	for _, c := range d.clients {
		if c.CollectorID == collectorID {
			out = append(out, c)
		}
	}
	return out, nil
}

type parameters struct {
	mu     sync.Mutex
	byKey  map[string]commission.Parameter
	lookup []string
}

func newParameters() *parameters {
	return &parameters{byKey: map[string]commission.Parameter{}}
}

func (p *parameters) SaveParameter(_ context.Context, param commission.Parameter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byKey[string(param.Scope)+"/"+param.OwnerID] = param
	return nil
}

func (p *parameters) ParameterFor(_ context.Context, scope commission.Scope, ownerID string) (*commission.Parameter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := string(scope) + "/" + ownerID
	p.lookup = append(p.lookup, key)
	param, ok := p.byKey[key]
	if !ok {
		return nil, commission.ErrParameterNotFound
	}
	return &param, nil
}

type calculations struct {
	mu      sync.Mutex
	records map[string]commission.CalculationRecord

	// failCompletion, when set, is returned for updates that complete a record.
	failCompletion error
}

func newCalculations() *calculations {
	return &calculations{records: map[string]commission.CalculationRecord{}}
}

func (c *calculations) ClaimCalculation(_ context.Context, rec commission.CalculationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Active() && r.CollectorID == rec.CollectorID && r.Period == rec.Period {
			return commission.ErrDuplicateCalculation
		}
	}
	c.records[rec.ID] = rec
	return nil
}

func (c *calculations) ActiveCalculation(_ context.Context, collectorID string, p commission.Period) (*commission.CalculationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Active() && r.CollectorID == collectorID && r.Period == p {
			r := r
			return &r, nil
		}
	}
	return nil, commission.ErrCalculationNotFound
}

func (c *calculations) GetCalculation(_ context.Context, id string) (*commission.CalculationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[id]
	if !ok {
		return nil, commission.ErrCalculationNotFound
	}
	return &r, nil
}

func (c *calculations) UpdateCalculation(_ context.Context, rec commission.CalculationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCompletion != nil && rec.Status == commission.StatusCompleted {
		return c.failCompletion
	}
	if _, ok := c.records[rec.ID]; !ok {
		return commission.ErrCalculationNotFound
	}
	c.records[rec.ID] = rec
	return nil
}

func (c *calculations) CalculationsFor(_ context.Context, collectorID string) ([]commission.CalculationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []commission.CalculationRecord
	for _, r := range c.records {
		if r.CollectorID == collectorID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Start.After(out[j].Period.Start) })
	return out, nil
}

// collections is a fixed CollectionSource keyed by client id.
type collections map[string]decimal.Decimal

func (c collections) CollectedAmount(_ context.Context, clientID string, _ commission.Period) (decimal.Decimal, error) {
	return c[clientID], nil
}

type fixture struct {
	dir    *directory
	params *parameters
	calcs  *calculations
	mem    *store.TxMemory
	chart  *ledger.Chart
	orch   *commission.Orchestrator
}

func newFixture(t *testing.T, source commission.CollectionSource) *fixture {
	t.Helper()
	f := &fixture{
		dir:    newDirectory(),
		params: newParameters(),
		calcs:  newCalculations(),
		mem:    store.NewTxMemory(),
	}
	f.chart = ledger.NewChart(f.mem)
	f.orch = &commission.Orchestrator{
		Directory:    f.dir,
		Collections:  source,
		Resolver:     &commission.HierarchyResolver{Parameters: f.params, Directory: f.dir},
		Calculator:   commission.NewCalculator(),
		Calculations: f.calcs,
		Chart:        f.chart,
		Poster:       ledger.NewPoster(f.mem),
		Locker:       locking.NewKeyedMutex(),
		Clock:        ledger.FixedClock{T: time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)},
	}
	return f
}

func (f *fixture) define(t *testing.T, scope commission.Scope, owner string, rule commission.Rule) {
	t.Helper()
	err := commission.DefineParameter(context.Background(), f.params, commission.Parameter{
		ID:      string(scope) + "-" + owner,
		Scope:   scope,
		OwnerID: owner,
		Rule:    rule,
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, owner ledger.Owner, typ ledger.AccountType) decimal.Decimal {
	t.Helper()
	acc, err := f.mem.FindAccount(context.Background(), owner, typ)
	if err != nil {
		return decimal.Zero
	}
	return acc.Balance
}

func (f *fixture) totalBalance() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range f.mem.Accounts() {
		sum = sum.Add(a.Balance)
	}
	return sum
}

func standardTiers() []commission.Tier {
	return []commission.Tier{
		commission.Bounded(amt("0"), amt("100000"), amt("5")),
		commission.Bounded(amt("100001"), amt("500000"), amt("4")),
		commission.Unbounded(amt("500001"), amt("3")),
	}
}
