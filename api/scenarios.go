/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for demos. Each scenario creates a collector with clients, March
  2025 collections, commission parameters and rubrics. Nothing is posted
  to the ledger; run the period through the API afterwards.

AVAILABLE SCENARIOS:
  deficit:    S = 50,000 against rubrics of 20,000 / 40,000 / 10,000.
              The second rubric is topped up from the charge account and
              the third is never paid.
  surplus:    S = 100,000 against a single 40,000 rubric. 60,000 goes to
              the agency product account.
  hierarchy:  Client, collector and agency parameters side by side, plus a
              client with nothing collected (skipped).

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "deficit"}

  POST /api/collectors/col-deficit/commissions
  {"start": "2025-03-01", "end": "2025-03-31"}

NOTE:
  Loading a scenario twice is refused (409); collections are not
  idempotent.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/remuneration"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoAgency = "agency-demo"

var scenarioPeriod = commission.NewPeriod(
	time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
)

type seedClient struct {
	id          string
	collections []string // one entry per week of March
	rule        commission.Rule
}

type seedRubric struct {
	id   string
	name string
	rule commission.Rule
}

type scenario struct {
	ScenarioDTO
	collector     string
	collectorRule commission.Rule
	clients       []seedClient
	rubrics       []seedRubric
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func agencyTiers() commission.Tiered {
	return commission.Tiered{Tiers: []commission.Tier{
		commission.Bounded(d("0"), d("100000"), d("5")),
		commission.Bounded(d("100001"), d("500000"), d("4")),
		commission.Unbounded(d("500001"), d("3")),
	}}
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "deficit",
			Name:        "Deficit",
			Description: "S of 50,000 cannot cover the rubrics; the charge account tops up",
		},
		collector: "col-deficit",
		clients: []seedClient{
			{id: "cli-deficit-1", collections: []string{"250000", "250000", "250000", "250000"}},
			{id: "cli-deficit-2", collections: []string{"100000", "100000", "100000", "100000"}},
			{id: "cli-deficit-3", collections: []string{"20000", "20000", "20000", "20000"}},
		},
		rubrics: []seedRubric{
			{id: "rub-deficit-base", name: "Base salary", rule: commission.Fixed{Amount: d("20000")}},
			{id: "rub-deficit-target", name: "Target bonus", rule: commission.Fixed{Amount: d("40000")}},
			{id: "rub-deficit-transport", name: "Transport", rule: commission.Fixed{Amount: d("10000")}},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "surplus",
			Name:        "Surplus",
			Description: "S of 100,000 pays a 40,000 rubric and leaves 60,000 to the agency",
		},
		collector:     "col-surplus",
		collectorRule: commission.Percentage{Rate: d("5")},
		clients: []seedClient{
			{id: "cli-surplus-1", collections: []string{"500000", "500000", "500000", "500000"}},
		},
		rubrics: []seedRubric{
			{id: "rub-surplus-base", name: "Base salary", rule: commission.Fixed{Amount: d("40000")}},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "hierarchy",
			Name:        "Parameter Hierarchy",
			Description: "Client override, collector rule and a client with nothing collected",
		},
		collector:     "col-hierarchy",
		collectorRule: commission.Percentage{Rate: d("2")},
		clients: []seedClient{
			{id: "cli-hierarchy-vip", collections: []string{"30000", "30000"}, rule: commission.Fixed{Amount: d("1500")}},
			{id: "cli-hierarchy-std", collections: []string{"45000", "45000", "10000"}},
			{id: "cli-hierarchy-idle"},
		},
		rubrics: []seedRubric{
			{id: "rub-hierarchy-share", name: "Commission share", rule: commission.Percentage{Rate: d("50")}},
		},
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario seeds one scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var sc *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			sc = &scenarios[i]
		}
	}
	if sc == nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	if _, err := h.Store.Collector(ctx, sc.collector); err == nil {
		writeError(w, http.StatusConflict, "Scenario already loaded", fmt.Errorf("collector %s exists", sc.collector))
		return
	}

	if err := loadScenario(ctx, h.Store, *sc); err != nil {
		h.writeDomainError(w, "Failed to load scenario", err)
		return
	}
	h.Logger.Info("scenario loaded", "scenario", sc.ID, "collector", sc.collector)

	writeJSON(w, http.StatusCreated, map[string]string{
		"scenario":     sc.ID,
		"collector_id": sc.collector,
		"start":        scenarioPeriod.Start.Format(dateLayout),
		"end":          scenarioPeriod.End.Format(dateLayout),
	})
}

// =============================================================================
// LOADER
// =============================================================================

func loadScenario(ctx context.Context, store *sqlite.Store, sc scenario) error {
	if err := store.SaveAgency(ctx, commission.Agency{ID: demoAgency, Name: "Demo Agency"}); err != nil {
		return err
	}
	if err := commission.DefineParameter(ctx, store, commission.Parameter{
		ID: "param-" + demoAgency, Scope: commission.ScopeAgency, OwnerID: demoAgency,
		Label: "Agency tiers", Rule: agencyTiers(),
	}); err != nil {
		return err
	}

	if err := store.SaveCollector(ctx, commission.Collector{ID: sc.collector, AgencyID: demoAgency, Name: sc.Name}); err != nil {
		return err
	}
	if sc.collectorRule != nil {
		if err := commission.DefineParameter(ctx, store, commission.Parameter{
			ID: "param-" + sc.collector, Scope: commission.ScopeCollector, OwnerID: sc.collector, Rule: sc.collectorRule,
		}); err != nil {
			return err
		}
	}

	for _, c := range sc.clients {
		if err := store.SaveClient(ctx, commission.Client{ID: c.id, CollectorID: sc.collector, Name: c.id}); err != nil {
			return err
		}
		if c.rule != nil {
			if err := commission.DefineParameter(ctx, store, commission.Parameter{
				ID: "param-" + c.id, Scope: commission.ScopeClient, OwnerID: c.id, Rule: c.rule,
			}); err != nil {
				return err
			}
		}
		for week, amount := range c.collections {
			err := store.RecordCollection(ctx, sqlite.Collection{
				ID:       fmt.Sprintf("%s-w%d", c.id, week+1),
				ClientID: c.id,
				Date:     scenarioPeriod.Start.AddDate(0, 0, 7*week+2),
				Amount:   d(amount),
			})
			if err != nil {
				return err
			}
		}
	}

	for _, rb := range sc.rubrics {
		if err := remuneration.DefineRubric(ctx, store, remuneration.Rubric{
			ID:            rb.id,
			CollectorID:   sc.collector,
			Name:          rb.name,
			Rule:          rb.rule,
			EffectiveFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		}); err != nil {
			return err
		}
	}
	return nil
}
