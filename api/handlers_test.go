/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Commission runs (created, duplicate, force, validation, unknown collector)
- Remuneration (by calculation once, ad hoc S, request validation)
- Parameter and rubric definition
- Ledger reads
- Rate limiting and batches
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
	"github.com/warp/commission-engine/remuneration"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewHandler(store, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// seedCollector creates agency-1 / col-1 / client-1 with 450,000 collected
// in March 2025 under the standard agency tiers, and two fixed rubrics.
func seedCollector(t *testing.T, h *Handler, collectorID string) {
	t.Helper()
	ctx := context.Background()
	store := h.Store
	clientID := "client-" + collectorID

	require.NoError(t, store.SaveAgency(ctx, commission.Agency{ID: "agency-1", Name: "Agency"}))
	if _, err := store.ParameterFor(ctx, commission.ScopeAgency, "agency-1"); err != nil {
		require.NoError(t, commission.DefineParameter(ctx, store, commission.Parameter{
			ID: "tiers", Scope: commission.ScopeAgency, OwnerID: "agency-1", Rule: agencyTiers(),
		}))
	}
	require.NoError(t, store.SaveCollector(ctx, commission.Collector{ID: collectorID, AgencyID: "agency-1", Name: collectorID}))
	require.NoError(t, store.SaveClient(ctx, commission.Client{ID: clientID, CollectorID: collectorID, Name: clientID}))
	require.NoError(t, store.RecordCollection(ctx, sqlite.Collection{
		ClientID: clientID, Date: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), Amount: d("450000"),
	}))
	for _, rb := range []remuneration.Rubric{
		{ID: collectorID + "-base", CollectorID: collectorID, Name: "Base", Rule: commission.Fixed{Amount: d("10000")}},
		{ID: collectorID + "-bonus", CollectorID: collectorID, Name: "Bonus", Rule: commission.Fixed{Amount: d("5000")}},
	} {
		rb.EffectiveFrom = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, remuneration.DefineRubric(ctx, store, rb))
	}
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var marchBody = map[string]any{"start": "2025-03-01", "end": "2025-03-31"}

// =============================================================================
// COMMISSIONS
// =============================================================================

func TestProcessCommissions_CreatedThenDuplicate(t *testing.T) {
	// GIVEN
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	router := NewRouter(h, nil)

	// WHEN
	rec := do(t, router, http.MethodPost, "/api/collectors/col-1/commissions", marchBody)

	// THEN: 450,000 falls in the 4% tier
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[ProcessPeriodResponse](t, rec)
	assert.Equal(t, "18000.00", resp.Calculation.S)
	assert.Equal(t, "3465.00", resp.Calculation.ClientTax)
	assert.Equal(t, "completed", resp.Calculation.Status)
	require.Len(t, resp.Clients, 1)
	assert.Equal(t, "AGENCY", resp.Clients[0].Scope)

	// AND: the same period again is a conflict
	rec = do(t, router, http.MethodPost, "/api/collectors/col-1/commissions", marchBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), resp.Calculation.ID)

	// AND: force replaces it
	rec = do(t, router, http.MethodPost, "/api/collectors/col-1/commissions",
		map[string]any{"start": "2025-03-01", "end": "2025-03-31", "force": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	list := decodeBody[[]CalculationDTO](t, do(t, router, http.MethodGet, "/api/collectors/col-1/calculations", nil))
	require.Len(t, list, 2)
	statuses := []string{list[0].Status, list[1].Status}
	assert.ElementsMatch(t, []string{"completed", "cancelled"}, statuses)
}

func TestProcessCommissions_RejectsBadInput(t *testing.T) {
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	router := NewRouter(h, nil)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"malformed json", "/api/collectors/col-1/commissions", "{", http.StatusBadRequest},
		{"missing end", "/api/collectors/col-1/commissions", map[string]any{"start": "2025-03-01"}, http.StatusBadRequest},
		{"bad date", "/api/collectors/col-1/commissions", map[string]any{"start": "03/01/2025", "end": "2025-03-31"}, http.StatusBadRequest},
		{"end before start", "/api/collectors/col-1/commissions", map[string]any{"start": "2025-03-31", "end": "2025-03-01"}, http.StatusBadRequest},
		{"unknown collector", "/api/collectors/ghost/commissions", marchBody, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestGetCalculation_ListsItsMovements(t *testing.T) {
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	router := NewRouter(h, nil)

	resp := decodeBody[ProcessPeriodResponse](t, do(t, router, http.MethodPost, "/api/collectors/col-1/commissions", marchBody))

	rec := do(t, router, http.MethodGet, "/api/calculations/"+resp.Calculation.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Calculation CalculationDTO `json:"calculation"`
		Movements   []MovementDTO  `json:"movements"`
	}](t, rec)
	require.Len(t, body.Movements, 2)
	assert.Equal(t, "commission", body.Movements[0].Direction)
	assert.Equal(t, "client_tax", body.Movements[1].Direction)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/calculations/nope", nil).Code)
}

// =============================================================================
// REMUNERATION
// =============================================================================

func TestRemunerate_CalculationOnlyOnce(t *testing.T) {
	// GIVEN: a completed calculation with S = 18,000
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	router := NewRouter(h, nil)
	calc := decodeBody[ProcessPeriodResponse](t, do(t, router, http.MethodPost, "/api/collectors/col-1/commissions", marchBody))

	// WHEN
	rec := do(t, router, http.MethodPost, "/api/collectors/col-1/remunerations",
		map[string]any{"calculation_id": calc.Calculation.ID})

	// THEN: 10,000 + 5,000 paid from the pool, 3,000 surplus
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rem := decodeBody[RemunerationDTO](t, rec)
	assert.Equal(t, "15000.00", rem.TotalVi)
	assert.Equal(t, "3000.00", rem.Surplus)
	assert.Equal(t, "3465.00", rem.Tax)
	assert.Equal(t, "3465.00", rem.ClientTaxTotal)
	assert.Len(t, rem.Movements, 4)

	// AND: a second attempt conflicts
	rec = do(t, router, http.MethodPost, "/api/collectors/col-1/remunerations",
		map[string]any{"calculation_id": calc.Calculation.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: the remunerated period cannot be forced again
	rec = do(t, router, http.MethodPost, "/api/collectors/col-1/commissions",
		map[string]any{"start": "2025-03-01", "end": "2025-03-31", "force": true})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// AND: the calculation shows as remunerated
	list := decodeBody[[]CalculationDTO](t, do(t, router, http.MethodGet, "/api/collectors/col-1/calculations", nil))
	require.Len(t, list, 1)
	assert.True(t, list[0].Remunerated)
	assert.Equal(t, rem.ID, list[0].RemunerationID)
}

func TestRemunerate_AdHocS(t *testing.T) {
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	router := NewRouter(h, nil)

	rec := do(t, router, http.MethodPost, "/api/collectors/col-1/remunerations", map[string]any{"s": "12000"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rem := decodeBody[RemunerationDTO](t, rec)
	require.Len(t, rem.Allocations, 2)
	assert.Equal(t, "3000.00", rem.Allocations[1].FromCharge)
	assert.Equal(t, "0.00", rem.Surplus)
	assert.Empty(t, rem.ClientTaxTotal)

	history := decodeBody[[]RemunerationDTO](t, do(t, router, http.MethodGet, "/api/collectors/col-1/remunerations", nil))
	assert.Len(t, history, 1)
}

func TestRemunerate_RejectsBadInput(t *testing.T) {
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	seedCollector(t, h, "col-2")
	router := NewRouter(h, nil)
	other := decodeBody[ProcessPeriodResponse](t, do(t, router, http.MethodPost, "/api/collectors/col-2/commissions", marchBody))

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"neither calculation nor s", map[string]any{}, http.StatusBadRequest},
		{"both calculation and s", map[string]any{"calculation_id": other.Calculation.ID, "s": "1000"}, http.StatusBadRequest},
		{"s not numeric", map[string]any{"s": "lots"}, http.StatusBadRequest},
		{"negative s", map[string]any{"s": "-1"}, http.StatusBadRequest},
		{"unknown calculation", map[string]any{"calculation_id": "nope"}, http.StatusNotFound},
		{"calculation of another collector", map[string]any{"calculation_id": other.Calculation.ID}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/collectors/col-1/remunerations", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestCreateParameter(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h, nil)

	valid := map[string]any{
		"id": "p-col-1", "scope": "COLLECTOR", "owner_id": "col-1",
		"rule": map[string]any{"kind": "TIER", "tiers": []map[string]any{
			{"min": "0", "max": "1000", "rate": "5"},
			{"min": "1001", "rate": "3"},
		}},
	}
	rec := do(t, router, http.MethodPost, "/api/parameters", valid)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dto := decodeBody[ParameterDTO](t, rec)
	assert.Equal(t, "TIER", dto.Rule.Kind)
	assert.Len(t, dto.Rule.Tiers, 2)

	p, err := h.Store.ParameterFor(context.Background(), commission.ScopeCollector, "col-1")
	require.NoError(t, err)
	assert.Equal(t, "p-col-1", p.ID)

	gap := map[string]any{
		"id": "p-gap", "scope": "AGENCY", "owner_id": "agency-1",
		"rule": map[string]any{"kind": "TIER", "tiers": []map[string]any{
			{"min": "0", "max": "1000", "rate": "5"},
			{"min": "2000", "rate": "3"},
		}},
	}
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/parameters", gap).Code)

	badScope := map[string]any{
		"id": "p-x", "scope": "REGION", "owner_id": "r-1",
		"rule": map[string]any{"kind": "FIXED", "value": "10"},
	}
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/parameters", badScope).Code)
}

func TestCreateRubric(t *testing.T) {
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	router := NewRouter(h, nil)

	body := map[string]any{
		"id": "rub-transport", "collector_id": "col-1", "name": "Transport",
		"rule":           map[string]any{"kind": "PERCENTAGE", "value": "2.5"},
		"effective_from": "2025-02-01", "expires_after_days": 30,
	}
	rec := do(t, router, http.MethodPost, "/api/rubrics", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rubrics := decodeBody[[]RubricDTO](t, do(t, router, http.MethodGet, "/api/collectors/col-1/rubrics", nil))
	require.Len(t, rubrics, 3)
	assert.Equal(t, "rub-transport", rubrics[2].ID)
	require.NotNil(t, rubrics[2].ExpiresAfterDays)
	assert.Equal(t, 30, *rubrics[2].ExpiresAfterDays)

	body["collector_id"] = "ghost"
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/api/rubrics", body).Code)

	body["collector_id"] = "col-1"
	body["expires_after_days"] = 0
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/rubrics", body).Code)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestAccounts_BalanceAndMovements(t *testing.T) {
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	router := NewRouter(h, nil)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/collectors/col-1/commissions", marchBody).Code)

	pool, err := h.Store.FindAccount(context.Background(), ledger.CollectorOwner("col-1"), ledger.AccountPassageCommission)
	require.NoError(t, err)

	acc := decodeBody[AccountDTO](t, do(t, router, http.MethodGet, "/api/accounts/"+string(pool.ID), nil))
	assert.Equal(t, "18000.00", acc.Balance)
	assert.Equal(t, "passage_commission", acc.Type)

	mvs := decodeBody[[]MovementDTO](t, do(t, router, http.MethodGet, "/api/accounts/"+string(pool.ID)+"/movements", nil))
	require.Len(t, mvs, 1)
	assert.Equal(t, "18000.00", mvs[0].Amount)

	owned := decodeBody[[]AccountDTO](t, do(t, router, http.MethodGet, "/api/collectors/col-1/accounts", nil))
	assert.Len(t, owned, 2)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/accounts/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/accounts/nope/movements", nil).Code)
}

// =============================================================================
// RATE LIMIT & BATCH
// =============================================================================

func TestRateLimiter_RejectsBurst(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h, NewRateLimiter(0.001, 1))

	first := do(t, router, http.MethodPost, "/api/collectors/col-1/commissions", "{")
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := do(t, router, http.MethodPost, "/api/collectors/col-1/commissions", "{")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/collectors/col-1/calculations", nil).Code)
}

func TestRunBatch_AllCollectorsWhenNoneListed(t *testing.T) {
	h := setupTestHandler(t)
	seedCollector(t, h, "col-1")
	seedCollector(t, h, "col-2")
	router := NewRouter(h, nil)

	rec := do(t, router, http.MethodPost, "/api/batches/commissions", marchBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decodeBody[[]BatchItemDTO](t, rec)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Empty(t, item.Error)
		require.NotNil(t, item.Result)
		assert.Equal(t, "18000.00", item.Result.Calculation.S)
	}

	// A second batch reports duplicates per collector.
	items = decodeBody[[]BatchItemDTO](t, do(t, router, http.MethodPost, "/api/batches/commissions",
		map[string]any{"collector_ids": []string{"col-1", "ghost"}, "start": "2025-03-01", "end": "2025-03-31"}))
	require.Len(t, items, 2)
	assert.Contains(t, items[0].Error, "already exists")
	assert.Contains(t, items[1].Error, "not found")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(&commission.DuplicateCalculationError{CollectorID: "c"}))
	assert.Equal(t, http.StatusNotFound, statusFor(commission.ErrEntityNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(&commission.TierConfigError{Index: 1}))
	assert.Equal(t, http.StatusBadRequest, statusFor(remuneration.ErrInvalidRubric))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(ledger.ErrConcurrentModification))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
