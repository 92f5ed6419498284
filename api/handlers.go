/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission and remuneration engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  packages.

ENDPOINTS:
  Commissions:
    POST   /api/collectors/{id}/commissions    Run a collector's period
    POST   /api/batches/commissions            Run many collectors
    GET    /api/collectors/{id}/calculations   Calculation history
    GET    /api/calculations/{id}              One calculation + movements

  Remuneration:
    POST   /api/collectors/{id}/remunerations  Distribute S (calculation or ad hoc)
    GET    /api/collectors/{id}/remunerations  Remuneration history

  Configuration:
    POST   /api/parameters                     Define a commission parameter
    POST   /api/rubrics                        Define a rubric
    GET    /api/collectors/{id}/rubrics        A collector's rubrics

  Ledger:
    GET    /api/accounts/{id}                  Account with balance
    GET    /api/accounts/{id}/movements        Movements touching an account
    GET    /api/collectors/{id}/accounts       A collector's accounts

ARCHITECTURE:
  Handler holds the store and the engine components built on top of it.
  NewHandler wires them the same way cmd/server does, so tests exercise
  the production graph.

ERROR HANDLING:
  Domain errors are mapped by statusFor:
  - 400: Validation errors, invalid input, bad configuration
  - 404: Unknown collector, calculation, account
  - 409: Duplicate calculation, already remunerated
  - 429: Rate limited (see ratelimit.go)
  - 503: Transient store contention after retries
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
	"github.com/warp/commission-engine/locking"
	"github.com/warp/commission-engine/remuneration"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Chart        *ledger.Chart
	Orchestrator *commission.Orchestrator
	Batch        *commission.Batch
	Processor    *remuneration.Processor
	Logger       *slog.Logger
}

// Options tunes the engine NewHandler builds. Zero values pick defaults.
type Options struct {
	TaxRate      decimal.Decimal
	Retry        ledger.RetryPolicy
	BatchWorkers int
	Locker       locking.Locker
	Logger       *slog.Logger
}

// NewHandler wires the engine on top of store.
func NewHandler(store *sqlite.Store, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := opts.Locker
	if locker == nil {
		locker = locking.NewKeyedMutex()
	}

	calc := commission.NewCalculator()
	calc.Logger = logger
	if !opts.TaxRate.IsZero() {
		calc.TaxRate = opts.TaxRate
	}

	chart := ledger.NewChart(store)
	poster := ledger.NewPoster(store)
	if opts.Retry.Attempts > 0 {
		poster.Retry = opts.Retry
	}

	orch := &commission.Orchestrator{
		Directory:    store,
		Collections:  store,
		Resolver:     &commission.HierarchyResolver{Parameters: store, Directory: store},
		Calculator:   calc,
		Calculations: store,
		Chart:        chart,
		Poster:       poster,
		Locker:       locker,
		Logger:       logger,
	}

	return &Handler{
		Store:        store,
		Chart:        chart,
		Orchestrator: orch,
		Batch:        &commission.Batch{Orchestrator: orch, Workers: opts.BatchWorkers},
		Processor: &remuneration.Processor{
			Directory:    store,
			Rubrics:      store,
			Records:      store,
			Calculations: store,
			Calculator:   calc,
			Chart:        chart,
			Poster:       poster,
			Locker:       locker,
			Logger:       logger,
		},
		Logger: logger,
	}
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// ProcessCommissions runs the commission calculation for one collector.
// POST /api/collectors/{id}/commissions
func (h *Handler) ProcessCommissions(w http.ResponseWriter, r *http.Request) {
	collectorID := chi.URLParam(r, "id")

	var req ProcessPeriodRequest
	if !decode(w, r, &req) {
		return
	}
	period, err := parsePeriod(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	res, err := h.Orchestrator.ProcessPeriod(r.Context(), commission.PeriodRequest{
		CollectorID: collectorID,
		Period:      period,
		Force:       req.Force,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to process commissions", err)
		return
	}

	writeJSON(w, http.StatusCreated, toProcessPeriodResponse(res))
}

// RunBatch processes many collectors for the same period. Each collector
// succeeds or fails on its own; the response always lists all of them.
// POST /api/batches/commissions
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	period, err := parsePeriod(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	ids := req.CollectorIDs
	if len(ids) == 0 {
		ids, err = h.Store.CollectorIDs(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list collectors", err)
			return
		}
	}

	items := h.Batch.Run(ctx, ids, period, req.Force)
	dtos := make([]BatchItemDTO, len(items))
	for i, item := range items {
		dtos[i] = BatchItemDTO{CollectorID: item.CollectorID}
		if item.Err != nil {
			dtos[i].Error = item.Err.Error()
			continue
		}
		resp := toProcessPeriodResponse(item.Result)
		dtos[i].Result = &resp
	}

	writeJSON(w, http.StatusOK, dtos)
}

// ListCalculations returns a collector's calculation history.
// GET /api/collectors/{id}/calculations
func (h *Handler) ListCalculations(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.CalculationsFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list calculations", err)
		return
	}

	dtos := make([]CalculationDTO, len(records))
	for i, rec := range records {
		dtos[i] = toCalculationDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCalculation returns one calculation with the movements it posted.
// GET /api/calculations/{id}
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := h.Store.GetCalculation(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Calculation not found", err)
		return
	}
	mvs, err := h.Store.MovementsByReference(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load movements", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"calculation": toCalculationDTO(*rec),
		"movements":   toMovementDTOs(mvs),
	})
}

// =============================================================================
// REMUNERATION HANDLERS
// =============================================================================

// Remunerate distributes S across the collector's rubrics. With a
// calculation_id the S of that calculation is used, at most once.
// POST /api/collectors/{id}/remunerations
func (h *Handler) Remunerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectorID := chi.URLParam(r, "id")

	var req RemunerateRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		res *remuneration.Result
		err error
	)
	if req.CalculationID != "" {
		calc, err := h.Store.GetCalculation(ctx, req.CalculationID)
		if err != nil {
			h.writeDomainError(w, "Calculation not found", err)
			return
		}
		if calc.CollectorID != collectorID {
			writeError(w, http.StatusBadRequest, "Calculation belongs to another collector",
				fmt.Errorf("calculation %s is for collector %s", calc.ID, calc.CollectorID))
			return
		}
		res, err = h.Processor.RemunerateCalculation(ctx, req.CalculationID)
		if err != nil {
			h.writeDomainError(w, "Failed to remunerate calculation", err)
			return
		}
	} else {
		in := remuneration.Input{CollectorID: collectorID, S: decimal.RequireFromString(*req.S)}
		if req.AsOf != "" {
			in.AsOf, _ = time.Parse(dateLayout, req.AsOf)
		}
		res, err = h.Processor.ProcessRemuneration(ctx, in)
		if err != nil {
			h.writeDomainError(w, "Failed to process remuneration", err)
			return
		}
	}

	dto := toRemunerationDTO(res.Record)
	dto.Unpaid = res.Plan.Unpaid
	dto.Movements = toMovementDTOs(res.Movements)
	writeJSON(w, http.StatusCreated, dto)
}

// ListRemunerations returns a collector's remuneration history.
// GET /api/collectors/{id}/remunerations
func (h *Handler) ListRemunerations(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.RemunerationsFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list remunerations", err)
		return
	}

	dtos := make([]RemunerationDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRemunerationDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// CreateParameter defines or replaces the commission rule of an owner.
// POST /api/parameters
func (h *Handler) CreateParameter(w http.ResponseWriter, r *http.Request) {
	var req CreateParameterRequest
	if !decode(w, r, &req) {
		return
	}

	rule, err := commission.ParseRule(req.Rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}

	p := commission.Parameter{
		ID:        req.ID,
		Scope:     commission.Scope(req.Scope),
		OwnerID:   req.OwnerID,
		Label:     req.Label,
		Rule:      rule,
		CreatedAt: time.Now().UTC(),
	}
	if err := commission.DefineParameter(r.Context(), h.Store, p); err != nil {
		h.writeDomainError(w, "Failed to save parameter", err)
		return
	}

	writeJSON(w, http.StatusCreated, ParameterDTO{
		ID:      p.ID,
		Scope:   string(p.Scope),
		OwnerID: p.OwnerID,
		Label:   p.Label,
		Rule:    commission.EncodeRule(p.Rule),
	})
}

// CreateRubric defines or replaces a collector's rubric.
// POST /api/rubrics
func (h *Handler) CreateRubric(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRubricRequest
	if !decode(w, r, &req) {
		return
	}

	rule, err := commission.ParseRule(req.Rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}
	from, _ := time.Parse(dateLayout, req.EffectiveFrom)

	if _, err := h.Store.Collector(ctx, req.CollectorID); err != nil {
		h.writeDomainError(w, "Collector not found", err)
		return
	}

	rb := remuneration.Rubric{
		ID:               req.ID,
		CollectorID:      req.CollectorID,
		Name:             req.Name,
		Priority:         req.Priority,
		Rule:             rule,
		EffectiveFrom:    from,
		ExpiresAfterDays: req.ExpiresAfterDays,
		CreatedAt:        time.Now().UTC(),
	}
	if err := remuneration.DefineRubric(ctx, h.Store, rb); err != nil {
		h.writeDomainError(w, "Failed to save rubric", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRubricDTO(rb))
}

// ListRubrics returns a collector's rubrics in declaration order.
// GET /api/collectors/{id}/rubrics
func (h *Handler) ListRubrics(w http.ResponseWriter, r *http.Request) {
	rubrics, err := h.Store.RubricsFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rubrics", err)
		return
	}

	dtos := make([]RubricDTO, len(rubrics))
	for i, rb := range rubrics {
		dtos[i] = toRubricDTO(rb)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toRubricDTO(rb remuneration.Rubric) RubricDTO {
	return RubricDTO{
		ID:               rb.ID,
		CollectorID:      rb.CollectorID,
		Name:             rb.Name,
		Priority:         rb.Priority,
		Rule:             commission.EncodeRule(rb.Rule),
		EffectiveFrom:    rb.EffectiveFrom.Format(dateLayout),
		ExpiresAfterDays: rb.ExpiresAfterDays,
	}
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetAccount returns one account and its balance.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Store.GetAccount(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Account not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acc))
}

// GetMovements returns every movement touching an account, oldest first.
// GET /api/accounts/{id}/movements
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.AccountID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetAccount(ctx, id); err != nil {
		h.writeDomainError(w, "Account not found", err)
		return
	}
	mvs, err := h.Store.Movements(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(mvs))
}

// ListCollectorAccounts returns the accounts a collector owns.
// GET /api/collectors/{id}/accounts
func (h *Handler) ListCollectorAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.AccountsOf(r.Context(), ledger.CollectorOwner(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, acc := range accounts {
		dtos[i] = toAccountDTO(acc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports whether the database answers.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 itself and
// reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, commission.ErrDuplicateCalculation),
		errors.Is(err, remuneration.ErrAlreadyRemunerated):
		return http.StatusConflict
	case commission.IsNotFound(err),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, remuneration.ErrRemunerationNotFound):
		return http.StatusNotFound
	case commission.IsClientError(err),
		remuneration.IsClientError(err),
		errors.Is(err, ledger.ErrInvalidMovementAmount),
		errors.Is(err, ledger.ErrInvalidAccount):
		return http.StatusBadRequest
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, "error", err)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
