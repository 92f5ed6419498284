/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts travel as decimal strings with two places ("18000.00"), never as
  JSON numbers.

VALIDATION:
  Request types carry validator tags; handlers call decode() which rejects
  malformed bodies with 400 before any domain code runs.

SEE ALSO:
  - handlers.go: Uses these types
  - commission/rulejson.go: RuleJSON
*/
package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
	"github.com/warp/commission-engine/remuneration"
)

const dateLayout = "2006-01-02"

var validate = validator.New()

// =============================================================================
// REQUESTS
// =============================================================================

// ProcessPeriodRequest triggers the commission calculation of one collector.
type ProcessPeriodRequest struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
	Force bool   `json:"force"`
}

// RemunerateRequest distributes either a calculation's S or an ad-hoc S.
type RemunerateRequest struct {
	CalculationID string  `json:"calculation_id,omitempty" validate:"required_without=S,excluded_with=S"`
	S             *string `json:"s,omitempty" validate:"omitempty,numeric"`
	AsOf          string  `json:"as_of,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// BatchRequest runs many collectors. An empty list means every collector.
type BatchRequest struct {
	CollectorIDs []string `json:"collector_ids" validate:"dive,required"`
	Start        string   `json:"start" validate:"required,datetime=2006-01-02"`
	End          string   `json:"end" validate:"required,datetime=2006-01-02"`
	Force        bool     `json:"force"`
}

// CreateParameterRequest defines the commission rule of one owner.
type CreateParameterRequest struct {
	ID      string              `json:"id" validate:"required"`
	Scope   string              `json:"scope" validate:"required,oneof=CLIENT COLLECTOR AGENCY"`
	OwnerID string              `json:"owner_id" validate:"required"`
	Label   string              `json:"label,omitempty" validate:"max=120"`
	Rule    commission.RuleJSON `json:"rule"`
}

// CreateRubricRequest declares a compensation rubric for a collector.
type CreateRubricRequest struct {
	ID               string              `json:"id" validate:"required"`
	CollectorID      string              `json:"collector_id" validate:"required"`
	Name             string              `json:"name" validate:"required,max=120"`
	Priority         int                 `json:"priority" validate:"min=0"`
	Rule             commission.RuleJSON `json:"rule"`
	EffectiveFrom    string              `json:"effective_from" validate:"required,datetime=2006-01-02"`
	ExpiresAfterDays *int                `json:"expires_after_days,omitempty" validate:"omitempty,min=1"`
}

// LoadScenarioRequest loads a demo data set.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type CalculationDTO struct {
	ID             string `json:"id"`
	CollectorID    string `json:"collector_id"`
	Start          string `json:"start"`
	End            string `json:"end"`
	S              string `json:"s"`
	ClientTax      string `json:"client_tax"`
	Status         string `json:"status"`
	PartialFailure bool   `json:"partial_failure"`
	Remunerated    bool   `json:"remunerated"`
	RemunerationID string `json:"remuneration_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ClientCommissionDTO struct {
	ClientID    string `json:"client_id"`
	Collected   string `json:"collected"`
	Commission  string `json:"commission"`
	Tax         string `json:"tax"`
	ParameterID string `json:"parameter_id"`
	Scope       string `json:"scope"`
}

type ClientFailureDTO struct {
	ClientID string `json:"client_id"`
	Error    string `json:"error"`
}

// ProcessPeriodResponse is the outcome of one collector's run.
type ProcessPeriodResponse struct {
	Calculation CalculationDTO        `json:"calculation"`
	Clients     []ClientCommissionDTO `json:"clients"`
	Skipped     []string              `json:"skipped"`
	Failures    []ClientFailureDTO    `json:"failures"`
}

type BatchItemDTO struct {
	CollectorID string                 `json:"collector_id"`
	Result      *ProcessPeriodResponse `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

type AllocationDTO struct {
	RubricID   string `json:"rubric_id"`
	Name       string `json:"name"`
	Vi         string `json:"vi"`
	FromPool   string `json:"from_pool"`
	FromCharge string `json:"from_charge"`
}

type RemunerationDTO struct {
	ID             string          `json:"id"`
	CollectorID    string          `json:"collector_id"`
	CalculationID  string          `json:"calculation_id,omitempty"`
	S              string          `json:"s"`
	TotalVi        string          `json:"total_vi"`
	Surplus        string          `json:"surplus"`
	Tax            string          `json:"tax"`
	ClientTaxTotal string          `json:"client_tax_total,omitempty"`
	Status         string          `json:"status"`
	Allocations    []AllocationDTO `json:"allocations"`
	Unpaid         []string        `json:"unpaid,omitempty"`
	Movements      []MovementDTO   `json:"movements,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

type AccountDTO struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Type      string `json:"type"`
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
	Balance   string `json:"balance"`
}

type MovementDTO struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Label       string `json:"label,omitempty"`
	Direction   string `json:"direction"`
	Reference   string `json:"reference,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type ParameterDTO struct {
	ID      string              `json:"id"`
	Scope   string              `json:"scope"`
	OwnerID string              `json:"owner_id"`
	Label   string              `json:"label,omitempty"`
	Rule    commission.RuleJSON `json:"rule"`
}

type RubricDTO struct {
	ID               string              `json:"id"`
	CollectorID      string              `json:"collector_id"`
	Name             string              `json:"name"`
	Priority         int                 `json:"priority"`
	Rule             commission.RuleJSON `json:"rule"`
	EffectiveFrom    string              `json:"effective_from"`
	ExpiresAfterDays *int                `json:"expires_after_days,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(ledger.Scale) }

func toCalculationDTO(rec commission.CalculationRecord) CalculationDTO {
	return CalculationDTO{
		ID:             rec.ID,
		CollectorID:    rec.CollectorID,
		Start:          rec.Period.Start.Format(dateLayout),
		End:            rec.Period.End.Format(dateLayout),
		S:              money(rec.S),
		ClientTax:      money(rec.ClientTax),
		Status:         string(rec.Status),
		PartialFailure: rec.PartialFailure,
		Remunerated:    rec.Remunerated,
		RemunerationID: rec.RemunerationID,
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
	}
}

func toProcessPeriodResponse(res *commission.Result) ProcessPeriodResponse {
	resp := ProcessPeriodResponse{
		Calculation: toCalculationDTO(res.Calculation),
		Clients:     make([]ClientCommissionDTO, len(res.Clients)),
		Skipped:     res.Skipped,
		Failures:    make([]ClientFailureDTO, len(res.Failures)),
	}
	if resp.Skipped == nil {
		resp.Skipped = []string{}
	}
	for i, c := range res.Clients {
		resp.Clients[i] = ClientCommissionDTO{
			ClientID:    c.ClientID,
			Collected:   money(c.Collected),
			Commission:  money(c.Commission),
			Tax:         money(c.Tax),
			ParameterID: c.ParameterID,
			Scope:       string(c.Scope),
		}
	}
	for i, f := range res.Failures {
		resp.Failures[i] = ClientFailureDTO{ClientID: f.ClientID, Error: f.Err.Error()}
	}
	return resp
}

func toRemunerationDTO(rec remuneration.Record) RemunerationDTO {
	dto := RemunerationDTO{
		ID:            rec.ID,
		CollectorID:   rec.CollectorID,
		CalculationID: rec.CalculationID,
		S:             money(rec.S),
		TotalVi:       money(rec.TotalVi),
		Surplus:       money(rec.Surplus),
		Tax:           money(rec.Tax),
		Status:        string(rec.Status),
		Allocations:   make([]AllocationDTO, len(rec.Allocations)),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.CalculationID != "" {
		dto.ClientTaxTotal = money(rec.ClientTaxTotal)
	}
	for i, a := range rec.Allocations {
		dto.Allocations[i] = AllocationDTO{
			RubricID:   a.RubricID,
			Name:       a.Name,
			Vi:         money(a.Vi),
			FromPool:   money(a.FromPool),
			FromCharge: money(a.FromCharge),
		}
	}
	return dto
}

func toAccountDTO(acc ledger.Account) AccountDTO {
	return AccountDTO{
		ID:        string(acc.ID),
		Number:    acc.Number,
		Type:      string(acc.Type),
		OwnerKind: string(acc.Owner.Kind),
		OwnerID:   acc.Owner.ID,
		Balance:   money(acc.Balance),
	}
}

func toMovementDTOs(mvs []ledger.Movement) []MovementDTO {
	dtos := make([]MovementDTO, len(mvs))
	for i, m := range mvs {
		dtos[i] = MovementDTO{
			ID:          string(m.ID),
			Source:      string(m.Source),
			Destination: string(m.Destination),
			Amount:      money(m.Amount),
			Label:       m.Label,
			Direction:   string(m.Direction),
			Reference:   m.Reference,
			CreatedAt:   m.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

func parsePeriod(start, end string) (commission.Period, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return commission.Period{}, err
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return commission.Period{}, err
	}
	p := commission.NewPeriod(s, e)
	return p, p.Validate()
}
