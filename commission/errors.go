/*
errors.go - Error types for commission computation

ERROR CATEGORIES:
  1. Configuration errors - invalid tiers, missing parameter. Fatal for the
     affected unit, never retried.
  2. Idempotence errors - duplicate calculation for (collector, period).
  3. Lookup errors - unknown entity or record.
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTierConfiguration is returned when a tier set is unsorted,
	// overlapping, non-contiguous, or has an out-of-range rate.
	ErrInvalidTierConfiguration = errors.New("invalid tier configuration")

	// ErrNoApplicableTier is returned when no tier contains the amount.
	ErrNoApplicableTier = errors.New("no applicable tier")

	// ErrNoCommissionParameterFound is returned when neither the client,
	// its collector, nor the collector's agency has a parameter.
	ErrNoCommissionParameterFound = errors.New("no commission parameter found")

	// ErrParameterNotFound is returned by a ParameterStore for a single
	// (scope, owner) miss. The resolver turns a full miss into
	// ErrNoCommissionParameterFound.
	ErrParameterNotFound = errors.New("parameter not found")

	// ErrInvalidParameter is returned for malformed parameters or rules.
	ErrInvalidParameter = errors.New("invalid commission parameter")

	// ErrDuplicateCalculation is returned when a non-cancelled calculation
	// already exists for the collector and exact period.
	ErrDuplicateCalculation = errors.New("duplicate calculation")

	// ErrAlreadyRemunerated is returned when S from a calculation has
	// already been distributed. Such a calculation can no longer be
	// replaced, even with Force.
	ErrAlreadyRemunerated = errors.New("calculation already remunerated")

	// ErrCalculationNotFound is returned when a calculation record is unknown.
	ErrCalculationNotFound = errors.New("calculation not found")

	// ErrEntityNotFound is returned for unknown agencies, collectors, clients.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TierConfigError pinpoints the tier that broke the set.
type TierConfigError struct {
	Index  int
	Reason string
}

func (e *TierConfigError) Error() string {
	return fmt.Sprintf("invalid tier configuration at tier %d: %s", e.Index, e.Reason)
}

func (e *TierConfigError) Unwrap() error { return ErrInvalidTierConfiguration }

// NoParameterError lists every level that was searched.
type NoParameterError struct {
	ClientID    string
	CollectorID string
	AgencyID    string
}

func (e *NoParameterError) Error() string {
	return fmt.Sprintf("no commission parameter for client %s (collector %s, agency %s)",
		e.ClientID, e.CollectorID, e.AgencyID)
}

func (e *NoParameterError) Unwrap() error { return ErrNoCommissionParameterFound }

// DuplicateCalculationError identifies the record that already covers
// the period.
type DuplicateCalculationError struct {
	CollectorID string
	Period      Period
	ExistingID  string
}

func (e *DuplicateCalculationError) Error() string {
	return fmt.Sprintf("calculation already exists for collector %s over %s (record %s)",
		e.CollectorID, e.Period, e.ExistingID)
}

func (e *DuplicateCalculationError) Unwrap() error { return ErrDuplicateCalculation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigurationError reports errors that will not go away by retrying.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidTierConfiguration) ||
		errors.Is(err, ErrNoApplicableTier) ||
		errors.Is(err, ErrNoCommissionParameterFound) ||
		errors.Is(err, ErrInvalidParameter)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return IsConfigurationError(err) ||
		errors.Is(err, ErrDuplicateCalculation) ||
		errors.Is(err, ErrAlreadyRemunerated) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrCalculationNotFound) ||
		errors.Is(err, ErrParameterNotFound)
}
