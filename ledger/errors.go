/*
errors.go - Centralized error types for the ledger

ERROR CATEGORIES:
  1. Movement errors - rejected before anything is written
  2. Account errors - lookup / creation failures
  3. Store errors - transient persistence conflicts (retryable)

USAGE:
  if errors.Is(err, ledger.ErrInvalidMovementAmount) {
      // caller should have skipped a zero amount
  }
  if ledger.IsRetryable(err) {
      // safe to try again
  }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidMovementAmount is returned for amounts <= 0. Zero amounts
	// are skipped by callers, never recorded.
	ErrInvalidMovementAmount = errors.New("invalid movement amount")

	// ErrSameAccount is returned when source and destination are identical.
	ErrSameAccount = errors.New("movement source and destination are the same account")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAccount is returned for an unknown type or incomplete owner.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrDuplicateAccount is returned when (owner, type) already has an account.
	// Get-or-create treats it as a lost race and re-reads.
	ErrDuplicateAccount = errors.New("account already exists for owner and type")

	// ErrConcurrentModification is returned when the store detects a
	// conflicting concurrent write (busy database, lock timeout).
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTransactionFailed is returned when a batch cannot be committed.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// MovementError explains why a single movement request was rejected.
type MovementError struct {
	Index  int
	Source AccountID
	Dest   AccountID
	Amount decimal.Decimal
	Err    error
}

func (e *MovementError) Error() string {
	return fmt.Sprintf("movement %d (%s -> %s, %s): %v", e.Index, e.Source, e.Dest, e.Amount, e.Err)
}

func (e *MovementError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Business-rule failures are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
