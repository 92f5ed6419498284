package remuneration

import (
	"errors"
	"fmt"

	"github.com/warp/commission-engine/commission"
)

var (
	// ErrInvalidRemunerationInput is returned for a negative S or a
	// calculation that is not in a state that can be remunerated.
	ErrInvalidRemunerationInput = errors.New("invalid remuneration input")

	// ErrAlreadyRemunerated is returned when S from a calculation has
	// already been distributed.
	ErrAlreadyRemunerated = commission.ErrAlreadyRemunerated

	// ErrInvalidRubric is returned for malformed rubrics.
	ErrInvalidRubric = errors.New("invalid remuneration rubric")

	// ErrRemunerationNotFound is returned when a remuneration record is unknown.
	ErrRemunerationNotFound = errors.New("remuneration not found")
)

// RubricError names the rubric whose rule could not be evaluated.
type RubricError struct {
	RubricID string
	Err      error
}

func (e *RubricError) Error() string {
	return fmt.Sprintf("rubric %s: %v", e.RubricID, e.Err)
}

func (e *RubricError) Unwrap() error { return e.Err }

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRemunerationInput) ||
		errors.Is(err, ErrAlreadyRemunerated) ||
		errors.Is(err, ErrInvalidRubric)
}
