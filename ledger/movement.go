/*
movement.go - Balanced double-entry movement commit

PURPOSE:
  The Poster is the only way value moves between accounts. It validates
  requests, stamps them, and commits them through TxStore.WithTx so the
  debit, the credit and the append land together or not at all.

CRITICAL INVARIANTS:
  1. amount > 0 (zero amounts are the caller's to skip, never recorded)
  2. source != destination
  3. a batch commits entirely or leaves no trace
  4. destination gains exactly what source loses

RETRIES:
  A batch that fails with a transient store error (ErrConcurrentModification)
  is retried as a whole, up to Retry.Attempts. Validation failures are
  returned immediately.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Poster struct {
	Store TxStore
	Clock Clock
	Retry RetryPolicy
}

func NewPoster(store TxStore) *Poster {
	return &Poster{Store: store, Clock: SystemClock{}, Retry: DefaultRetry}
}

// Validate checks a request without touching the store.
func (p *Poster) Validate(req MovementRequest) error {
	if !Round(req.Amount).IsPositive() {
		return ErrInvalidMovementAmount
	}
	if req.Source == "" || req.Destination == "" {
		return ErrAccountNotFound
	}
	if req.Source == req.Destination {
		return ErrSameAccount
	}
	return nil
}

// Post commits a single movement.
func (p *Poster) Post(ctx context.Context, req MovementRequest) (Movement, error) {
	mvs, err := p.PostBatch(ctx, []MovementRequest{req})
	if err != nil {
		return Movement{}, err
	}
	return mvs[0], nil
}

// PostBatch commits every request atomically, in order.
func (p *Poster) PostBatch(ctx context.Context, reqs []MovementRequest) ([]Movement, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	for i, req := range reqs {
		if err := p.Validate(req); err != nil {
			return nil, &MovementError{Index: i, Source: req.Source, Dest: req.Destination, Amount: req.Amount, Err: err}
		}
	}

	now := p.Clock.Now()
	mvs := make([]Movement, len(reqs))
	for i, req := range reqs {
		mvs[i] = Movement{
			ID:          MovementID(uuid.NewString()),
			Source:      req.Source,
			Destination: req.Destination,
			Amount:      Round(req.Amount),
			Label:       req.Label,
			Direction:   req.Direction,
			Reference:   req.Reference,
			CreatedAt:   now,
		}
	}

	err := p.Retry.Do(ctx, func() error {
		return p.Store.WithTx(ctx, func(tx Store) error {
			for i, m := range mvs {
				if err := tx.ApplyMovement(ctx, m); err != nil {
					return &MovementError{Index: i, Source: m.Source, Dest: m.Destination, Amount: m.Amount, Err: err}
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("post %d movement(s): %w", len(mvs), err)
	}
	return mvs, nil
}
