package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CHART OF ACCOUNTS - Lazy get-or-create of specialized accounts
// =============================================================================

// Chart resolves the one account an owner has for a given type, creating
// it with a zero balance on first access. Uniqueness is enforced by the
// store at the (owner, type) level; a lost creation race is resolved by
// re-reading the winner's account.
type Chart struct {
	Store Store
	Clock Clock
	Retry RetryPolicy
}

func NewChart(store Store) *Chart {
	return &Chart{Store: store, Clock: SystemClock{}, Retry: DefaultRetry}
}

// GetOrCreate is safe to call concurrently for the same (owner, type).
func (c *Chart) GetOrCreate(ctx context.Context, owner Owner, t AccountType) (*Account, error) {
	if !owner.Valid() || !t.Valid() {
		return nil, fmt.Errorf("%w: owner %s, type %q", ErrInvalidAccount, owner, t)
	}

	var acc *Account
	err := c.Retry.Do(ctx, func() error {
		found, err := c.Store.FindAccount(ctx, owner, t)
		if err == nil {
			acc = found
			return nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}

		created := Account{
			ID:        AccountID(uuid.NewString()),
			Number:    AccountNumber(owner, t),
			Type:      t,
			Owner:     owner,
			Balance:   decimal.Zero,
			CreatedAt: c.Clock.Now(),
		}
		err = c.Store.CreateAccount(ctx, created)
		switch {
		case err == nil:
			acc = &created
			return nil
		case errors.Is(err, ErrDuplicateAccount):
			// Someone else created it between our read and write.
			found, err := c.Store.FindAccount(ctx, owner, t)
			if err != nil {
				return err
			}
			acc = found
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("get or create %s account for %s: %w", t, owner, err)
	}
	return acc, nil
}

// Lookup resolves several account types for one owner.
func (c *Chart) Lookup(ctx context.Context, owner Owner, types ...AccountType) (map[AccountType]*Account, error) {
	out := make(map[AccountType]*Account, len(types))
	for _, t := range types {
		acc, err := c.GetOrCreate(ctx, owner, t)
		if err != nil {
			return nil, err
		}
		out[t] = acc
	}
	return out, nil
}
