/*
store.go - Persistence interface for accounts and movements

PURPOSE:
  Defines the boundary between ledger logic and the database. The ledger
  never assumes an object graph is loaded: every account is fetched by id
  or by (owner, type) through this interface.

KEY INTERFACES:
  Store:   Account get/create, movement application and reads
  TxStore: Store + WithTx for all-or-nothing multi-movement commits

APPEND-ONLY CONTRACT:
  Movements are only ever appended. ApplyMovement is the single write that
  touches balances, and it always touches exactly two of them.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (production)
  - ledger/store/memory.go: In-memory (tests, dev)
*/
package ledger

import "context"

// Store persists accounts and movements.
type Store interface {
	// CreateAccount inserts a new account. Returns ErrDuplicateAccount if
	// the (owner, type) pair already has one.
	CreateAccount(ctx context.Context, acc Account) error

	// GetAccount returns ErrAccountNotFound when id is unknown.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// FindAccount looks an account up by owner and type.
	// Returns ErrAccountNotFound when absent.
	FindAccount(ctx context.Context, owner Owner, t AccountType) (*Account, error)

	// ApplyMovement debits Source, credits Destination and appends the
	// movement. Both balance updates and the append succeed or none do.
	ApplyMovement(ctx context.Context, m Movement) error

	// Movements returns every movement touching the account, oldest first.
	Movements(ctx context.Context, id AccountID) ([]Movement, error)

	// MovementsByReference returns the movements posted for one
	// calculation or remuneration, oldest first.
	MovementsByReference(ctx context.Context, ref string) ([]Movement, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back. If fn returns nil, they are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
