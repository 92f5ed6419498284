package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/ledger"
)

// =============================================================================
// ACCOUNTS (ledger.Store)
// =============================================================================

const accountColumns = `id, number, type, owner_kind, owner_id, balance, created_at`

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, acc ledger.Account) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		acc.ID,
		acc.Number,
		acc.Type,
		acc.Owner.Kind,
		acc.Owner.ID,
		ledger.Round(acc.Balance).String(),
		formatTime(acc.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateAccount
		}
		return mapError(fmt.Errorf("failed to create account: %w", err))
	}
	return nil
}

// GetAccount returns an account by id.
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// FindAccount returns the account an owner has for a type.
func (s *Store) FindAccount(ctx context.Context, owner ledger.Owner, t ledger.AccountType) (*ledger.Account, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE owner_kind = ? AND owner_id = ? AND type = ?
	`, owner.Kind, owner.ID, t)
	return scanAccount(row)
}

// AccountsOf lists every account of an owner.
func (s *Store) AccountsOf(ctx context.Context, owner ledger.Owner) ([]ledger.Account, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE owner_kind = ? AND owner_id = ?
		ORDER BY type
	`, owner.Kind, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// TotalBalance sums every account balance. In a closed system it is zero.
func (s *Store) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT balance FROM accounts`)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(decimal.RequireFromString(b))
	}
	return total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*ledger.Account, error) {
	var (
		acc       ledger.Account
		balance   string
		createdAt string
	)
	err := row.Scan(&acc.ID, &acc.Number, &acc.Type, &acc.Owner.Kind, &acc.Owner.ID, &balance, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acc.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("account %s has corrupt balance %q: %w", acc.ID, balance, err)
	}
	acc.CreatedAt = parseTime(createdAt)
	return &acc, nil
}

// =============================================================================
// MOVEMENTS (ledger.Store)
// =============================================================================

const movementColumns = `id, source_id, destination_id, amount, label, direction, reference, created_at`

// ApplyMovement debits the source, credits the destination and appends
// the movement. Outside WithTx it opens its own transaction.
func (s *Store) ApplyMovement(ctx context.Context, m ledger.Movement) error {
	if s.tx == nil {
		return s.withTx(ctx, func(ts *Store) error { return ts.ApplyMovement(ctx, m) })
	}

	if m.Source == m.Destination {
		return ledger.ErrSameAccount
	}
	src, err := s.GetAccount(ctx, m.Source)
	if err != nil {
		return err
	}
	dst, err := s.GetAccount(ctx, m.Destination)
	if err != nil {
		return err
	}

	if err := s.setBalance(ctx, src.ID, src.Balance.Sub(m.Amount)); err != nil {
		return err
	}
	if err := s.setBalance(ctx, dst.ID, dst.Balance.Add(m.Amount)); err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID,
		m.Source,
		m.Destination,
		m.Amount.String(),
		m.Label,
		m.Direction,
		nullString(m.Reference),
		formatTime(m.CreatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to append movement: %w", err))
	}
	return nil
}

func (s *Store) setBalance(ctx context.Context, id ledger.AccountID, balance decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, ledger.Round(balance).String(), id)
	if err != nil {
		return mapError(fmt.Errorf("failed to update balance of %s: %w", id, err))
	}
	return nil
}

// Movements returns every movement touching the account, oldest first.
func (s *Store) Movements(ctx context.Context, id ledger.AccountID) ([]ledger.Movement, error) {
	return s.queryMovements(ctx, `
		SELECT `+movementColumns+` FROM movements
		WHERE source_id = ? OR destination_id = ?
		ORDER BY seq ASC
	`, id, id)
}

// MovementsByReference returns the movements posted under a reference.
func (s *Store) MovementsByReference(ctx context.Context, ref string) ([]ledger.Movement, error) {
	return s.queryMovements(ctx, `
		SELECT `+movementColumns+` FROM movements
		WHERE reference = ?
		ORDER BY seq ASC
	`, ref)
}

func (s *Store) queryMovements(ctx context.Context, query string, args ...any) ([]ledger.Movement, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		var (
			m         ledger.Movement
			amount    string
			label     sql.NullString
			reference sql.NullString
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Source, &m.Destination, &amount, &label, &m.Direction, &reference, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.Amount = decimal.RequireFromString(amount)
		m.Label = label.String
		m.Reference = reference.String
		m.CreatedAt = parseTime(createdAt)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
