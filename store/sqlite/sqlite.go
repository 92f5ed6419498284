/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every data-access boundary of the engine using SQLite. In
  production the same patterns apply to PostgreSQL with minor dialect
  differences.

INTERFACES IMPLEMENTED:
  ledger.TxStore:               Accounts, movements, atomic WithTx
  commission.Directory:         Agencies, collectors, clients
  commission.CollectionSource:  Client collection entries
  commission.ParameterStore:    Commission parameters (rule as JSON)
  commission.CalculationStore:  Calculation records (idempotence guard)
  remuneration.RubricStore:     Compensation rubrics
  remuneration.RecordStore:     Remuneration records

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the movements table
  - Balances change only inside ApplyMovement, together with the append

KEY CONSTRAINTS:
  - idx_accounts_owner_type: one account per (owner, type)
  - idx_calculations_active: one non-cancelled calculation per
    (collector, period_start, period_end)
  - idx_remunerations_calculation: one remuneration per calculation

CONCURRENCY:
  The pool is limited to one connection, so SQLite sees a single writer.
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate) so the
  balance read-modify-write in ApplyMovement cannot interleave. A busy
  database surfaces as ledger.ErrConcurrentModification, which the ledger
  retries.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  chart := ledger.NewChart(store)
  poster := ledger.NewPoster(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Ledger interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/commission-engine/ledger"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
//
// Inside WithTx the callback receives a copy of the Store bound to the
// transaction; every method then runs on that transaction.
type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Directory
	CREATE TABLE IF NOT EXISTS agencies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collectors (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_collectors_agency
		ON collectors(agency_id);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		collector_id TEXT NOT NULL REFERENCES collectors(id),
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clients_collector
		ON clients(collector_id);

	-- Collections (what each client handed to its collector, per day)
	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		collected_on TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Period sums per client (hot path)
	CREATE INDEX IF NOT EXISTS idx_collections_client_date
		ON collections(client_id, collected_on);

	-- Accounts (one per owner and type)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		owner_kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_owner_type
		ON accounts(owner_kind, owner_id, type);

	-- Movements (append-only)
	CREATE TABLE IF NOT EXISTS movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source_id TEXT NOT NULL REFERENCES accounts(id),
		destination_id TEXT NOT NULL REFERENCES accounts(id),
		amount TEXT NOT NULL,
		label TEXT,
		direction TEXT NOT NULL,
		reference TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_source
		ON movements(source_id);
	CREATE INDEX IF NOT EXISTS idx_movements_destination
		ON movements(destination_id);
	CREATE INDEX IF NOT EXISTS idx_movements_reference
		ON movements(reference) WHERE reference IS NOT NULL;

	-- Commission parameters (at most one per scope and owner)
	CREATE TABLE IF NOT EXISTS parameters (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		label TEXT,
		rule_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_parameters_scope_owner
		ON parameters(scope, owner_id);

	-- Calculation records
	CREATE TABLE IF NOT EXISTS calculations (
		id TEXT PRIMARY KEY,
		collector_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		s TEXT NOT NULL,
		client_tax TEXT NOT NULL,
		status TEXT NOT NULL,
		partial_failure BOOLEAN DEFAULT FALSE,
		remunerated BOOLEAN DEFAULT FALSE,
		remuneration_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one live calculation per collector and exact period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_calculations_active
		ON calculations(collector_id, period_start, period_end)
		WHERE status != 'cancelled';

	CREATE INDEX IF NOT EXISTS idx_calculations_collector
		ON calculations(collector_id, period_start DESC);

	-- Remuneration rubrics (seq keeps declaration order)
	CREATE TABLE IF NOT EXISTS rubrics (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		collector_id TEXT NOT NULL,
		name TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		rule_json TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		expires_after_days INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rubrics_collector
		ON rubrics(collector_id);

	-- Remuneration records
	CREATE TABLE IF NOT EXISTS remunerations (
		id TEXT PRIMARY KEY,
		collector_id TEXT NOT NULL,
		calculation_id TEXT,
		period_start TEXT,
		period_end TEXT,
		s TEXT NOT NULL,
		total_vi TEXT NOT NULL,
		surplus TEXT NOT NULL,
		tax TEXT NOT NULL,
		client_tax_total TEXT NOT NULL,
		status TEXT NOT NULL,
		allocations_json TEXT,
		movement_ids_json TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the same S is never distributed twice
	CREATE UNIQUE INDEX IF NOT EXISTS idx_remunerations_calculation
		ON remunerations(calculation_id) WHERE calculation_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_remunerations_collector
		ON remunerations(collector_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. fn must only use the
// Store it is given.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	return s.withTx(ctx, func(ts *Store) error { return fn(ts) })
}

func (s *Store) withTx(ctx context.Context, fn func(ts *Store) error) error {
	if s.tx != nil {
		// Already inside a transaction: join it.
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isBusyError(err) {
			return mapError(err)
		}
		return fmt.Errorf("%w: %v", ledger.ErrTransactionFailed, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func isBusyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

// mapError turns SQLite contention into the ledger's retryable error.
func mapError(err error) error {
	if isBusyError(err) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}
