package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// DIRECTORY (commission.Directory)
// =============================================================================

// SaveAgency inserts or renames an agency.
func (s *Store) SaveAgency(ctx context.Context, a commission.Agency) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO agencies (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, a.ID, a.Name, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save agency: %w", err)
	}
	return nil
}

// SaveCollector inserts or updates a collector. The agency must exist.
func (s *Store) SaveCollector(ctx context.Context, c commission.Collector) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO collectors (id, agency_id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET agency_id = excluded.agency_id, name = excluded.name
	`, c.ID, c.AgencyID, c.Name, formatTime(time.Now()))
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: agency %s", commission.ErrEntityNotFound, c.AgencyID)
		}
		return fmt.Errorf("failed to save collector: %w", err)
	}
	return nil
}

// SaveClient inserts or updates a client. The collector must exist.
func (s *Store) SaveClient(ctx context.Context, c commission.Client) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO clients (id, collector_id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET collector_id = excluded.collector_id, name = excluded.name
	`, c.ID, c.CollectorID, c.Name, formatTime(time.Now()))
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: collector %s", commission.ErrEntityNotFound, c.CollectorID)
		}
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// Client returns a client by id.
func (s *Store) Client(ctx context.Context, id string) (*commission.Client, error) {
	var c commission.Client
	err := s.q.QueryRowContext(ctx,
		`SELECT id, collector_id, name FROM clients WHERE id = ?`, id,
	).Scan(&c.ID, &c.CollectorID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: client %s", commission.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// Collector returns a collector by id.
func (s *Store) Collector(ctx context.Context, id string) (*commission.Collector, error) {
	var c commission.Collector
	err := s.q.QueryRowContext(ctx,
		`SELECT id, agency_id, name FROM collectors WHERE id = ?`, id,
	).Scan(&c.ID, &c.AgencyID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: collector %s", commission.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collector: %w", err)
	}
	return &c, nil
}

// ClientsOf lists a collector's clients in insertion order.
func (s *Store) ClientsOf(ctx context.Context, collectorID string) ([]commission.Client, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, collector_id, name FROM clients
		WHERE collector_id = ?
		ORDER BY rowid ASC
	`, collectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []commission.Client
	for rows.Next() {
		var c commission.Client
		if err := rows.Scan(&c.ID, &c.CollectorID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// CollectorIDs lists every collector, for whole-network batches.
func (s *Store) CollectorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM collectors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query collectors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// COLLECTIONS (commission.CollectionSource)
// =============================================================================

// Collection is one amount a client handed over on a given day.
type Collection struct {
	ID       string
	ClientID string
	Date     time.Time
	Amount   decimal.Decimal
}

// RecordCollection stores a collection entry. The client must exist.
func (s *Store) RecordCollection(ctx context.Context, c Collection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO collections (id, client_id, collected_on, amount, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.ClientID, formatDate(c.Date), c.Amount.String(), formatTime(time.Now()))
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: client %s", commission.ErrEntityNotFound, c.ClientID)
		}
		return fmt.Errorf("failed to record collection: %w", err)
	}
	return nil
}

// CollectedAmount sums a client's entries with Start <= date <= End.
// Amounts are summed as decimals, not by SQLite.
func (s *Store) CollectedAmount(ctx context.Context, clientID string, p commission.Period) (decimal.Decimal, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT amount FROM collections
		WHERE client_id = ? AND collected_on >= ? AND collected_on <= ?
	`, clientID, formatDate(p.Start), formatDate(p.End))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan collection: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt collection amount %q: %w", amount, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// =============================================================================
// PARAMETERS (commission.ParameterStore)
// =============================================================================

// SaveParameter inserts or replaces the parameter for (scope, owner).
func (s *Store) SaveParameter(ctx context.Context, p commission.Parameter) error {
	ruleJSON, err := commission.MarshalRule(p.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.withTx(ctx, func(ts *Store) error {
		if _, err := ts.q.ExecContext(ctx,
			`DELETE FROM parameters WHERE scope = ? AND owner_id = ?`, p.Scope, p.OwnerID); err != nil {
			return mapError(fmt.Errorf("failed to replace parameter: %w", err))
		}
		_, err := ts.q.ExecContext(ctx, `
			INSERT INTO parameters (id, scope, owner_id, label, rule_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.ID, p.Scope, p.OwnerID, p.Label, ruleJSON, formatTime(createdAt))
		if err != nil {
			return mapError(fmt.Errorf("failed to save parameter: %w", err))
		}
		return nil
	})
}

// ParameterFor returns the parameter owned by (scope, owner).
func (s *Store) ParameterFor(ctx context.Context, scope commission.Scope, ownerID string) (*commission.Parameter, error) {
	var (
		p         commission.Parameter
		label     sql.NullString
		ruleJSON  string
		createdAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, scope, owner_id, label, rule_json, created_at
		FROM parameters WHERE scope = ? AND owner_id = ?
	`, scope, ownerID).Scan(&p.ID, &p.Scope, &p.OwnerID, &label, &ruleJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, commission.ErrParameterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parameter: %w", err)
	}

	p.Rule, err = commission.UnmarshalRule(ruleJSON)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", p.ID, err)
	}
	p.Label = label.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// CALCULATIONS (commission.CalculationStore)
// =============================================================================

const calculationColumns = `id, collector_id, period_start, period_end, s, client_tax, status,
	partial_failure, remunerated, remuneration_id, created_at, updated_at`

// ClaimCalculation inserts a record. idx_calculations_active rejects a
// second live record for the same exact period.
func (s *Store) ClaimCalculation(ctx context.Context, rec commission.CalculationRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO calculations (`+calculationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.CollectorID,
		formatDate(rec.Period.Start),
		formatDate(rec.Period.End),
		rec.S.String(),
		rec.ClientTax.String(),
		rec.Status,
		rec.PartialFailure,
		rec.Remunerated,
		nullString(rec.RemunerationID),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return commission.ErrDuplicateCalculation
		}
		return mapError(fmt.Errorf("failed to claim calculation: %w", err))
	}
	return nil
}

// ActiveCalculation returns the live record for the exact period.
func (s *Store) ActiveCalculation(ctx context.Context, collectorID string, p commission.Period) (*commission.CalculationRecord, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+calculationColumns+` FROM calculations
		WHERE collector_id = ? AND period_start = ? AND period_end = ? AND status != 'cancelled'
	`, collectorID, formatDate(p.Start), formatDate(p.End))
	return scanCalculation(row)
}

// GetCalculation returns a record by id.
func (s *Store) GetCalculation(ctx context.Context, id string) (*commission.CalculationRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+calculationColumns+` FROM calculations WHERE id = ?`, id)
	return scanCalculation(row)
}

// UpdateCalculation overwrites the mutable fields of a record.
func (s *Store) UpdateCalculation(ctx context.Context, rec commission.CalculationRecord) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE calculations SET
			s = ?, client_tax = ?, status = ?, partial_failure = ?,
			remunerated = ?, remuneration_id = ?, updated_at = ?
		WHERE id = ?
	`,
		rec.S.String(),
		rec.ClientTax.String(),
		rec.Status,
		rec.PartialFailure,
		rec.Remunerated,
		nullString(rec.RemunerationID),
		formatTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return commission.ErrDuplicateCalculation
		}
		return mapError(fmt.Errorf("failed to update calculation: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.ErrCalculationNotFound
	}
	return nil
}

// CalculationsFor lists a collector's records, newest period first.
func (s *Store) CalculationsFor(ctx context.Context, collectorID string) ([]commission.CalculationRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+calculationColumns+` FROM calculations
		WHERE collector_id = ?
		ORDER BY period_start DESC, created_at DESC
	`, collectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calculations: %w", err)
	}
	defer rows.Close()

	var records []commission.CalculationRecord
	for rows.Next() {
		rec, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanCalculation(row scanner) (*commission.CalculationRecord, error) {
	var (
		rec                  commission.CalculationRecord
		start, end           string
		sum, clientTax       string
		remunerationID       sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&rec.ID, &rec.CollectorID, &start, &end, &sum, &clientTax, &rec.Status,
		&rec.PartialFailure, &rec.Remunerated, &remunerationID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, commission.ErrCalculationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan calculation: %w", err)
	}

	rec.Period = commission.NewPeriod(parseDate(start), parseDate(end))
	rec.S = decimal.RequireFromString(sum)
	rec.ClientTax = decimal.RequireFromString(clientTax)
	rec.RemunerationID = remunerationID.String
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}
