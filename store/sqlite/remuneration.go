package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
	"github.com/warp/commission-engine/remuneration"
)

// =============================================================================
// RUBRICS (remuneration.RubricStore)
// =============================================================================

// SaveRubric inserts or replaces a rubric. A replaced rubric keeps its
// declaration position.
func (s *Store) SaveRubric(ctx context.Context, r remuneration.Rubric) error {
	ruleJSON, err := commission.MarshalRule(r.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var expires sql.NullInt64
	if r.ExpiresAfterDays != nil {
		expires = sql.NullInt64{Int64: int64(*r.ExpiresAfterDays), Valid: true}
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO rubrics (id, collector_id, name, priority, rule_json, effective_from, expires_after_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			collector_id = excluded.collector_id,
			name = excluded.name,
			priority = excluded.priority,
			rule_json = excluded.rule_json,
			effective_from = excluded.effective_from,
			expires_after_days = excluded.expires_after_days
	`, r.ID, r.CollectorID, r.Name, r.Priority, ruleJSON, formatTime(r.EffectiveFrom), expires, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to save rubric: %w", err)
	}
	return nil
}

// RubricsFor returns a collector's rubrics in declaration order.
func (s *Store) RubricsFor(ctx context.Context, collectorID string) ([]remuneration.Rubric, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, collector_id, name, priority, rule_json, effective_from, expires_after_days, created_at
		FROM rubrics WHERE collector_id = ?
		ORDER BY seq ASC
	`, collectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rubrics: %w", err)
	}
	defer rows.Close()

	var rubrics []remuneration.Rubric
	for rows.Next() {
		var (
			r                        remuneration.Rubric
			ruleJSON                 string
			effectiveFrom, createdAt string
			expires                  sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.CollectorID, &r.Name, &r.Priority, &ruleJSON, &effectiveFrom, &expires, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rubric: %w", err)
		}
		r.Rule, err = commission.UnmarshalRule(ruleJSON)
		if err != nil {
			return nil, fmt.Errorf("rubric %s: %w", r.ID, err)
		}
		r.EffectiveFrom = parseTime(effectiveFrom)
		r.CreatedAt = parseTime(createdAt)
		if expires.Valid {
			days := int(expires.Int64)
			r.ExpiresAfterDays = &days
		}
		rubrics = append(rubrics, r)
	}
	return rubrics, rows.Err()
}

// =============================================================================
// REMUNERATION RECORDS (remuneration.RecordStore)
// =============================================================================

const remunerationColumns = `id, collector_id, calculation_id, period_start, period_end, s, total_vi,
	surplus, tax, client_tax_total, status, allocations_json, movement_ids_json, created_at`

// ClaimRemuneration inserts a pending record. idx_remunerations_calculation
// rejects a second record for the same calculation.
func (s *Store) ClaimRemuneration(ctx context.Context, rec remuneration.Record) error {
	allocations, err := json.Marshal(rec.Allocations)
	if err != nil {
		return fmt.Errorf("failed to encode allocations: %w", err)
	}
	movementIDs, err := json.Marshal(rec.MovementIDs)
	if err != nil {
		return fmt.Errorf("failed to encode movement ids: %w", err)
	}

	var start, end sql.NullString
	if !rec.Period.Start.IsZero() {
		start = nullString(formatDate(rec.Period.Start))
		end = nullString(formatDate(rec.Period.End))
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO remunerations (`+remunerationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.CollectorID,
		nullString(rec.CalculationID),
		start,
		end,
		rec.S.String(),
		rec.TotalVi.String(),
		rec.Surplus.String(),
		rec.Tax.String(),
		rec.ClientTaxTotal.String(),
		rec.Status,
		string(allocations),
		string(movementIDs),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: calculation %s", remuneration.ErrAlreadyRemunerated, rec.CalculationID)
		}
		return mapError(fmt.Errorf("failed to claim remuneration: %w", err))
	}
	return nil
}

// CompleteRemuneration stores the final status and movement ids.
func (s *Store) CompleteRemuneration(ctx context.Context, rec remuneration.Record) error {
	movementIDs, err := json.Marshal(rec.MovementIDs)
	if err != nil {
		return fmt.Errorf("failed to encode movement ids: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE remunerations SET status = ?, movement_ids_json = ? WHERE id = ?
	`, rec.Status, string(movementIDs), rec.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to complete remuneration: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return remuneration.ErrRemunerationNotFound
	}
	return nil
}

// ReleaseRemuneration deletes a pending claim. Completed records are kept.
func (s *Store) ReleaseRemuneration(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM remunerations WHERE id = ? AND status = ?`, id, remuneration.StatusPending)
	if err != nil {
		return mapError(fmt.Errorf("failed to release remuneration: %w", err))
	}
	return nil
}

// GetRemuneration returns a record by id.
func (s *Store) GetRemuneration(ctx context.Context, id string) (*remuneration.Record, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+remunerationColumns+` FROM remunerations WHERE id = ?`, id)
	return scanRemuneration(row)
}

// RemunerationsFor lists a collector's records, newest first.
func (s *Store) RemunerationsFor(ctx context.Context, collectorID string) ([]remuneration.Record, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+remunerationColumns+` FROM remunerations
		WHERE collector_id = ?
		ORDER BY created_at DESC
	`, collectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query remunerations: %w", err)
	}
	defer rows.Close()

	var records []remuneration.Record
	for rows.Next() {
		rec, err := scanRemuneration(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRemuneration(row scanner) (*remuneration.Record, error) {
	var (
		rec                              remuneration.Record
		calculationID, start, end        sql.NullString
		sum, totalVi, surplus, tax, ctax string
		allocations, movementIDs         sql.NullString
		createdAt                        string
	)
	err := row.Scan(
		&rec.ID, &rec.CollectorID, &calculationID, &start, &end,
		&sum, &totalVi, &surplus, &tax, &ctax, &rec.Status,
		&allocations, &movementIDs, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, remuneration.ErrRemunerationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan remuneration: %w", err)
	}

	rec.CalculationID = calculationID.String
	if start.Valid && end.Valid {
		rec.Period = commission.NewPeriod(parseDate(start.String), parseDate(end.String))
	}
	rec.S = decimal.RequireFromString(sum)
	rec.TotalVi = decimal.RequireFromString(totalVi)
	rec.Surplus = decimal.RequireFromString(surplus)
	rec.Tax = decimal.RequireFromString(tax)
	rec.ClientTaxTotal = decimal.RequireFromString(ctax)
	rec.CreatedAt = parseTime(createdAt)

	if allocations.Valid && allocations.String != "" {
		if err := json.Unmarshal([]byte(allocations.String), &rec.Allocations); err != nil {
			return nil, fmt.Errorf("remuneration %s: corrupt allocations: %w", rec.ID, err)
		}
	}
	if movementIDs.Valid && movementIDs.String != "" {
		var ids []ledger.MovementID
		if err := json.Unmarshal([]byte(movementIDs.String), &ids); err != nil {
			return nil, fmt.Errorf("remuneration %s: corrupt movement ids: %w", rec.ID, err)
		}
		rec.MovementIDs = ids
	}
	return &rec, nil
}
