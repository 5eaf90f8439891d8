package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/pkg/types"
)

const recordColumns = `
	version_id, logical_id, record_kind, user_id,
	valid_from, valid_to, stored_from, stored_to,
	is_current, superseded_by, fields
`

// Put inserts the first version of a logical record or supersedes the
// current one. Same contract as the SQLite backend: close-current plus
// insert-new in one transaction, with the conditional UPDATE acting as the
// optimistic check.
func (s *Store) Put(ctx context.Context, logicalID string, in storage.PutInput, now time.Time) (string, error) {
	if logicalID == "" {
		return "", fmt.Errorf("%w: logical id is required", storage.ErrValidation)
	}
	if in.Kind == "" {
		return "", fmt.Errorf("%w: record kind is required", storage.ErrValidation)
	}

	now = now.UTC()
	validFrom := in.ValidFrom.UTC()
	if in.ValidFrom.IsZero() {
		validFrom = now
	}
	validTo := in.ValidTo.UTC()
	if in.ValidTo.IsZero() {
		validTo = types.Infinity
	}
	if !validFrom.Before(validTo) {
		return "", fmt.Errorf("%w: valid_from %s must precede valid_to %s",
			storage.ErrValidation, validFrom.Format(time.RFC3339), validTo.Format(time.RFC3339))
	}

	fieldsJSON, err := json.Marshal(in.Fields)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to marshal fields: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var curVersion string
	var curStoredFrom time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT version_id, stored_from FROM versioned_records WHERE logical_id = $1 AND is_current`,
		logicalID,
	).Scan(&curVersion, &curStoredFrom)

	switch {
	case err == sql.ErrNoRows:
		if in.ExpectVersion != "" {
			return "", fmt.Errorf("%w: no current row for %s (expected version %s)",
				storage.ErrConflict, logicalID, in.ExpectVersion)
		}
		curVersion = ""
	case err != nil:
		return "", fmt.Errorf("postgres: failed to read current row: %w", err)
	default:
		if in.ExpectVersion != "" && in.ExpectVersion != curVersion {
			return "", fmt.Errorf("%w: current version of %s is %s, expected %s",
				storage.ErrConflict, logicalID, curVersion, in.ExpectVersion)
		}
	}

	newVersion := uuid.NewString()
	storedFrom := now

	if curVersion != "" {
		// Keep stored intervals strictly increasing even when two writes
		// land inside the same clock tick.
		if !storedFrom.After(curStoredFrom.UTC()) {
			storedFrom = curStoredFrom.UTC().Add(time.Microsecond)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE versioned_records
			 SET stored_to = $1, is_current = FALSE, superseded_by = $2
			 WHERE version_id = $3 AND is_current`,
			storedFrom, newVersion, curVersion,
		)
		if err != nil {
			return "", fmt.Errorf("postgres: failed to close current row: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("postgres: failed to check rows affected: %w", err)
		}
		if n != 1 {
			return "", fmt.Errorf("%w: current row of %s changed during supersession", storage.ErrConflict, logicalID)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO versioned_records (
			version_id, logical_id, record_kind, user_id,
			valid_from, valid_to, stored_from, stored_to,
			is_current, superseded_by, fields
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, NULL, $9)`,
		newVersion, logicalID, in.Kind, in.UserID,
		validFrom, validTo, storedFrom, types.Infinity,
		nullableBytes(fieldsJSON),
	)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("postgres: failed to commit supersession: %w", err)
	}

	return newVersion, nil
}

// GetCurrent returns the row with is_current = true.
func (s *Store) GetCurrent(ctx context.Context, logicalID string) (*types.Record, error) {
	if logicalID == "" {
		return nil, fmt.Errorf("%w: logical id is required", storage.ErrValidation)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM versioned_records WHERE logical_id = $1 AND is_current`,
		logicalID,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get current row: %w", err)
	}
	return rec, nil
}

// GetAsOf returns the row satisfying both bi-temporal predicates. Multiple
// candidates mean imperfect historical data; the most recently believed row
// wins with a logged consistency warning.
func (s *Store) GetAsOf(ctx context.Context, logicalID string, validAt, storedAt time.Time) (*types.Record, error) {
	if logicalID == "" {
		return nil, fmt.Errorf("%w: logical id is required", storage.ErrValidation)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+`
		 FROM versioned_records
		 WHERE logical_id = $1
		   AND valid_from <= $2 AND $2 < valid_to
		   AND stored_from <= $3 AND $3 < stored_to
		 ORDER BY stored_from DESC`,
		logicalID, validAt.UTC(), storedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: as-of query failed: %w", err)
	}
	defer rows.Close()

	var matches []*types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan as-of row: %w", err)
		}
		matches = append(matches, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: as-of rows: %w", err)
	}

	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	if len(matches) > 1 {
		log.Printf("postgres: consistency warning: %d rows satisfy as-of query for %s; returning latest belief",
			len(matches), logicalID)
	}
	return matches[0], nil
}

// History returns every version of a logical record, oldest first.
func (s *Store) History(ctx context.Context, logicalID string) ([]types.Record, error) {
	if logicalID == "" {
		return nil, fmt.Errorf("%w: logical id is required", storage.ErrValidation)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM versioned_records WHERE logical_id = $1 ORDER BY stored_from ASC`,
		logicalID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: history query failed: %w", err)
	}
	defer rows.Close()

	var history []types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan history row: %w", err)
		}
		history = append(history, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: history rows: %w", err)
	}
	return history, nil
}

// ListCurrent returns all current records of one kind for a user.
func (s *Store) ListCurrent(ctx context.Context, userID, kind string) ([]types.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+`
		 FROM versioned_records
		 WHERE user_id = $1 AND record_kind = $2 AND is_current
		 ORDER BY logical_id ASC`,
		userID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list current failed: %w", err)
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan current row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list current rows: %w", err)
	}
	return records, nil
}

// UpdateCurrentFields rewrites the current row's payload in place without
// opening a new version.
func (s *Store) UpdateCurrentFields(ctx context.Context, logicalID string, fields map[string]interface{}) error {
	if logicalID == "" {
		return fmt.Errorf("%w: logical id is required", storage.ErrValidation)
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal fields: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE versioned_records SET fields = $1 WHERE logical_id = $2 AND is_current`,
		string(fieldsJSON), logicalID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update current fields: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Touch refreshes last_accessed_at, increments access_count, and nudges the
// stored relevance score up on the current row. Conditional on version_id so
// a concurrent supersession drops the touch instead of corrupting it.
func (s *Store) Touch(ctx context.Context, logicalID string, now time.Time) error {
	rec, err := s.GetCurrent(ctx, logicalID)
	if err != nil {
		return err
	}

	fields := rec.Fields
	if fields == nil {
		fields = make(map[string]interface{})
	}

	var count int
	switch v := fields["access_count"].(type) {
	case float64:
		count = int(v)
	case int:
		count = v
	}
	fields["access_count"] = count + 1
	fields["last_accessed_at"] = now.UTC().Format(time.RFC3339Nano)

	score, _ := fields["relevance_score"].(float64)
	score += 0.1
	if score > 1.0 {
		score = 1.0
	}
	fields["relevance_score"] = score

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE versioned_records SET fields = $1 WHERE version_id = $2 AND is_current`,
		string(fieldsJSON), rec.VersionID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to touch record: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord decodes one versioned_records row.
func scanRecord(row rowScanner) (*types.Record, error) {
	var rec types.Record
	var supersededBy, fieldsJSON sql.NullString

	err := row.Scan(
		&rec.VersionID,
		&rec.LogicalID,
		&rec.Kind,
		&rec.UserID,
		&rec.ValidFrom,
		&rec.ValidTo,
		&rec.StoredFrom,
		&rec.StoredTo,
		&rec.IsCurrent,
		&supersededBy,
		&fieldsJSON,
	)
	if err != nil {
		return nil, err
	}

	if supersededBy.Valid {
		rec.SupersededBy = supersededBy.String
	}
	if fieldsJSON.Valid && fieldsJSON.String != "" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}

	rec.ValidFrom = rec.ValidFrom.UTC()
	rec.ValidTo = rec.ValidTo.UTC()
	rec.StoredFrom = rec.StoredFrom.UTC()
	rec.StoredTo = rec.StoredTo.UTC()

	return &rec, nil
}
