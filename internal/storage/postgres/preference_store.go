package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/pkg/types"
)

const (
	// observeNudge: confidence' = confidence + (1 - confidence) * nudge.
	observeNudge = 0.1

	// shiftConfidence is assigned when an observation contradicts the
	// current value.
	shiftConfidence = 0.3
)

const preferenceColumns = `
	id, user_id, key, value, valid_from, valid_to, is_current, confidence, observation_count
`

// SetPreference closes the prior current fact for (userID, key) if present
// and inserts a new current fact. Both writes commit in one transaction.
func (s *Store) SetPreference(ctx context.Context, userID, key, value string, confidence float64, now time.Time) (*types.PreferenceFact, error) {
	return s.setPreference(ctx, userID, key, value, confidence, 1, now)
}

func (s *Store) setPreference(ctx context.Context, userID, key, value string, confidence float64, observations int, now time.Time) (*types.PreferenceFact, error) {
	if userID == "" || key == "" {
		return nil, fmt.Errorf("%w: user id and key are required", storage.ErrValidation)
	}

	now = now.UTC()
	confidence = storage.ClampConfidence(confidence)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var priorFrom time.Time
	validFrom := now
	err = tx.QueryRowContext(ctx,
		`SELECT valid_from FROM preferences WHERE user_id = $1 AND key = $2 AND is_current`,
		userID, key,
	).Scan(&priorFrom)
	switch {
	case err == sql.ErrNoRows:
		// first fact for this key
	case err != nil:
		return nil, fmt.Errorf("postgres: failed to read current preference: %w", err)
	default:
		if !validFrom.After(priorFrom.UTC()) {
			validFrom = priorFrom.UTC().Add(time.Microsecond)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE preferences SET valid_to = $1, is_current = FALSE WHERE user_id = $2 AND key = $3 AND is_current`,
			validFrom, userID, key,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to close current preference: %w", err)
		}
	}

	fact := &types.PreferenceFact{
		ID:               uuid.NewString(),
		UserID:           userID,
		Key:              key,
		Value:            value,
		ValidFrom:        validFrom,
		ValidTo:          types.Infinity,
		IsCurrent:        true,
		Confidence:       confidence,
		ObservationCount: observations,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO preferences (`+preferenceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8)`,
		fact.ID, fact.UserID, fact.Key, fact.Value, fact.ValidFrom, fact.ValidTo,
		fact.Confidence, fact.ObservationCount,
	); err != nil {
		return nil, fmt.Errorf("postgres: failed to insert preference: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit preference: %w", err)
	}
	return fact, nil
}

// GetPreference returns the current fact for (userID, key).
func (s *Store) GetPreference(ctx context.Context, userID, key string) (*types.PreferenceFact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE user_id = $1 AND key = $2 AND is_current`,
		userID, key,
	)
	fact, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get preference: %w", err)
	}
	return fact, nil
}

// GetPreferenceAsOf returns the fact valid at asOf.
func (s *Store) GetPreferenceAsOf(ctx context.Context, userID, key string, asOf time.Time) (*types.PreferenceFact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+`
		 FROM preferences
		 WHERE user_id = $1 AND key = $2 AND valid_from <= $3 AND $3 < valid_to
		 ORDER BY valid_from DESC LIMIT 1`,
		userID, key, asOf.UTC(),
	)
	fact, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get preference as of: %w", err)
	}
	return fact, nil
}

// Observe records a repeated observation of a preference value. A match
// strengthens the current fact; a mismatch starts a fresh fact at low
// confidence.
func (s *Store) Observe(ctx context.Context, userID, key, value string, now time.Time) (*types.PreferenceFact, error) {
	current, err := s.GetPreference(ctx, userID, key)
	if err == storage.ErrNotFound {
		return s.setPreference(ctx, userID, key, value, shiftConfidence, 1, now)
	}
	if err != nil {
		return nil, err
	}

	if current.Value != value {
		return s.setPreference(ctx, userID, key, value, shiftConfidence, 1, now)
	}

	current.ObservationCount++
	current.Confidence = current.Confidence + (1-current.Confidence)*observeNudge

	if _, err := s.db.ExecContext(ctx,
		`UPDATE preferences SET confidence = $1, observation_count = $2 WHERE id = $3 AND is_current`,
		current.Confidence, current.ObservationCount, current.ID,
	); err != nil {
		return nil, fmt.Errorf("postgres: failed to update observation: %w", err)
	}
	return current, nil
}

// ListPreferences returns all current facts for a user, sorted by key.
func (s *Store) ListPreferences(ctx context.Context, userID string) ([]types.PreferenceFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE user_id = $1 AND is_current ORDER BY key ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list preferences: %w", err)
	}
	defer rows.Close()

	var facts []types.PreferenceFact
	for rows.Next() {
		fact, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan preference: %w", err)
		}
		facts = append(facts, *fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: preference rows: %w", err)
	}
	return facts, nil
}

func scanPreference(row rowScanner) (*types.PreferenceFact, error) {
	var fact types.PreferenceFact

	err := row.Scan(
		&fact.ID,
		&fact.UserID,
		&fact.Key,
		&fact.Value,
		&fact.ValidFrom,
		&fact.ValidTo,
		&fact.IsCurrent,
		&fact.Confidence,
		&fact.ObservationCount,
	)
	if err != nil {
		return nil, err
	}

	fact.ValidFrom = fact.ValidFrom.UTC()
	fact.ValidTo = fact.ValidTo.UTC()
	return &fact, nil
}
