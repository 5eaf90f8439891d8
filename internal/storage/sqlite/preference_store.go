package sqlite

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
	// observeNudge is the diminishing-returns factor applied when a
	// repeated observation matches the current value:
	// confidence' = confidence + (1 - confidence) * observeNudge.
	// Confidence approaches but never reaches 1.0.
	observeNudge = 0.1

	// shiftConfidence is the default confidence assigned when an
	// observation contradicts the current value: a behaviour shift is
	// plausible but not yet well evidenced.
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
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Close the prior current fact. Guard valid_from < valid_to the same
	// way the versioned store does for same-tick writes.
	var priorFrom time.Time
	validFrom := now
	err = tx.QueryRowContext(ctx,
		`SELECT valid_from FROM preferences WHERE user_id = ? AND key = ? AND is_current = 1`,
		userID, key,
	).Scan(&priorFrom)
	switch {
	case err == sql.ErrNoRows:
		// first fact for this key
	case err != nil:
		return nil, fmt.Errorf("sqlite: failed to read current preference: %w", err)
	default:
		if !validFrom.After(priorFrom.UTC()) {
			validFrom = priorFrom.UTC().Add(time.Nanosecond)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE preferences SET valid_to = ?, is_current = 0 WHERE user_id = ? AND key = ? AND is_current = 1`,
			validFrom, userID, key,
		); err != nil {
			return nil, fmt.Errorf("sqlite: failed to close current preference: %w", err)
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
		`INSERT INTO preferences (`+preferenceColumns+`) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		fact.ID, fact.UserID, fact.Key, fact.Value, fact.ValidFrom, fact.ValidTo,
		fact.Confidence, fact.ObservationCount,
	); err != nil {
		return nil, fmt.Errorf("sqlite: failed to insert preference: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit preference: %w", err)
	}
	return fact, nil
}

// GetPreference returns the current fact for (userID, key).
func (s *Store) GetPreference(ctx context.Context, userID, key string) (*types.PreferenceFact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE user_id = ? AND key = ? AND is_current = 1`,
		userID, key,
	)
	fact, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get preference: %w", err)
	}
	return fact, nil
}

// GetPreferenceAsOf returns the fact valid at asOf.
func (s *Store) GetPreferenceAsOf(ctx context.Context, userID, key string, asOf time.Time) (*types.PreferenceFact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+`
		 FROM preferences
		 WHERE user_id = ? AND key = ? AND valid_from <= ? AND ? < valid_to
		 ORDER BY valid_from DESC LIMIT 1`,
		userID, key, asOf.UTC(), asOf.UTC(),
	)
	fact, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get preference as of: %w", err)
	}
	return fact, nil
}

// Observe records a repeated observation of a preference value. A match
// strengthens the current fact; a mismatch is treated as a behaviour shift
// rather than noise and starts a fresh fact at low confidence.
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
		`UPDATE preferences SET confidence = ?, observation_count = ? WHERE id = ? AND is_current = 1`,
		current.Confidence, current.ObservationCount, current.ID,
	); err != nil {
		return nil, fmt.Errorf("sqlite: failed to update observation: %w", err)
	}
	return current, nil
}

// ListPreferences returns all current facts for a user, sorted by key.
func (s *Store) ListPreferences(ctx context.Context, userID string) ([]types.PreferenceFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE user_id = ? AND is_current = 1 ORDER BY key ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list preferences: %w", err)
	}
	defer rows.Close()

	var facts []types.PreferenceFact
	for rows.Next() {
		fact, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan preference: %w", err)
		}
		facts = append(facts, *fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: preference rows: %w", err)
	}
	return facts, nil
}

func scanPreference(row rowScanner) (*types.PreferenceFact, error) {
	var fact types.PreferenceFact
	var isCurrent int

	err := row.Scan(
		&fact.ID,
		&fact.UserID,
		&fact.Key,
		&fact.Value,
		&fact.ValidFrom,
		&fact.ValidTo,
		&isCurrent,
		&fact.Confidence,
		&fact.ObservationCount,
	)
	if err != nil {
		return nil, err
	}

	fact.IsCurrent = isCurrent != 0
	fact.ValidFrom = fact.ValidFrom.UTC()
	fact.ValidTo = fact.ValidTo.UTC()
	return &fact, nil
}
