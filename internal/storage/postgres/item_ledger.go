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

const itemColumns = `
	item_id, user_id, name, normalized_name, category, urgency,
	added_at, completed_at, expired_at, status,
	is_recurring, recurrence_pattern, last_occurrence_at, occurrence_count
`

// Capture creates an active item unless an active item with the same
// normalised name was added within the duplicate window. Same contract as
// the SQLite backend; the item_captured event commits in the same
// transaction as the insert.
func (s *Store) Capture(ctx context.Context, in storage.CaptureInput, now time.Time) (*types.TemporalItem, bool, error) {
	if in.UserID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", storage.ErrValidation)
	}
	normalized := storage.NormalizeName(in.Name)
	if normalized == "" {
		return nil, false, fmt.Errorf("%w: item name is required", storage.ErrValidation)
	}
	if in.Urgency == "" {
		in.Urgency = types.UrgencyNormal
	}

	now = now.UTC()
	windowStart := now.Add(-in.DuplicateWindow())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+`
		 FROM temporal_items
		 WHERE user_id = $1 AND normalized_name = $2 AND status = $3 AND added_at > $4
		 ORDER BY added_at DESC LIMIT 1`,
		in.UserID, normalized, string(types.ItemActive), windowStart,
	)
	existing, err := scanItem(row)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("postgres: failed to commit duplicate check: %w", err)
		}
		return existing, true, nil
	case err != sql.ErrNoRows:
		return nil, false, fmt.Errorf("postgres: duplicate check failed: %w", err)
	}

	item := &types.TemporalItem{
		ItemID:         uuid.NewString(),
		UserID:         in.UserID,
		Name:           in.Name,
		NormalizedName: normalized,
		Category:       in.Category,
		Urgency:        in.Urgency,
		AddedAt:        now,
		Status:         types.ItemActive,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO temporal_items (
			item_id, user_id, name, normalized_name, category, urgency,
			added_at, status, is_recurring, occurrence_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, 0)`,
		item.ItemID, item.UserID, item.Name, item.NormalizedName,
		nullableString(item.Category), string(item.Urgency), item.AddedAt, string(item.Status),
	); err != nil {
		return nil, false, fmt.Errorf("postgres: failed to insert item: %w", err)
	}

	if _, err := appendEvent(ctx, tx, &types.Event{
		UserID:    in.UserID,
		EventType: types.EventItemCaptured,
		SubjectID: storage.ItemSubject(in.Name),
		EventTime: now,
		Context:   map[string]interface{}{"category": in.Category},
	}); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("postgres: failed to commit capture: %w", err)
	}
	return item, false, nil
}

// GetItem returns an item by id.
func (s *Store) GetItem(ctx context.Context, itemID string) (*types.TemporalItem, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: item id is required", storage.ErrValidation)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM temporal_items WHERE item_id = $1`, itemID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get item: %w", err)
	}
	return item, nil
}

// Complete transitions active → completed and appends the item_completed
// event in the same transaction.
func (s *Store) Complete(ctx context.Context, itemID string, now time.Time) (*types.TemporalItem, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: item id is required", storage.ErrValidation)
	}
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM temporal_items WHERE item_id = $1`, itemID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read item: %w", err)
	}

	if item.Status != types.ItemActive {
		return nil, fmt.Errorf("%w: cannot complete item in state %q", storage.ErrInvalidState, item.Status)
	}

	item.Status = types.ItemCompleted
	item.CompletedAt = &now
	item.LastOccurrenceAt = &now
	item.OccurrenceCount++

	res, err := tx.ExecContext(ctx,
		`UPDATE temporal_items
		 SET status = $1, completed_at = $2, last_occurrence_at = $2, occurrence_count = occurrence_count + 1
		 WHERE item_id = $3 AND status = $4`,
		string(types.ItemCompleted), now, itemID, string(types.ItemActive),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to complete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: item %s changed state during completion", storage.ErrInvalidState, itemID)
	}

	if _, err := appendEvent(ctx, tx, &types.Event{
		UserID:    item.UserID,
		EventType: types.EventItemCompleted,
		SubjectID: storage.ItemSubject(item.Name),
		EventTime: now,
		Context:   map[string]interface{}{"category": item.Category},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit completion: %w", err)
	}
	return item, nil
}

// Cancel transitions active → cancelled.
func (s *Store) Cancel(ctx context.Context, itemID string, now time.Time) error {
	if itemID == "" {
		return fmt.Errorf("%w: item id is required", storage.ErrValidation)
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != types.ItemActive {
		return fmt.Errorf("%w: cannot cancel item in state %q", storage.ErrInvalidState, item.Status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE temporal_items SET status = $1 WHERE item_id = $2 AND status = $3`,
		string(types.ItemCancelled), itemID, string(types.ItemActive),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to cancel item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %s changed state during cancellation", storage.ErrInvalidState, itemID)
	}
	return nil
}

// ExpireStale transitions active items older than ttl to expired.
func (s *Store) ExpireStale(ctx context.Context, userID string, ttl time.Duration, now time.Time) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", storage.ErrValidation)
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: ttl must be positive", storage.ErrValidation)
	}

	now = now.UTC()
	cutoff := now.Add(-ttl)

	res, err := s.db.ExecContext(ctx,
		`UPDATE temporal_items SET status = $1, expired_at = $2
		 WHERE user_id = $3 AND status = $4 AND added_at < $5`,
		string(types.ItemExpired), now, userID, string(types.ItemActive), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to expire stale items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	return int(n), nil
}

// ListActive returns a user's active items in the requested order.
func (s *Store) ListActive(ctx context.Context, userID string, sortBy storage.ItemSort) ([]types.TemporalItem, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrValidation)
	}

	orderBy := "added_at ASC"
	if sortBy == storage.SortByUrgency || sortBy == "" {
		orderBy = `CASE urgency WHEN 'urgent' THEN 0 WHEN 'someday' THEN 2 ELSE 1 END ASC, added_at ASC`
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM temporal_items WHERE user_id = $1 AND status = $2 ORDER BY `+orderBy,
		userID, string(types.ItemActive),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list active items: %w", err)
	}
	defer rows.Close()

	var items []types.TemporalItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: item rows: %w", err)
	}
	return items, nil
}

func scanItem(row rowScanner) (*types.TemporalItem, error) {
	var item types.TemporalItem
	var category, recurrencePattern sql.NullString
	var completedAt, expiredAt, lastOccurrenceAt sql.NullTime
	var urgency, status string

	err := row.Scan(
		&item.ItemID,
		&item.UserID,
		&item.Name,
		&item.NormalizedName,
		&category,
		&urgency,
		&item.AddedAt,
		&completedAt,
		&expiredAt,
		&status,
		&item.IsRecurring,
		&recurrencePattern,
		&lastOccurrenceAt,
		&item.OccurrenceCount,
	)
	if err != nil {
		return nil, err
	}

	item.Urgency = types.Urgency(urgency)
	item.Status = types.ItemStatus(status)
	item.AddedAt = item.AddedAt.UTC()

	if category.Valid {
		item.Category = category.String
	}
	if recurrencePattern.Valid {
		item.RecurrencePattern = recurrencePattern.String
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		item.CompletedAt = &t
	}
	if expiredAt.Valid {
		t := expiredAt.Time.UTC()
		item.ExpiredAt = &t
	}
	if lastOccurrenceAt.Valid {
		t := lastOccurrenceAt.Time.UTC()
		item.LastOccurrenceAt = &t
	}

	return &item, nil
}

// MarkRecurring links an item name's rows to a detected pattern.
func (s *Store) MarkRecurring(ctx context.Context, userID, subjectName, patternID string) error {
	normalized := storage.NormalizeName(subjectName)
	_, err := s.db.ExecContext(ctx,
		`UPDATE temporal_items SET is_recurring = TRUE, recurrence_pattern = $1
		 WHERE user_id = $2 AND normalized_name = $3`,
		patternID, userID, normalized,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark recurring: %w", err)
	}
	return nil
}
