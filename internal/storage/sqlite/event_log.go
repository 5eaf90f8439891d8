package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/pkg/types"
)

// execer abstracts *sql.DB and *sql.Tx so ledger side effects can append
// events inside the transaction that caused them.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Append writes one event and returns its id. Pure append: no validation
// beyond required fields, no update or delete path.
func (s *Store) Append(ctx context.Context, ev *types.Event) (string, error) {
	return appendEvent(ctx, s.db, ev)
}

func appendEvent(ctx context.Context, db execer, ev *types.Event) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("%w: event is required", storage.ErrValidation)
	}
	if ev.UserID == "" || ev.EventType == "" {
		return "", fmt.Errorf("%w: user id and event type are required", storage.ErrValidation)
	}
	if ev.EventTime.IsZero() {
		return "", fmt.Errorf("%w: event time is required", storage.ErrValidation)
	}

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	ev.EventTime = ev.EventTime.UTC()

	// Derive the mining columns from event_time when not supplied.
	if ev.DayOfWeek == nil {
		d := int(ev.EventTime.Weekday())
		ev.DayOfWeek = &d
	}
	if ev.HourOfDay == nil {
		h := ev.EventTime.Hour()
		ev.HourOfDay = &h
	}

	var contextJSON []byte
	if len(ev.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(ev.Context)
		if err != nil {
			return "", fmt.Errorf("sqlite: failed to marshal event context: %w", err)
		}
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO events (
			event_id, user_id, event_type, subject_id, event_time,
			day_of_week, hour_of_day, context, derived_pattern_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.UserID, ev.EventType, nullableString(ev.SubjectID), ev.EventTime,
		*ev.DayOfWeek, *ev.HourOfDay, nullableBytes(contextJSON), nullableString(ev.DerivedPatternID),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to append event: %w", err)
	}
	return ev.EventID, nil
}

// QueryEvents returns matching events ordered by event_time ascending.
func (s *Store) QueryEvents(ctx context.Context, q storage.EventQuery) ([]types.Event, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrValidation)
	}
	q.Normalize()

	query := `SELECT event_id, user_id, event_type, subject_id, event_time,
	                 day_of_week, hour_of_day, context, derived_pattern_id
	          FROM events WHERE user_id = ?`
	args := []interface{}{q.UserID}

	if q.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, q.EventType)
	}
	if !q.Since.IsZero() {
		query += " AND event_time >= ?"
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query += " AND event_time < ?"
		args = append(args, q.Until.UTC())
	}

	query += " ORDER BY event_time ASC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		var dayOfWeek, hourOfDay int
		var subjectID, contextJSON, derivedPatternID sql.NullString

		if err := rows.Scan(
			&ev.EventID, &ev.UserID, &ev.EventType, &subjectID, &ev.EventTime,
			&dayOfWeek, &hourOfDay, &contextJSON, &derivedPatternID,
		); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan event: %w", err)
		}

		ev.DayOfWeek = &dayOfWeek
		ev.HourOfDay = &hourOfDay
		ev.EventTime = ev.EventTime.UTC()
		if subjectID.Valid {
			ev.SubjectID = subjectID.String
		}
		if derivedPatternID.Valid {
			ev.DerivedPatternID = derivedPatternID.String
		}
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &ev.Context); err != nil {
				return nil, fmt.Errorf("sqlite: failed to unmarshal event context: %w", err)
			}
		}

		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: event rows: %w", err)
	}
	return events, nil
}
