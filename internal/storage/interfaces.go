// Package storage defines the composable storage interfaces for the Tempus
// temporal knowledge graph. Backends (sqlite, postgres) implement the same
// small interfaces so they can be swapped via configuration.
package storage

import (
	"context"
	"time"

	"github.com/tempusgraph/tempus/pkg/types"
)

// VersionedStore is the bi-temporal storage primitive for entities,
// relationships, and recurring patterns. Rows are append-only: an update
// closes the current row's stored interval and inserts a replacement inside
// one transaction, so a reader never observes zero or two current rows for a
// logical id.
type VersionedStore interface {
	// Put inserts the first version of a logical record, or supersedes the
	// current one. Returns the new version id. Fails with ErrConflict when
	// the optimistic check on the superseded row loses a race, and with
	// ErrValidation for malformed intervals.
	Put(ctx context.Context, logicalID string, in PutInput, now time.Time) (string, error)

	// GetCurrent returns the row with is_current = true, or ErrNotFound.
	GetCurrent(ctx context.Context, logicalID string) (*types.Record, error)

	// GetAsOf returns the row satisfying both half-open interval
	// predicates: valid_from <= validAt < valid_to and
	// stored_from <= storedAt < stored_to. When imperfect historical data
	// yields more than one candidate, the most recently believed row wins
	// and a consistency warning is logged.
	GetAsOf(ctx context.Context, logicalID string, validAt, storedAt time.Time) (*types.Record, error)

	// History returns every version of a logical record, oldest first by
	// stored_from. The slice is finite and safe to re-iterate.
	History(ctx context.Context, logicalID string) ([]types.Record, error)

	// ListCurrent returns all current records of one kind for a user.
	ListCurrent(ctx context.Context, userID, kind string) ([]types.Record, error)

	// UpdateCurrentFields rewrites the payload of the current row in place,
	// without opening a new version. Used for noise-level drift (e.g.
	// pattern confidence) that would otherwise bloat history.
	UpdateCurrentFields(ctx context.Context, logicalID string, fields map[string]interface{}) error

	// Touch refreshes last_accessed_at and increments access_count on the
	// current row of an entity. It does not create a new version.
	Touch(ctx context.Context, logicalID string, now time.Time) error
}

// PreferenceStore tracks versioned key/value facts per user on a single
// temporal axis.
type PreferenceStore interface {
	// SetPreference closes the prior current fact for (userID, key) if
	// present and inserts a new current fact. Confidence is clamped to
	// [0, 1]; the store never computes it.
	SetPreference(ctx context.Context, userID, key, value string, confidence float64, now time.Time) (*types.PreferenceFact, error)

	// GetPreference returns the current fact for (userID, key).
	GetPreference(ctx context.Context, userID, key string) (*types.PreferenceFact, error)

	// GetPreferenceAsOf returns the fact valid at asOf, or ErrNotFound.
	GetPreferenceAsOf(ctx context.Context, userID, key string, asOf time.Time) (*types.PreferenceFact, error)

	// Observe records a repeated observation. A matching value increments
	// observation_count and nudges confidence toward 1.0 with diminishing
	// returns; a differing value is treated as a behaviour shift and starts
	// a fresh fact at low confidence.
	Observe(ctx context.Context, userID, key, value string, now time.Time) (*types.PreferenceFact, error)

	// ListPreferences returns all current facts for a user, sorted by key.
	ListPreferences(ctx context.Context, userID string) ([]types.PreferenceFact, error)
}

// ItemLedger tracks ephemeral, recurring items with duplicate suppression.
type ItemLedger interface {
	// Capture creates an active item, unless an active item with the same
	// normalised name was added within the duplicate window, in which case
	// the existing item is returned with isDuplicate = true and no row is
	// created. Capture appends an item_captured event as a side effect.
	Capture(ctx context.Context, in CaptureInput, now time.Time) (item *types.TemporalItem, isDuplicate bool, err error)

	// GetItem returns an item by id.
	GetItem(ctx context.Context, itemID string) (*types.TemporalItem, error)

	// Complete transitions active → completed, stamps completed_at,
	// increments occurrence_count, and appends an item_completed event.
	// Fails with ErrInvalidState when the item is not active.
	Complete(ctx context.Context, itemID string, now time.Time) (*types.TemporalItem, error)

	// Cancel transitions active → cancelled. Fails with ErrInvalidState
	// when the item is not active.
	Cancel(ctx context.Context, itemID string, now time.Time) error

	// ExpireStale transitions active items older than ttl to expired and
	// returns the count transitioned. Idempotent; safe to run repeatedly.
	ExpireStale(ctx context.Context, userID string, ttl time.Duration, now time.Time) (int, error)

	// ListActive returns a user's active items in the requested order.
	ListActive(ctx context.Context, userID string, sortBy ItemSort) ([]types.TemporalItem, error)

	// MarkRecurring flags all rows of an item name as recurring and links
	// them to the detected pattern id.
	MarkRecurring(ctx context.Context, userID, subjectName, patternID string) error
}

// EventLog is the append-only stream of occurrences mined by the detector.
type EventLog interface {
	// Append writes one event and returns its id. day_of_week/hour_of_day
	// are derived from event_time when not supplied. There is no update or
	// delete path.
	Append(ctx context.Context, ev *types.Event) (string, error)

	// QueryEvents returns matching events ordered by event_time ascending.
	QueryEvents(ctx context.Context, q EventQuery) ([]types.Event, error)
}

// Store is the full storage surface a backend provides. All components of a
// Store share one database so ledger side effects (event emission) commit in
// the same transaction as the state change they describe.
type Store interface {
	VersionedStore
	PreferenceStore
	ItemLedger
	EventLog

	// ListUsers returns the distinct user ids present in the item ledger
	// and event log, for background sweeps that run per user.
	ListUsers(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
