package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/tempusgraph/tempus/pkg/types"
)

var (
	// ErrNotFound indicates that the requested logical id, item, or
	// preference key is absent.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates an optimistic-concurrency loss: the row being
	// superseded was no longer the current row at commit time. The caller
	// decides whether to re-read and retry; the store never retries.
	ErrConflict = errors.New("version conflict")

	// ErrInvalidState indicates an illegal lifecycle transition, e.g.
	// completing an item that is not active.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrValidation indicates malformed input, e.g. valid_from >= valid_to.
	ErrValidation = errors.New("validation failed")
)

// PutInput describes one supersession write to the versioned store.
type PutInput struct {
	// Kind discriminates the record (entity, relationship, pattern).
	Kind string

	// UserID scopes the record to a user.
	UserID string

	// ValidFrom/ValidTo bound when the fact is true in reality. A zero
	// ValidFrom defaults to now; a zero ValidTo defaults to Infinity.
	ValidFrom time.Time
	ValidTo   time.Time

	// Fields is the kind-specific payload, stored as JSON.
	Fields map[string]interface{}

	// ExpectVersion, when set, requires the current row's version_id to
	// match before it is superseded. A mismatch fails with ErrConflict.
	// When empty, whatever row is current is superseded.
	ExpectVersion string
}

// CaptureInput describes one item capture.
type CaptureInput struct {
	UserID   string
	Name     string
	Category string
	Urgency  types.Urgency

	// Window bounds the duplicate lookback. Zero or negative means
	// DefaultDuplicateWindow.
	Window time.Duration
}

// DuplicateWindow returns the effective duplicate lookback.
func (in CaptureInput) DuplicateWindow() time.Duration {
	if in.Window <= 0 {
		return DefaultDuplicateWindow
	}
	return in.Window
}

// NormalizeName case-folds and trims an item name for duplicate matching.
// Exact matching on the normalised form is the contract; fuzzy matching is
// out of scope.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ItemSubject is the stable event subject for an item name. Individual
// TemporalItem rows are ephemeral (a recapture after completion creates a
// new row), so pattern mining keys on the normalised name instead.
func ItemSubject(name string) string {
	return "item:" + NormalizeName(name)
}

// ItemSort selects the ordering for ListActive.
type ItemSort string

const (
	// SortByUrgency orders urgent < normal < someday, FIFO within a tier.
	SortByUrgency ItemSort = "urgency"

	// SortByAddedAt orders oldest first.
	SortByAddedAt ItemSort = "added_at"
)

// EventQuery filters the event log read path. Zero values mean "no bound".
type EventQuery struct {
	UserID    string
	EventType string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Normalize applies defaults and caps to the query.
func (q *EventQuery) Normalize() {
	if q.Limit < 1 {
		q.Limit = 1000
	}
	if q.Limit > 10000 {
		q.Limit = 10000
	}
}

// DefaultDuplicateWindow is how far back Capture looks for an active item
// with the same normalised name before declaring a duplicate.
const DefaultDuplicateWindow = 24 * time.Hour

// ClampConfidence bounds a caller-supplied confidence to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
