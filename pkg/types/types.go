// Package types defines the shared domain types for the Tempus temporal
// knowledge graph: bi-temporal versioned records, preference facts, temporal
// items, events, and recurring patterns.
package types

import "time"

// Infinity is the sentinel timestamp used for open-ended valid_to/stored_to
// intervals. It is a fixed far-future constant, never a NULL, so range
// queries remain simple half-open comparisons.
var Infinity = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// IsOpen reports whether t is the open-interval sentinel (or later).
func IsOpen(t time.Time) bool {
	return !t.Before(Infinity)
}

// ItemStatus is the lifecycle state of a TemporalItem.
type ItemStatus string

const (
	ItemActive    ItemStatus = "active"
	ItemCompleted ItemStatus = "completed"
	ItemExpired   ItemStatus = "expired"
	ItemCancelled ItemStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
// Once terminal, a new capture of the same name creates a new item.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemCompleted || s == ItemExpired || s == ItemCancelled
}

// Urgency orders active items for presentation: urgent sorts first,
// someday last. Ties are broken FIFO by added_at.
type Urgency string

const (
	UrgencyUrgent  Urgency = "urgent"
	UrgencyNormal  Urgency = "normal"
	UrgencySomeday Urgency = "someday"
)

// Rank returns the ascending sort rank for the urgency tier.
// Unknown values rank with normal.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyUrgent:
		return 0
	case UrgencySomeday:
		return 2
	default:
		return 1
	}
}

// Recurrence classifies the cadence of a detected pattern.
type Recurrence string

const (
	RecurrenceDaily     Recurrence = "daily"
	RecurrenceWeekly    Recurrence = "weekly"
	RecurrenceMonthly   Recurrence = "monthly"
	RecurrenceIrregular Recurrence = "irregular"
)

// Record kinds stored in the versioned store.
const (
	KindEntity       = "entity"
	KindRelationship = "relationship"
	KindPattern      = "pattern"
)

// Well-known event types written by the item ledger. The event log itself
// accepts arbitrary types from capture services.
const (
	EventItemCaptured  = "item_captured"
	EventItemCompleted = "item_completed"
)
