package types

import "time"

// VersionedRecord is the base shape shared by all bi-temporal rows.
//
// The valid_* interval records when the fact was true in reality; the
// stored_* interval records when the system believed it. Both are half-open
// [from, to) with Infinity marking a still-open interval. IsCurrent is a
// denormalisation of stored_to == Infinity maintained transactionally by the
// store.
type VersionedRecord struct {
	// LogicalID is stable across versions and never reused for a
	// different logical thing.
	LogicalID string `json:"logical_id"`

	// VersionID is unique per physical row.
	VersionID string `json:"version_id"`

	ValidFrom  time.Time `json:"valid_from"`
	ValidTo    time.Time `json:"valid_to"`
	StoredFrom time.Time `json:"stored_from"`
	StoredTo   time.Time `json:"stored_to"`

	// IsCurrent is true iff stored_to == Infinity (not yet superseded).
	IsCurrent bool `json:"is_current"`

	// SupersededBy points at the version_id that replaced this row.
	// The chain is forward-only; rows are immutable once closed.
	SupersededBy string `json:"superseded_by,omitempty"`
}

// Record is a generic versioned row as held by the store. Kind discriminates
// entities, relationships, and recurring patterns; Fields carries the
// kind-specific payload as an opaque JSON map.
type Record struct {
	VersionedRecord

	Kind   string                 `json:"kind"`
	UserID string                 `json:"user_id"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Entity is the typed view of a KindEntity record.
type Entity struct {
	VersionedRecord

	EntityType     string                 `json:"entity_type"`
	Name           string                 `json:"name"`
	UserID         string                 `json:"user_id"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	RelevanceScore float64                `json:"relevance_score"`
	AccessCount    int                    `json:"access_count"`
	LastAccessedAt *time.Time             `json:"last_accessed_at,omitempty"`
}

// Relationship is the typed view of a KindRelationship record. Endpoint
// validity is deliberately not coupled to the relationship's own intervals;
// callers enforce such a policy externally if they need one.
type Relationship struct {
	VersionedRecord

	FromEntityID     string                 `json:"from_entity_id"`
	ToEntityID       string                 `json:"to_entity_id"`
	RelationshipType string                 `json:"relationship_type"`
	UserID           string                 `json:"user_id"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// PreferenceFact is a versioned key/value fact about a user. Preferences use
// a single temporal axis (valid_from/valid_to only): belief-correction
// history is not required, so setting a new value always closes the prior
// current fact for the (user_id, key) pair.
type PreferenceFact struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Key              string    `json:"key"`
	Value            string    `json:"value"`
	ValidFrom        time.Time `json:"valid_from"`
	ValidTo          time.Time `json:"valid_to"`
	IsCurrent        bool      `json:"is_current"`
	Confidence       float64   `json:"confidence"`
	ObservationCount int       `json:"observation_count"`
}

// TemporalItem is a decay-aware, ephemeral item such as a shopping-list
// entry. Items are created active and move to exactly one terminal state;
// there is no resurrection.
type TemporalItem struct {
	ItemID         string     `json:"item_id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Category       string     `json:"category,omitempty"`
	Urgency        Urgency    `json:"urgency"`
	AddedAt        time.Time  `json:"added_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	Status         ItemStatus `json:"status"`

	IsRecurring       bool       `json:"is_recurring"`
	RecurrencePattern string     `json:"recurrence_pattern,omitempty"`
	LastOccurrenceAt  *time.Time `json:"last_occurrence_at,omitempty"`
	OccurrenceCount   int        `json:"occurrence_count"`
}

// Event is one append-only, context-tagged occurrence. Events are never
// mutated or deleted by the core; retention is an external concern.
type Event struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	SubjectID string    `json:"subject_id,omitempty"`
	EventTime time.Time `json:"event_time"`

	// DayOfWeek (0=Sunday) and HourOfDay are derived from EventTime at
	// append time when not supplied, so pattern mining never recomputes.
	// Nil means not supplied; an explicit 0 (Sunday, midnight) is kept.
	DayOfWeek *int `json:"day_of_week,omitempty"`
	HourOfDay *int `json:"hour_of_day,omitempty"`

	Context          map[string]interface{} `json:"context,omitempty"`
	DerivedPatternID string                 `json:"derived_pattern_id,omitempty"`
}

// RecurringPattern is a detector-owned prediction derived from the event
// log. It is persisted as a KindPattern record in the versioned store.
type RecurringPattern struct {
	PatternID     string     `json:"pattern_id"`
	UserID        string     `json:"user_id"`
	PatternType   string     `json:"pattern_type"`
	SubjectID     string     `json:"subject_id"`
	Recurrence    Recurrence `json:"recurrence"`
	IntervalDays  float64    `json:"interval_days"`
	Confidence    float64    `json:"confidence"`
	FirstObserved time.Time  `json:"first_observed"`
	LastObserved  time.Time  `json:"last_observed"`
	NextPredicted time.Time  `json:"next_predicted"`
	IsActive      bool       `json:"is_active"`
}
