package types

import "time"

// ContextSnapshot is the structured point-in-time view assembled for a
// downstream formatter. It is serialisable as-is; rendering to prompt text
// is a separate pure function and never happens inside the stores.
type ContextSnapshot struct {
	UserID string    `json:"user_id"`
	AsOf   time.Time `json:"as_of"`

	// Entities holds current entities whose decayed relevance cleared the
	// floor, highest score first.
	Entities []RankedEntity `json:"entities"`

	// Items holds active temporal items in urgency order.
	Items []TemporalItem `json:"items"`

	// Preferences holds current preference facts, sorted by key.
	Preferences []PreferenceFact `json:"preferences"`

	// Patterns holds active recurring patterns whose next prediction falls
	// inside the lookahead window, soonest first.
	Patterns []RecurringPattern `json:"patterns"`
}

// RankedEntity pairs an entity with the relevance score decayed to the
// snapshot instant. The decay is computed at read time and not persisted;
// the stored score only changes on an explicit Touch.
type RankedEntity struct {
	Entity

	DecayedScore float64 `json:"decayed_score"`
}
