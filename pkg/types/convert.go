package types

import (
	"fmt"
	"time"
)

// Conversions between typed views and the generic Record field map. Field
// maps round-trip through JSON, so numbers arrive as float64 and timestamps
// as RFC 3339 strings; the accessors below normalise both directions.

// Fields returns the kind-specific payload for an entity.
func (e *Entity) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"entity_type":     e.EntityType,
		"name":            e.Name,
		"relevance_score": e.RelevanceScore,
		"access_count":    e.AccessCount,
	}
	if len(e.Metadata) > 0 {
		f["metadata"] = e.Metadata
	}
	if e.LastAccessedAt != nil && !e.LastAccessedAt.IsZero() {
		f["last_accessed_at"] = e.LastAccessedAt.UTC().Format(time.RFC3339Nano)
	}
	return f
}

// EntityFromRecord decodes a KindEntity record into its typed view.
func EntityFromRecord(r *Record) (*Entity, error) {
	if r.Kind != KindEntity {
		return nil, fmt.Errorf("record %s has kind %q, want %q", r.LogicalID, r.Kind, KindEntity)
	}
	e := &Entity{
		VersionedRecord: r.VersionedRecord,
		UserID:          r.UserID,
		EntityType:      fieldString(r.Fields, "entity_type"),
		Name:            fieldString(r.Fields, "name"),
		RelevanceScore:  fieldFloat(r.Fields, "relevance_score"),
		AccessCount:     fieldInt(r.Fields, "access_count"),
		Metadata:        fieldMap(r.Fields, "metadata"),
	}
	if t, ok := fieldTime(r.Fields, "last_accessed_at"); ok {
		e.LastAccessedAt = &t
	}
	return e, nil
}

// Fields returns the kind-specific payload for a relationship.
func (rel *Relationship) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"from_entity_id":    rel.FromEntityID,
		"to_entity_id":      rel.ToEntityID,
		"relationship_type": rel.RelationshipType,
	}
	if len(rel.Metadata) > 0 {
		f["metadata"] = rel.Metadata
	}
	return f
}

// RelationshipFromRecord decodes a KindRelationship record.
func RelationshipFromRecord(r *Record) (*Relationship, error) {
	if r.Kind != KindRelationship {
		return nil, fmt.Errorf("record %s has kind %q, want %q", r.LogicalID, r.Kind, KindRelationship)
	}
	return &Relationship{
		VersionedRecord:  r.VersionedRecord,
		UserID:           r.UserID,
		FromEntityID:     fieldString(r.Fields, "from_entity_id"),
		ToEntityID:       fieldString(r.Fields, "to_entity_id"),
		RelationshipType: fieldString(r.Fields, "relationship_type"),
		Metadata:         fieldMap(r.Fields, "metadata"),
	}, nil
}

// Fields returns the kind-specific payload for a recurring pattern.
func (p *RecurringPattern) Fields() map[string]interface{} {
	return map[string]interface{}{
		"pattern_type":   p.PatternType,
		"subject_id":     p.SubjectID,
		"recurrence":     string(p.Recurrence),
		"interval_days":  p.IntervalDays,
		"confidence":     p.Confidence,
		"first_observed": p.FirstObserved.UTC().Format(time.RFC3339Nano),
		"last_observed":  p.LastObserved.UTC().Format(time.RFC3339Nano),
		"next_predicted": p.NextPredicted.UTC().Format(time.RFC3339Nano),
		"is_active":      p.IsActive,
	}
}

// PatternFromRecord decodes a KindPattern record. The pattern ID is the
// record's logical ID, which is stable across supersessions.
func PatternFromRecord(r *Record) (*RecurringPattern, error) {
	if r.Kind != KindPattern {
		return nil, fmt.Errorf("record %s has kind %q, want %q", r.LogicalID, r.Kind, KindPattern)
	}
	p := &RecurringPattern{
		PatternID:    r.LogicalID,
		UserID:       r.UserID,
		PatternType:  fieldString(r.Fields, "pattern_type"),
		SubjectID:    fieldString(r.Fields, "subject_id"),
		Recurrence:   Recurrence(fieldString(r.Fields, "recurrence")),
		IntervalDays: fieldFloat(r.Fields, "interval_days"),
		Confidence:   fieldFloat(r.Fields, "confidence"),
		IsActive:     fieldBool(r.Fields, "is_active"),
	}
	if t, ok := fieldTime(r.Fields, "first_observed"); ok {
		p.FirstObserved = t
	}
	if t, ok := fieldTime(r.Fields, "last_observed"); ok {
		p.LastObserved = t
	}
	if t, ok := fieldTime(r.Fields, "next_predicted"); ok {
		p.NextPredicted = t
	}
	return p, nil
}

func fieldString(f map[string]interface{}, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

func fieldFloat(f map[string]interface{}, key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func fieldInt(f map[string]interface{}, key string) int {
	switch v := f[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func fieldBool(f map[string]interface{}, key string) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return false
}

func fieldMap(f map[string]interface{}, key string) map[string]interface{} {
	if v, ok := f[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func fieldTime(f map[string]interface{}, key string) (time.Time, bool) {
	s, ok := f[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
