package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/pkg/types"
)

func TestPutAndGetCurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	versionID, err := store.Put(ctx, "entity:alice:cafe", storage.PutInput{
		Kind:   types.KindEntity,
		UserID: "alice",
		Fields: map[string]interface{}{
			"entity_type":     "place",
			"name":            "Blue Bottle",
			"relevance_score": 0.8,
		},
	}, testEpoch)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	rec, err := store.GetCurrent(ctx, "entity:alice:cafe")
	if err != nil {
		t.Fatalf("GetCurrent() failed: %v", err)
	}

	if rec.VersionID != versionID {
		t.Errorf("version id = %s, want %s", rec.VersionID, versionID)
	}
	if !rec.IsCurrent {
		t.Error("new record should be current")
	}
	if !rec.ValidFrom.Equal(testEpoch) {
		t.Errorf("valid_from = %v, want %v (defaults to now)", rec.ValidFrom, testEpoch)
	}
	if !types.IsOpen(rec.ValidTo) {
		t.Errorf("valid_to = %v, want open interval sentinel", rec.ValidTo)
	}
	if !types.IsOpen(rec.StoredTo) {
		t.Errorf("stored_to = %v, want open interval sentinel", rec.StoredTo)
	}
	if got := rec.Fields["name"]; got != "Blue Bottle" {
		t.Errorf("fields[name] = %v, want Blue Bottle", got)
	}
}

func TestGetCurrentNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCurrent(context.Background(), "entity:nobody:missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetCurrent() error = %v, want ErrNotFound", err)
	}
}

func TestSupersessionChain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "entity:alice:job"

	v1, err := store.Put(ctx, id, storage.PutInput{
		Kind:   types.KindEntity,
		UserID: "alice",
		Fields: map[string]interface{}{"entity_type": "fact", "name": "engineer"},
	}, testEpoch)
	if err != nil {
		t.Fatalf("first Put() failed: %v", err)
	}

	v2, err := store.Put(ctx, id, storage.PutInput{
		Kind:   types.KindEntity,
		UserID: "alice",
		Fields: map[string]interface{}{"entity_type": "fact", "name": "manager"},
	}, testEpoch.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}

	old, current := history[0], history[1]
	if old.VersionID != v1 || current.VersionID != v2 {
		t.Fatalf("history order wrong: got %s, %s", old.VersionID, current.VersionID)
	}
	if old.IsCurrent {
		t.Error("superseded row should not be current")
	}
	if old.SupersededBy != v2 {
		t.Errorf("superseded_by = %s, want %s", old.SupersededBy, v2)
	}
	if !old.StoredTo.Equal(current.StoredFrom) {
		t.Errorf("closed stored_to %v should equal new stored_from %v", old.StoredTo, current.StoredFrom)
	}
	if !current.IsCurrent {
		t.Error("latest row should be current")
	}
	if current.SupersededBy != "" {
		t.Errorf("current row superseded_by = %q, want empty", current.SupersededBy)
	}
}

func TestSupersessionSameTick(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "entity:alice:tick"

	put := func() {
		t.Helper()
		if _, err := store.Put(ctx, id, storage.PutInput{
			Kind:   types.KindEntity,
			UserID: "alice",
			Fields: map[string]interface{}{"entity_type": "fact"},
		}, testEpoch); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	put()
	put()
	put()

	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if !history[i-1].StoredFrom.Before(history[i].StoredFrom) {
			t.Errorf("stored_from not strictly increasing at index %d: %v then %v",
				i, history[i-1].StoredFrom, history[i].StoredFrom)
		}
	}
}

func TestOptimisticConcurrency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "entity:alice:race"

	v1, err := store.Put(ctx, id, storage.PutInput{
		Kind:   types.KindEntity,
		UserID: "alice",
		Fields: map[string]interface{}{"entity_type": "fact"},
	}, testEpoch)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	// A concurrent writer supersedes v1 first.
	if _, err := store.Put(ctx, id, storage.PutInput{
		Kind:          types.KindEntity,
		UserID:        "alice",
		ExpectVersion: v1,
		Fields:        map[string]interface{}{"entity_type": "fact"},
	}, testEpoch.Add(time.Second)); err != nil {
		t.Fatalf("winning Put() failed: %v", err)
	}

	// The loser still expects v1 to be current.
	_, err = store.Put(ctx, id, storage.PutInput{
		Kind:          types.KindEntity,
		UserID:        "alice",
		ExpectVersion: v1,
		Fields:        map[string]interface{}{"entity_type": "fact"},
	}, testEpoch.Add(2*time.Second))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale Put() error = %v, want ErrConflict", err)
	}

	// The store never retries internally: exactly two versions exist.
	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (conflicting write must not land)", len(history))
	}
}

func TestPutValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "", storage.PutInput{Kind: types.KindEntity}, testEpoch)
	if !errors.Is(err, storage.ErrValidation) {
		t.Errorf("empty logical id: error = %v, want ErrValidation", err)
	}

	_, err = store.Put(ctx, "entity:x", storage.PutInput{
		Kind:      types.KindEntity,
		ValidFrom: testEpoch,
		ValidTo:   testEpoch, // empty interval
	}, testEpoch)
	if !errors.Is(err, storage.ErrValidation) {
		t.Errorf("valid_from == valid_to: error = %v, want ErrValidation", err)
	}
}

func TestGetAsOfBothAxes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "entity:alice:city"

	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	// Recorded on Jan 1: alice lives in Portland.
	v1, err := store.Put(ctx, id, storage.PutInput{
		Kind:      types.KindEntity,
		UserID:    "alice",
		ValidFrom: jan1,
		Fields:    map[string]interface{}{"entity_type": "fact", "name": "Portland"},
	}, jan1)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	// Recorded on Mar 1: she actually moved to Seattle back on Feb 1.
	feb1 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	v2, err := store.Put(ctx, id, storage.PutInput{
		Kind:      types.KindEntity,
		UserID:    "alice",
		ValidFrom: feb1,
		Fields:    map[string]interface{}{"entity_type": "fact", "name": "Seattle"},
	}, mar1)
	if err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	feb15 := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	// Asking in mid-February (before the correction was recorded), the
	// system still believed Portland.
	rec, err := store.GetAsOf(ctx, id, feb15, feb15)
	if err != nil {
		t.Fatalf("GetAsOf(feb, feb) failed: %v", err)
	}
	if rec.VersionID != v1 {
		t.Errorf("as believed on Feb 15: got version %s, want %s (Portland)", rec.VersionID, v1)
	}

	// Asking today what was true on Feb 15 returns the corrected fact.
	apr1 := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	rec, err = store.GetAsOf(ctx, id, feb15, apr1)
	if err != nil {
		t.Fatalf("GetAsOf(feb, apr) failed: %v", err)
	}
	if rec.VersionID != v2 {
		t.Errorf("as believed on Apr 1: got version %s, want %s (Seattle)", rec.VersionID, v2)
	}

	// Before the fact was valid at all.
	dec15 := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	if _, err := store.GetAsOf(ctx, id, dec15, apr1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAsOf(before validity) error = %v, want ErrNotFound", err)
	}
}

func TestListCurrentFiltersKindAndUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := func(id, kind, user string) {
		t.Helper()
		if _, err := store.Put(ctx, id, storage.PutInput{
			Kind:   kind,
			UserID: user,
			Fields: map[string]interface{}{"entity_type": "fact"},
		}, testEpoch); err != nil {
			t.Fatalf("Put(%s) failed: %v", id, err)
		}
	}
	seed("entity:alice:a", types.KindEntity, "alice")
	seed("entity:alice:b", types.KindEntity, "alice")
	seed("rel:alice:r", types.KindRelationship, "alice")
	seed("entity:bob:c", types.KindEntity, "bob")

	records, err := store.ListCurrent(ctx, "alice", types.KindEntity)
	if err != nil {
		t.Fatalf("ListCurrent() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListCurrent() returned %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.UserID != "alice" || rec.Kind != types.KindEntity {
			t.Errorf("unexpected record %s (%s, %s)", rec.LogicalID, rec.UserID, rec.Kind)
		}
	}
}

func TestUpdateCurrentFieldsInPlace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "pattern:alice:item:milk:item_completed"

	if _, err := store.Put(ctx, id, storage.PutInput{
		Kind:   types.KindPattern,
		UserID: "alice",
		Fields: map[string]interface{}{"confidence": 0.9},
	}, testEpoch); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if err := store.UpdateCurrentFields(ctx, id, map[string]interface{}{"confidence": 0.95}); err != nil {
		t.Fatalf("UpdateCurrentFields() failed: %v", err)
	}

	rec, err := store.GetCurrent(ctx, id)
	if err != nil {
		t.Fatalf("GetCurrent() failed: %v", err)
	}
	if got := rec.Fields["confidence"]; got != 0.95 {
		t.Errorf("confidence = %v, want 0.95", got)
	}

	// No new version was opened.
	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1 (in-place update)", len(history))
	}
}

func TestTouchRefreshesAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "entity:alice:gym"

	if _, err := store.Put(ctx, id, storage.PutInput{
		Kind:   types.KindEntity,
		UserID: "alice",
		Fields: map[string]interface{}{
			"entity_type":     "place",
			"name":            "gym",
			"relevance_score": 0.95,
		},
	}, testEpoch); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	touchAt := testEpoch.Add(48 * time.Hour)
	if err := store.Touch(ctx, id, touchAt); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	if err := store.Touch(ctx, id, touchAt.Add(time.Hour)); err != nil {
		t.Fatalf("second Touch() failed: %v", err)
	}

	rec, err := store.GetCurrent(ctx, id)
	if err != nil {
		t.Fatalf("GetCurrent() failed: %v", err)
	}
	entity, err := types.EntityFromRecord(rec)
	if err != nil {
		t.Fatalf("EntityFromRecord() failed: %v", err)
	}

	if entity.AccessCount != 2 {
		t.Errorf("access_count = %d, want 2", entity.AccessCount)
	}
	if entity.LastAccessedAt == nil || !entity.LastAccessedAt.Equal(touchAt.Add(time.Hour)) {
		t.Errorf("last_accessed_at = %v, want %v", entity.LastAccessedAt, touchAt.Add(time.Hour))
	}
	// 0.95 + 0.1 caps at 1.0, second touch stays capped.
	if entity.RelevanceScore != 1.0 {
		t.Errorf("relevance_score = %v, want 1.0 (capped)", entity.RelevanceScore)
	}
	// Touch never opens a version.
	history, _ := store.History(ctx, id)
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}
