package engine

import (
	"context"
	"testing"
	"time"

	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/pkg/types"
)

func seedEntity(t *testing.T, store storage.Store, id, name string, score float64, lastAccess time.Time) {
	t.Helper()
	fields := map[string]interface{}{
		"entity_type":     "place",
		"name":            name,
		"relevance_score": score,
	}
	if !lastAccess.IsZero() {
		fields["last_accessed_at"] = lastAccess.UTC().Format(time.RFC3339Nano)
	}
	if _, err := store.Put(context.Background(), id, storage.PutInput{
		Kind:   types.KindEntity,
		UserID: "alice",
		Fields: fields,
	}, day0); err != nil {
		t.Fatalf("Put(%s) failed: %v", id, err)
	}
}

func TestBuildContextRanksAndFiltersEntities(t *testing.T) {
	store := newTestStore(t)
	asOf := day0.Add(days(30))

	// Accessed today: no decay, full score.
	seedEntity(t, store, "entity:alice:gym", "gym", 0.9, asOf)
	// Accessed 30 days ago: halves to 0.3.
	seedEntity(t, store, "entity:alice:cafe", "cafe", 0.6, day0)
	// Decays to 0.25 * 0.5 = 0.125, below the 0.2 floor.
	seedEntity(t, store, "entity:alice:stale", "stale", 0.25, day0)

	assembler := NewAssembler(store, AssemblerConfig{})
	snap, err := assembler.BuildContext(context.Background(), "alice", asOf)
	if err != nil {
		t.Fatalf("BuildContext() failed: %v", err)
	}

	if len(snap.Entities) != 2 {
		t.Fatalf("got %d entities, want 2 (stale filtered)", len(snap.Entities))
	}
	if snap.Entities[0].Name != "gym" || snap.Entities[1].Name != "cafe" {
		t.Errorf("entity order = %s, %s", snap.Entities[0].Name, snap.Entities[1].Name)
	}
	if snap.Entities[0].DecayedScore <= snap.Entities[1].DecayedScore {
		t.Error("entities not sorted by decayed score descending")
	}
	// Decay is computed at read time; the stored score is untouched.
	rec, err := store.GetCurrent(context.Background(), "entity:alice:cafe")
	if err != nil {
		t.Fatalf("GetCurrent() failed: %v", err)
	}
	if got := rec.Fields["relevance_score"]; got != 0.6 {
		t.Errorf("stored relevance_score = %v, want 0.6 (non-destructive decay)", got)
	}
}

func TestBuildContextIncludesActiveItemsAndPreferences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	asOf := day0.Add(days(1))

	if _, _, err := store.Capture(ctx, storage.CaptureInput{
		UserID: "alice", Name: "call plumber", Urgency: types.UrgencyUrgent,
	}, day0); err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if _, err := store.SetPreference(ctx, "alice", "beverage", "tea", 0.8, day0); err != nil {
		t.Fatalf("SetPreference() failed: %v", err)
	}

	assembler := NewAssembler(store, AssemblerConfig{})
	snap, err := assembler.BuildContext(ctx, "alice", asOf)
	if err != nil {
		t.Fatalf("BuildContext() failed: %v", err)
	}

	if len(snap.Items) != 1 || snap.Items[0].Name != "call plumber" {
		t.Errorf("items = %+v", snap.Items)
	}
	if len(snap.Preferences) != 1 || snap.Preferences[0].Value != "tea" {
		t.Errorf("preferences = %+v", snap.Preferences)
	}
}

func TestBuildContextPatternLookahead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Weekly pattern with the last completion just now: next predicted in
	// 7 days, inside the default lookahead.
	appendOccurrences(t, store, "alice", "item:milk", types.EventItemCompleted,
		0, days(7), days(14), days(21))
	// Monthly pattern: next predicted 30 days out, beyond the lookahead.
	appendOccurrences(t, store, "alice", "item:filter", types.EventItemCompleted,
		0, days(30), days(60), days(90))

	asOf := day0.Add(days(21))
	if _, err := NewDetector(store).Run(ctx, "alice", asOf); err != nil {
		t.Fatalf("detector Run() failed: %v", err)
	}

	assembler := NewAssembler(store, AssemblerConfig{})
	snap, err := assembler.BuildContext(ctx, "alice", asOf)
	if err != nil {
		t.Fatalf("BuildContext() failed: %v", err)
	}

	if len(snap.Patterns) != 1 {
		t.Fatalf("got %d patterns, want 1 (monthly beyond lookahead)", len(snap.Patterns))
	}
	if snap.Patterns[0].SubjectID != "item:milk" {
		t.Errorf("pattern subject = %s, want item:milk", snap.Patterns[0].SubjectID)
	}
}

func TestBuildContextEmptyUser(t *testing.T) {
	store := newTestStore(t)

	assembler := NewAssembler(store, AssemblerConfig{})
	snap, err := assembler.BuildContext(context.Background(), "nobody", day0)
	if err != nil {
		t.Fatalf("BuildContext() failed: %v", err)
	}
	if len(snap.Entities)+len(snap.Items)+len(snap.Preferences)+len(snap.Patterns) != 0 {
		t.Errorf("snapshot for unknown user not empty: %+v", snap)
	}
}

func TestAssemblerTouchResetsDecay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	asOf := day0.Add(days(60))

	// Two half-lives old: 0.8 decays to 0.2, right at the floor boundary.
	seedEntity(t, store, "entity:alice:cafe", "cafe", 0.8, day0)

	assembler := NewAssembler(store, AssemblerConfig{RelevanceFloor: 0.3})
	snap, err := assembler.BuildContext(ctx, "alice", asOf)
	if err != nil {
		t.Fatalf("BuildContext() failed: %v", err)
	}
	if len(snap.Entities) != 0 {
		t.Fatalf("decayed entity should be below the 0.3 floor, got %+v", snap.Entities)
	}

	if err := assembler.Touch(ctx, "entity:alice:cafe", asOf); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}

	snap, err = assembler.BuildContext(ctx, "alice", asOf)
	if err != nil {
		t.Fatalf("second BuildContext() failed: %v", err)
	}
	if len(snap.Entities) != 1 {
		t.Fatalf("touched entity should clear the floor, got %d entities", len(snap.Entities))
	}
}
