package sqlite

import (
	"testing"
	"time"
)

// newTestStore creates an in-memory SQLite store for testing. NewStore
// applies the full Schema, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testEpoch is a fixed instant so temporal assertions are deterministic.
var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
