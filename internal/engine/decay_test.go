package engine

import (
	"math"
	"testing"
	"time"
)

func TestDecayHalfLife(t *testing.T) {
	decay := NewDecay(30)
	base := 0.8
	last := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// After exactly one half-life the score halves.
	got := decay.Score(base, last, last.Add(30*24*time.Hour))
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("score after one half-life = %v, want 0.4", got)
	}

	// After two half-lives it quarters.
	got = decay.Score(base, last, last.Add(60*24*time.Hour))
	if math.Abs(got-0.2) > 1e-9 {
		t.Errorf("score after two half-lives = %v, want 0.2", got)
	}
}

func TestDecayNoElapsedTime(t *testing.T) {
	decay := NewDecay(30)
	last := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if got := decay.Score(0.7, last, last); got != 0.7 {
		t.Errorf("score with zero elapsed = %v, want 0.7", got)
	}
	// A future last access decays nothing rather than inflating.
	if got := decay.Score(0.7, last.Add(time.Hour), last); got != 0.7 {
		t.Errorf("score with future access = %v, want 0.7", got)
	}
}

func TestDecayClampsToUnitInterval(t *testing.T) {
	decay := NewDecay(30)
	last := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if got := decay.Score(1.5, last, last); got != 1.0 {
		t.Errorf("score = %v, want clamped to 1.0", got)
	}
	if got := decay.Score(-0.2, last, last.Add(time.Hour)); got != 0.0 {
		t.Errorf("score = %v, want clamped to 0.0", got)
	}
}

func TestDecayDefaultsOnBadHalfLife(t *testing.T) {
	bad := NewDecay(0)
	good := NewDecay(DefaultRelevanceHalfLifeDays)
	last := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	asOf := last.Add(10 * 24 * time.Hour)

	if bad.Score(0.5, last, asOf) != good.Score(0.5, last, asOf) {
		t.Error("non-positive half-life should fall back to the default")
	}
}
