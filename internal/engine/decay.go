// Package engine provides the pattern detector and the context assembler
// that sit above the storage layer.
package engine

import (
	"math"
	"time"
)

const (
	// DefaultRelevanceHalfLifeDays is how long an untouched entity takes
	// to fall to half its stored relevance.
	DefaultRelevanceHalfLifeDays = 30.0

	// DefaultRelevanceFloor is the minimum decayed score for an entity to
	// appear in a context snapshot.
	DefaultRelevanceFloor = 0.2
)

// Decay computes exponential relevance decay at read time. It is
// non-destructive: the stored score only changes on an explicit Touch.
type Decay struct {
	lambda float64
}

// NewDecay returns a Decay with the given half-life in days. Non-positive
// values fall back to the default.
func NewDecay(halfLifeDays float64) Decay {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultRelevanceHalfLifeDays
	}
	return Decay{lambda: math.Ln2 / halfLifeDays}
}

// Score returns base * exp(-λ * days since lastAccess), clamped to [0, 1].
// A lastAccess in the future decays nothing.
func (d Decay) Score(base float64, lastAccess, asOf time.Time) float64 {
	days := asOf.Sub(lastAccess).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	score := base * math.Exp(-d.lambda*days)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
