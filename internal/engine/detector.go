package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/pkg/types"
)

const (
	// minOccurrences is the evidence threshold below which no pattern is
	// emitted. Fewer occurrences is not an error, just insufficient data.
	minOccurrences = 3

	// varianceCeiling separates regular cadences from irregular ones.
	varianceCeiling = 5.0

	// supersedeConfidenceDelta is the confidence change that justifies a
	// new version. Smaller drift updates the current row in place to keep
	// noise out of the history.
	supersedeConfidenceDelta = 0.1
)

// recurrence targets in days, checked within [0.8, 1.3] of each anchor.
var recurrenceAnchors = []struct {
	days       float64
	recurrence types.Recurrence
}{
	{1, types.RecurrenceDaily},
	{7, types.RecurrenceWeekly},
	{30, types.RecurrenceMonthly},
}

// IntervalAnalysis is the outcome of analysing one occurrence series. It is
// a pure function of the input timestamps, so repeated runs over identical
// data produce identical classifications and confidences.
type IntervalAnalysis struct {
	MeanDays   float64
	Variance   float64
	Recurrence types.Recurrence
	Confidence float64
	IsActive   bool
}

// AnalyzeIntervals computes the recurrence classification for a series of
// occurrence times. Returns ok = false when there is insufficient or
// degenerate evidence (fewer than three occurrences, or a non-positive mean
// interval from duplicated timestamps).
//
// A single outlier interval is not filtered: it degrades confidence
// naturally through the variance term.
func AnalyzeIntervals(times []time.Time) (IntervalAnalysis, bool) {
	if len(times) < minOccurrences {
		return IntervalAnalysis{}, false
	}

	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 0; i < len(sorted)-1; i++ {
		intervals = append(intervals, sorted[i+1].Sub(sorted[i]).Hours()/24.0)
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return IntervalAnalysis{}, false
	}

	var variance float64
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	variance /= float64(len(intervals))

	recurrence := types.RecurrenceIrregular
	active := false
	if variance < varianceCeiling {
		for _, anchor := range recurrenceAnchors {
			if mean >= 0.8*anchor.days && mean <= 1.3*anchor.days {
				recurrence = anchor.recurrence
				active = true
				break
			}
		}
	}

	// Coefficient-of-variation-based confidence: tighter intervals score
	// higher. Recomputed on every run, so confidence can fall when recent
	// behaviour becomes less regular.
	confidence := 1 - variance/(mean*mean)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return IntervalAnalysis{
		MeanDays:   mean,
		Variance:   variance,
		Recurrence: recurrence,
		Confidence: confidence,
		IsActive:   active,
	}, true
}

// Detector mines the event log for recurring behaviour and owns all
// RecurringPattern records in the versioned store. It only reads the
// immutable event stream and writes exclusively to its own pattern records,
// so it can run concurrently with writers.
type Detector struct {
	store storage.Store
}

// NewDetector creates a detector over the given store.
func NewDetector(store storage.Store) *Detector {
	return &Detector{store: store}
}

// groupKey identifies one occurrence series.
type groupKey struct {
	subjectID string
	eventType string
}

// Run scans a user's event log, classifies every (subject, event type)
// group, and upserts the resulting patterns. One group's malformed data
// logs a warning and skips that group rather than aborting the run.
func (d *Detector) Run(ctx context.Context, userID string, now time.Time) ([]types.RecurringPattern, error) {
	events, err := d.store.QueryEvents(ctx, storage.EventQuery{UserID: userID, Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("detector: failed to read event log: %w", err)
	}

	groups := make(map[groupKey][]time.Time)
	for _, ev := range events {
		if ev.SubjectID == "" {
			continue // nothing to key a pattern on
		}
		k := groupKey{subjectID: ev.SubjectID, eventType: ev.EventType}
		groups[k] = append(groups[k], ev.EventTime)
	}

	// Deterministic iteration order for stable runs and stable logs.
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].subjectID != keys[j].subjectID {
			return keys[i].subjectID < keys[j].subjectID
		}
		return keys[i].eventType < keys[j].eventType
	})

	var patterns []types.RecurringPattern
	for _, k := range keys {
		occurrences := groups[k]
		analysis, ok := AnalyzeIntervals(occurrences)
		if !ok {
			if len(occurrences) >= minOccurrences {
				log.Printf("detector: skipping group (%s, %s) for %s: degenerate intervals",
					k.subjectID, k.eventType, userID)
			}
			continue
		}

		pattern, err := d.upsert(ctx, userID, k, occurrences, analysis, now)
		if err != nil {
			log.Printf("detector: skipping group (%s, %s) for %s: %v",
				k.subjectID, k.eventType, userID, err)
			continue
		}
		patterns = append(patterns, *pattern)
	}

	return patterns, nil
}

// PatternLogicalID is the stable versioned-store key for one pattern.
func PatternLogicalID(userID, subjectID, patternType string) string {
	return fmt.Sprintf("pattern:%s:%s:%s", userID, subjectID, patternType)
}

func (d *Detector) upsert(ctx context.Context, userID string, k groupKey, occurrences []time.Time, analysis IntervalAnalysis, now time.Time) (*types.RecurringPattern, error) {
	sorted := make([]time.Time, len(occurrences))
	copy(sorted, occurrences)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	first := sorted[0].UTC()
	last := sorted[len(sorted)-1].UTC()

	logicalID := PatternLogicalID(userID, k.subjectID, k.eventType)
	pattern := &types.RecurringPattern{
		PatternID:     logicalID,
		UserID:        userID,
		PatternType:   k.eventType,
		SubjectID:     k.subjectID,
		Recurrence:    analysis.Recurrence,
		IntervalDays:  analysis.MeanDays,
		Confidence:    analysis.Confidence,
		FirstObserved: first,
		LastObserved:  last,
		NextPredicted: last.Add(time.Duration(analysis.MeanDays * 24 * float64(time.Hour))),
		IsActive:      analysis.IsActive,
	}

	existing, err := d.store.GetCurrent(ctx, logicalID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if _, err := d.store.Put(ctx, logicalID, storage.PutInput{
			Kind:   types.KindPattern,
			UserID: userID,
			Fields: pattern.Fields(),
		}, now); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		prior, err := types.PatternFromRecord(existing)
		if err != nil {
			return nil, err
		}
		if prior.Recurrence != pattern.Recurrence ||
			math.Abs(prior.Confidence-pattern.Confidence) > supersedeConfidenceDelta {
			// Meaningful change: supersede so the shift is visible in
			// history. The optimistic check guards against a concurrent
			// detection run.
			if _, err := d.store.Put(ctx, logicalID, storage.PutInput{
				Kind:          types.KindPattern,
				UserID:        userID,
				Fields:        pattern.Fields(),
				ExpectVersion: existing.VersionID,
			}, now); err != nil {
				return nil, err
			}
		} else {
			// Noise-level drift: update in place to avoid history bloat.
			if err := d.store.UpdateCurrentFields(ctx, logicalID, pattern.Fields()); err != nil {
				return nil, err
			}
		}
	}

	// Surface active item recurrences on the ledger rows themselves.
	if pattern.IsActive && strings.HasPrefix(k.subjectID, "item:") {
		name := strings.TrimPrefix(k.subjectID, "item:")
		if err := d.store.MarkRecurring(ctx, userID, name, logicalID); err != nil {
			log.Printf("detector: failed to mark %q recurring for %s: %v", name, userID, err)
		}
	}

	return pattern, nil
}
