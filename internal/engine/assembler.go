package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/pkg/types"
)

// DefaultPatternLookahead is how far ahead a pattern's next prediction may
// fall and still be included in a snapshot.
const DefaultPatternLookahead = 7 * 24 * time.Hour

// AssemblerConfig tunes snapshot assembly. The zero value gets defaults.
type AssemblerConfig struct {
	// RelevanceFloor is the minimum decayed score for an entity to appear.
	RelevanceFloor float64

	// RelevanceHalfLifeDays controls the decay curve.
	RelevanceHalfLifeDays float64

	// PatternLookahead bounds how far ahead predicted occurrences are
	// surfaced.
	PatternLookahead time.Duration
}

// Assembler builds point-in-time context snapshots from the current state of
// all four stores. Assembly is read-only: decay is computed on the fly and
// nothing is written unless the caller explicitly touches an entity.
type Assembler struct {
	store storage.Store
	decay Decay

	floor     float64
	lookahead time.Duration
}

// NewAssembler creates an assembler over the given store.
func NewAssembler(store storage.Store, cfg AssemblerConfig) *Assembler {
	if cfg.RelevanceFloor <= 0 {
		cfg.RelevanceFloor = DefaultRelevanceFloor
	}
	if cfg.PatternLookahead <= 0 {
		cfg.PatternLookahead = DefaultPatternLookahead
	}
	return &Assembler{
		store:     store,
		decay:     NewDecay(cfg.RelevanceHalfLifeDays),
		floor:     cfg.RelevanceFloor,
		lookahead: cfg.PatternLookahead,
	}
}

// BuildContext assembles the snapshot for a user at asOf. Identical store
// state and asOf produce an identical snapshot.
func (a *Assembler) BuildContext(ctx context.Context, userID string, asOf time.Time) (*types.ContextSnapshot, error) {
	snap := &types.ContextSnapshot{UserID: userID, AsOf: asOf.UTC()}

	entities, err := a.rankedEntities(ctx, userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("assembler: entities: %w", err)
	}
	snap.Entities = entities

	items, err := a.store.ListActive(ctx, userID, storage.SortByUrgency)
	if err != nil {
		return nil, fmt.Errorf("assembler: items: %w", err)
	}
	snap.Items = items

	prefs, err := a.store.ListPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("assembler: preferences: %w", err)
	}
	snap.Preferences = prefs

	patterns, err := a.upcomingPatterns(ctx, userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("assembler: patterns: %w", err)
	}
	snap.Patterns = patterns

	return snap, nil
}

// Touch forwards an access refresh to the versioned store so a consumed
// entity decays from now rather than from its previous access.
func (a *Assembler) Touch(ctx context.Context, logicalID string, now time.Time) error {
	return a.store.Touch(ctx, logicalID, now)
}

func (a *Assembler) rankedEntities(ctx context.Context, userID string, asOf time.Time) ([]types.RankedEntity, error) {
	records, err := a.store.ListCurrent(ctx, userID, types.KindEntity)
	if err != nil {
		return nil, err
	}

	ranked := make([]types.RankedEntity, 0, len(records))
	for i := range records {
		entity, err := types.EntityFromRecord(&records[i])
		if err != nil {
			log.Printf("assembler: skipping malformed entity %s: %v", records[i].LogicalID, err)
			continue
		}

		// An entity never accessed decays from its creation instant.
		lastAccess := entity.StoredFrom
		if entity.LastAccessedAt != nil && !entity.LastAccessedAt.IsZero() {
			lastAccess = *entity.LastAccessedAt
		}

		score := a.decay.Score(entity.RelevanceScore, lastAccess, asOf)
		if score < a.floor {
			continue
		}
		ranked = append(ranked, types.RankedEntity{Entity: *entity, DecayedScore: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].DecayedScore != ranked[j].DecayedScore {
			return ranked[i].DecayedScore > ranked[j].DecayedScore
		}
		return ranked[i].LogicalID < ranked[j].LogicalID
	})
	return ranked, nil
}

func (a *Assembler) upcomingPatterns(ctx context.Context, userID string, asOf time.Time) ([]types.RecurringPattern, error) {
	records, err := a.store.ListCurrent(ctx, userID, types.KindPattern)
	if err != nil {
		return nil, err
	}

	horizon := asOf.Add(a.lookahead)
	upcoming := make([]types.RecurringPattern, 0, len(records))
	for i := range records {
		pattern, err := types.PatternFromRecord(&records[i])
		if err != nil {
			log.Printf("assembler: skipping malformed pattern %s: %v", records[i].LogicalID, err)
			continue
		}
		if !pattern.IsActive {
			continue
		}
		// Overdue predictions stay visible; only the far future is cut.
		if pattern.NextPredicted.After(horizon) {
			continue
		}
		upcoming = append(upcoming, *pattern)
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		if !upcoming[i].NextPredicted.Equal(upcoming[j].NextPredicted) {
			return upcoming[i].NextPredicted.Before(upcoming[j].NextPredicted)
		}
		return upcoming[i].PatternID < upcoming[j].PatternID
	})
	return upcoming, nil
}
