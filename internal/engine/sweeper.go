package engine

import (
	"context"
	"log"
	"time"

	"github.com/tempusgraph/tempus/internal/clock"
	"github.com/tempusgraph/tempus/internal/metrics"
	"github.com/tempusgraph/tempus/internal/storage"
)

// Broadcaster receives sweep results for the live activity feed.
type Broadcaster interface {
	Broadcast(message interface{})
}

// Sweeper runs the periodic background work: pattern detection and
// stale-item expiry, per known user. Both sweeps are idempotent, so an
// overlapping manual API run does no harm.
type Sweeper struct {
	store    storage.Store
	detector *Detector
	clock    clock.Clock

	DetectInterval time.Duration
	ExpireInterval time.Duration
	ItemStaleTTL   time.Duration

	// Hub is optional; sweep results broadcast to it when set.
	Hub Broadcaster
}

// NewSweeper creates a sweeper with the given intervals.
func NewSweeper(store storage.Store, clk clock.Clock, detectInterval, expireInterval, staleTTL time.Duration) *Sweeper {
	return &Sweeper{
		store:          store,
		detector:       NewDetector(store),
		clock:          clk,
		DetectInterval: detectInterval,
		ExpireInterval: expireInterval,
		ItemStaleTTL:   staleTTL,
	}
}

// Run blocks until ctx is cancelled, firing both sweeps on their tickers.
// One pass also runs immediately at startup so a restarted service does not
// wait a full interval to catch up.
func (s *Sweeper) Run(ctx context.Context) {
	detectTicker := time.NewTicker(s.DetectInterval)
	defer detectTicker.Stop()
	expireTicker := time.NewTicker(s.ExpireInterval)
	defer expireTicker.Stop()

	s.DetectAll(ctx)
	s.ExpireAll(ctx)

	for {
		select {
		case <-detectTicker.C:
			s.DetectAll(ctx)
		case <-expireTicker.C:
			s.ExpireAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// DetectAll runs the pattern detector for every known user. Per-user
// failures are logged and skipped so one bad dataset cannot stall the sweep.
func (s *Sweeper) DetectAll(ctx context.Context) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		log.Printf("sweeper: failed to list users for detection: %v", err)
		return
	}

	now := s.clock.Now()
	for _, userID := range users {
		patterns, err := s.detector.Run(ctx, userID, now)
		if err != nil {
			log.Printf("sweeper: detection failed for %s: %v", userID, err)
			continue
		}
		for _, p := range patterns {
			metrics.PatternsDetected.WithLabelValues(string(p.Recurrence)).Inc()
			if p.IsActive && s.Hub != nil {
				s.Hub.Broadcast(map[string]interface{}{
					"type":    "pattern_detected",
					"payload": p,
					"at":      now.UTC(),
				})
			}
		}
	}
}

// ExpireAll runs the stale-item sweep for every known user.
func (s *Sweeper) ExpireAll(ctx context.Context) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		log.Printf("sweeper: failed to list users for expiry: %v", err)
		return
	}

	now := s.clock.Now()
	for _, userID := range users {
		count, err := s.store.ExpireStale(ctx, userID, s.ItemStaleTTL, now)
		if err != nil {
			log.Printf("sweeper: expiry failed for %s: %v", userID, err)
			continue
		}
		if count > 0 {
			metrics.ItemsExpired.Add(float64(count))
			log.Printf("sweeper: expired %d stale items for %s", count, userID)
		}
	}
}
