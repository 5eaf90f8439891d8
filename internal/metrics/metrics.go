// Package metrics exposes Prometheus counters for the Tempus service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ItemsCaptured counts new item rows created by Capture.
	ItemsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempus_items_captured_total",
		Help: "Number of new temporal items captured.",
	})

	// DuplicatesSuppressed counts captures absorbed by the duplicate window.
	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempus_items_duplicates_suppressed_total",
		Help: "Number of captures suppressed as duplicates.",
	})

	// ItemsExpired counts items transitioned by the expiry sweep.
	ItemsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempus_items_expired_total",
		Help: "Number of active items auto-expired as stale.",
	})

	// EventsAppended counts writes to the event log.
	EventsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempus_events_appended_total",
		Help: "Number of events appended to the log.",
	})

	// VersionConflicts counts optimistic-concurrency losses surfaced to
	// callers.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempus_version_conflicts_total",
		Help: "Number of supersession writes rejected by the version check.",
	})

	// PatternsDetected counts patterns emitted per detector sweep, by
	// recurrence class.
	PatternsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_patterns_detected_total",
		Help: "Number of recurring patterns detected, by recurrence.",
	}, []string{"recurrence"})

	// SnapshotsBuilt counts assembled context snapshots.
	SnapshotsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempus_snapshots_built_total",
		Help: "Number of context snapshots assembled.",
	})
)

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
