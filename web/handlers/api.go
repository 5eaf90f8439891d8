package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/tempusgraph/tempus/internal/clock"
	"github.com/tempusgraph/tempus/internal/config"
	"github.com/tempusgraph/tempus/internal/engine"
	"github.com/tempusgraph/tempus/internal/metrics"
	"github.com/tempusgraph/tempus/internal/notify"
	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/pkg/types"
)

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	store     storage.Store
	config    *config.Config
	clock     clock.Clock
	assembler *engine.Assembler
	detector  *engine.Detector
	notifier  *notify.Notifier
	hub       *ActivityHub // optional live activity feed
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(store storage.Store, cfg *config.Config, clk clock.Clock) *APIHandlers {
	return &APIHandlers{
		store:  store,
		config: cfg,
		clock:  clk,
		assembler: engine.NewAssembler(store, engine.AssemblerConfig{
			RelevanceFloor:        cfg.Context.RelevanceFloor,
			RelevanceHalfLifeDays: cfg.Context.RelevanceHalfLifeDays,
			PatternLookahead:      time.Duration(cfg.Context.PatternLookaheadDays) * 24 * time.Hour,
		}),
		detector: engine.NewDetector(store),
		notifier: notify.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout),
	}
}

// SetActivityHub attaches the WebSocket activity feed.
func (h *APIHandlers) SetActivityHub(hub *ActivityHub) {
	h.hub = hub
}

func (h *APIHandlers) broadcast(eventType string, payload interface{}) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(map[string]interface{}{
		"type":    eventType,
		"payload": payload,
		"at":      h.clock.Now().UTC(),
	})
}

// statusFor maps storage sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, storage.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// --- Versioned records ---

// putRecordRequest is the body for PUT /api/records/{id}.
type putRecordRequest struct {
	Kind          string                 `json:"kind"`
	UserID        string                 `json:"user_id"`
	ValidFrom     *time.Time             `json:"valid_from,omitempty"`
	ValidTo       *time.Time             `json:"valid_to,omitempty"`
	Fields        map[string]interface{} `json:"fields"`
	ExpectVersion string                 `json:"expect_version,omitempty"`
}

// PutRecord handles PUT /api/records/{id} - create or supersede a record.
func (h *APIHandlers) PutRecord(w http.ResponseWriter, r *http.Request) {
	logicalID := extractID(r, "id")

	var req putRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	in := storage.PutInput{
		Kind:          req.Kind,
		UserID:        req.UserID,
		Fields:        req.Fields,
		ExpectVersion: req.ExpectVersion,
	}
	if req.ValidFrom != nil {
		in.ValidFrom = *req.ValidFrom
	}
	if req.ValidTo != nil {
		in.ValidTo = *req.ValidTo
	}

	versionID, err := h.store.Put(r.Context(), logicalID, in, h.clock.Now())
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			metrics.VersionConflicts.Inc()
		}
		respondError(w, statusFor(err), "failed to put record", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"logical_id": logicalID,
		"version_id": versionID,
	})
}

// GetRecord handles GET /api/records/{id}. Without parameters it returns the
// current version; valid_at and stored_at (RFC 3339) select a bi-temporal
// as-of read. stored_at defaults to valid_at for the common "what did we
// believe then" query.
func (h *APIHandlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	logicalID := extractID(r, "id")

	validAt, err := parseTime(r.URL.Query().Get("valid_at"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid valid_at", err)
		return
	}
	storedAt, err := parseTime(r.URL.Query().Get("stored_at"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid stored_at", err)
		return
	}

	var rec *types.Record
	if validAt.IsZero() && storedAt.IsZero() {
		rec, err = h.store.GetCurrent(r.Context(), logicalID)
	} else {
		if validAt.IsZero() {
			validAt = storedAt
		}
		if storedAt.IsZero() {
			storedAt = validAt
		}
		rec, err = h.store.GetAsOf(r.Context(), logicalID, validAt, storedAt)
	}
	if err != nil {
		respondError(w, statusFor(err), "failed to get record", err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// GetHistory handles GET /api/records/{id}/history - full version chain,
// oldest first.
func (h *APIHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	logicalID := extractID(r, "id")

	history, err := h.store.History(r.Context(), logicalID)
	if err != nil {
		respondError(w, statusFor(err), "failed to get history", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"logical_id": logicalID,
		"versions":   history,
		"count":      len(history),
	})
}

// TouchRecord handles POST /api/records/{id}/touch - refresh access
// recency so the entity decays from now.
func (h *APIHandlers) TouchRecord(w http.ResponseWriter, r *http.Request) {
	logicalID := extractID(r, "id")

	if err := h.store.Touch(r.Context(), logicalID, h.clock.Now()); err != nil {
		respondError(w, statusFor(err), "failed to touch record", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"logical_id": logicalID, "status": "touched"})
}

// ListRecords handles GET /api/records?user_id=&kind= - current records of
// one kind.
func (h *APIHandlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	kind := r.URL.Query().Get("kind")
	if userID == "" || kind == "" {
		respondError(w, http.StatusBadRequest, "user_id and kind are required", nil)
		return
	}

	records, err := h.store.ListCurrent(r.Context(), userID, kind)
	if err != nil {
		respondError(w, statusFor(err), "failed to list records", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// --- Temporal items ---

// captureRequest is the body for POST /api/items.
type captureRequest struct {
	UserID   string        `json:"user_id"`
	Name     string        `json:"name"`
	Category string        `json:"category,omitempty"`
	Urgency  types.Urgency `json:"urgency,omitempty"`
}

// CaptureItem handles POST /api/items - capture an item with duplicate
// suppression. A suppressed duplicate returns 200 with the existing item;
// a fresh capture returns 201.
func (h *APIHandlers) CaptureItem(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	item, isDuplicate, err := h.store.Capture(r.Context(), storage.CaptureInput{
		UserID:   req.UserID,
		Name:     req.Name,
		Category: req.Category,
		Urgency:  req.Urgency,
		Window:   h.config.Items.DuplicateWindow,
	}, h.clock.Now())
	if err != nil {
		respondError(w, statusFor(err), "failed to capture item", err)
		return
	}

	status := http.StatusCreated
	if isDuplicate {
		metrics.DuplicatesSuppressed.Inc()
		status = http.StatusOK
	} else {
		metrics.ItemsCaptured.Inc()
		metrics.EventsAppended.Inc()
		h.broadcast("item_captured", item)
	}

	respondJSON(w, status, map[string]interface{}{
		"item":      item,
		"duplicate": isDuplicate,
	})
}

// ListItems handles GET /api/items?user_id=&sort= - active items.
func (h *APIHandlers) ListItems(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	items, err := h.store.ListActive(r.Context(), userID, storage.ItemSort(r.URL.Query().Get("sort")))
	if err != nil {
		respondError(w, statusFor(err), "failed to list items", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// CompleteItem handles POST /api/items/{id}/complete.
func (h *APIHandlers) CompleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := extractID(r, "id")

	item, err := h.store.Complete(r.Context(), itemID, h.clock.Now())
	if err != nil {
		respondError(w, statusFor(err), "failed to complete item", err)
		return
	}

	metrics.EventsAppended.Inc()
	h.broadcast("item_completed", item)
	respondJSON(w, http.StatusOK, item)
}

// CancelItem handles POST /api/items/{id}/cancel.
func (h *APIHandlers) CancelItem(w http.ResponseWriter, r *http.Request) {
	itemID := extractID(r, "id")

	if err := h.store.Cancel(r.Context(), itemID, h.clock.Now()); err != nil {
		respondError(w, statusFor(err), "failed to cancel item", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"item_id": itemID, "status": "cancelled"})
}

// ExpireItems handles POST /api/items/expire?user_id= - run the stale-item
// sweep on demand.
func (h *APIHandlers) ExpireItems(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	count, err := h.store.ExpireStale(r.Context(), userID, h.config.Items.StaleTTL, h.clock.Now())
	if err != nil {
		respondError(w, statusFor(err), "failed to expire items", err)
		return
	}

	metrics.ItemsExpired.Add(float64(count))
	respondJSON(w, http.StatusOK, map[string]interface{}{"expired": count})
}

// --- Preferences ---

// preferenceRequest is the body for preference writes.
type preferenceRequest struct {
	UserID     string  `json:"user_id"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// SetPreference handles PUT /api/preferences - assert a preference value.
func (h *APIHandlers) SetPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Confidence == 0 {
		req.Confidence = 0.5
	}

	fact, err := h.store.SetPreference(r.Context(), req.UserID, req.Key, req.Value, req.Confidence, h.clock.Now())
	if err != nil {
		respondError(w, statusFor(err), "failed to set preference", err)
		return
	}
	respondJSON(w, http.StatusOK, fact)
}

// ObservePreference handles POST /api/preferences/observe - record a
// repeated observation.
func (h *APIHandlers) ObservePreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	fact, err := h.store.Observe(r.Context(), req.UserID, req.Key, req.Value, h.clock.Now())
	if err != nil {
		respondError(w, statusFor(err), "failed to observe preference", err)
		return
	}
	respondJSON(w, http.StatusOK, fact)
}

// GetPreference handles GET /api/preferences/{key}?user_id=&as_of= - the
// current fact, or the fact valid at as_of.
func (h *APIHandlers) GetPreference(w http.ResponseWriter, r *http.Request) {
	key := extractID(r, "key")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	asOf, err := parseTime(r.URL.Query().Get("as_of"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid as_of", err)
		return
	}

	var fact *types.PreferenceFact
	if asOf.IsZero() {
		fact, err = h.store.GetPreference(r.Context(), userID, key)
	} else {
		fact, err = h.store.GetPreferenceAsOf(r.Context(), userID, key, asOf)
	}
	if err != nil {
		respondError(w, statusFor(err), "failed to get preference", err)
		return
	}
	respondJSON(w, http.StatusOK, fact)
}

// ListPreferences handles GET /api/preferences?user_id=.
func (h *APIHandlers) ListPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	facts, err := h.store.ListPreferences(r.Context(), userID)
	if err != nil {
		respondError(w, statusFor(err), "failed to list preferences", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"preferences": facts,
		"count":       len(facts),
	})
}

// --- Events ---

// AppendEvent handles POST /api/events - append one occurrence.
func (h *APIHandlers) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var ev types.Event
	if err := decodeJSON(r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = h.clock.Now()
	}

	eventID, err := h.store.Append(r.Context(), &ev)
	if err != nil {
		respondError(w, statusFor(err), "failed to append event", err)
		return
	}

	metrics.EventsAppended.Inc()
	respondJSON(w, http.StatusCreated, map[string]string{"event_id": eventID})
}

// QueryEvents handles GET /api/events?user_id=&type=&since=&until=&limit=.
func (h *APIHandlers) QueryEvents(w http.ResponseWriter, r *http.Request) {
	since, err := parseTime(r.URL.Query().Get("since"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid since", err)
		return
	}
	until, err := parseTime(r.URL.Query().Get("until"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid until", err)
		return
	}

	events, err := h.store.QueryEvents(r.Context(), storage.EventQuery{
		UserID:    r.URL.Query().Get("user_id"),
		EventType: r.URL.Query().Get("type"),
		Since:     since,
		Until:     until,
		Limit:     parseInt(r.URL.Query().Get("limit"), 0),
	})
	if err != nil {
		respondError(w, statusFor(err), "failed to query events", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// --- Patterns ---

// RunDetection handles POST /api/patterns/detect?user_id= - run the pattern
// detector on demand and report the detected set.
func (h *APIHandlers) RunDetection(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	now := h.clock.Now()
	patterns, err := h.detector.Run(r.Context(), userID, now)
	if err != nil {
		respondError(w, statusFor(err), "detection failed", err)
		return
	}

	for _, p := range patterns {
		metrics.PatternsDetected.WithLabelValues(string(p.Recurrence)).Inc()
		if p.IsActive {
			h.broadcast("pattern_detected", p)
			if h.notifier.Enabled() {
				// Webhook failures are the notifier's problem; detection
				// results are already committed.
				_ = h.notifier.Notify(r.Context(), p, now)
			}
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// ListPatterns handles GET /api/patterns?user_id= - current patterns.
func (h *APIHandlers) ListPatterns(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	records, err := h.store.ListCurrent(r.Context(), userID, types.KindPattern)
	if err != nil {
		respondError(w, statusFor(err), "failed to list patterns", err)
		return
	}

	patterns := make([]types.RecurringPattern, 0, len(records))
	for i := range records {
		p, err := types.PatternFromRecord(&records[i])
		if err != nil {
			continue
		}
		patterns = append(patterns, *p)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// --- Context assembly ---

// BuildContext handles GET /api/context?user_id=&as_of=&format= - assemble a
// snapshot. format=text renders the prompt-ready string; the default is the
// structured JSON snapshot.
func (h *APIHandlers) BuildContext(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	asOf, err := parseTime(r.URL.Query().Get("as_of"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid as_of", err)
		return
	}
	if asOf.IsZero() {
		asOf = h.clock.Now()
	}

	snap, err := h.assembler.BuildContext(r.Context(), userID, asOf)
	if err != nil {
		respondError(w, statusFor(err), "failed to build context", err)
		return
	}

	metrics.SnapshotsBuilt.Inc()

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(engine.RenderSnapshot(snap)))
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
