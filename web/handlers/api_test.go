package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempusgraph/tempus/internal/clock"
	"github.com/tempusgraph/tempus/internal/config"
	"github.com/tempusgraph/tempus/internal/storage/sqlite"
	"github.com/tempusgraph/tempus/pkg/types"
)

var frozen = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	mux   *http.ServeMux
	clock *clock.Fake
	store *sqlite.Store
}

func testConfig() *config.Config {
	return &config.Config{
		Context: config.ContextConfig{
			RelevanceHalfLifeDays: 30,
			RelevanceFloor:        0.2,
			PatternLookaheadDays:  7,
		},
		Items: config.ItemsConfig{
			DuplicateWindow: 24 * time.Hour,
			StaleTTL:        30 * 24 * time.Hour,
		},
		Notify:   config.NotifyConfig{Timeout: 2 * time.Second},
		Security: config.SecurityConfig{Mode: "development"},
	}
}

func newTestAPI(t *testing.T, cfg *config.Config) *testAPI {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewFake(frozen)
	h := NewAPIHandlers(store, cfg, clk)

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/records/{id}", h.PutRecord)
	mux.HandleFunc("GET /api/records/{id}", h.GetRecord)
	mux.HandleFunc("GET /api/records/{id}/history", h.GetHistory)
	mux.HandleFunc("POST /api/records/{id}/touch", h.TouchRecord)
	mux.HandleFunc("GET /api/records", h.ListRecords)
	mux.HandleFunc("POST /api/items", h.CaptureItem)
	mux.HandleFunc("GET /api/items", h.ListItems)
	mux.HandleFunc("POST /api/items/{id}/complete", h.CompleteItem)
	mux.HandleFunc("POST /api/items/{id}/cancel", h.CancelItem)
	mux.HandleFunc("POST /api/items/expire", h.ExpireItems)
	mux.HandleFunc("PUT /api/preferences", h.SetPreference)
	mux.HandleFunc("POST /api/preferences/observe", h.ObservePreference)
	mux.HandleFunc("GET /api/preferences/{key}", h.GetPreference)
	mux.HandleFunc("GET /api/preferences", h.ListPreferences)
	mux.HandleFunc("POST /api/events", h.AppendEvent)
	mux.HandleFunc("GET /api/events", h.QueryEvents)
	mux.HandleFunc("POST /api/patterns/detect", h.RunDetection)
	mux.HandleFunc("GET /api/patterns", h.ListPatterns)
	mux.HandleFunc("GET /api/context", h.BuildContext)

	return &testAPI{mux: mux, clock: clk, store: store}
}

func (a *testAPI) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestPutAndGetRecord(t *testing.T) {
	api := newTestAPI(t, testConfig())

	rec := api.do(t, http.MethodPut, "/api/records/entity:alice:gym", putRecordRequest{
		Kind:   types.KindEntity,
		UserID: "alice",
		Fields: map[string]interface{}{"entity_type": "place", "name": "gym", "relevance_score": 0.8},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var putResp map[string]string
	decodeBody(t, rec, &putResp)
	assert.Equal(t, "entity:alice:gym", putResp["logical_id"])
	assert.NotEmpty(t, putResp["version_id"])

	rec = api.do(t, http.MethodGet, "/api/records/entity:alice:gym", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.Record
	decodeBody(t, rec, &got)
	assert.Equal(t, "gym", got.Fields["name"])
	assert.True(t, got.IsCurrent)

	rec = api.do(t, http.MethodGet, "/api/records/entity:alice:pool", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRecordAsOf(t *testing.T) {
	api := newTestAPI(t, testConfig())

	put := func(city string) {
		rec := api.do(t, http.MethodPut, "/api/records/fact:alice:home", putRecordRequest{
			Kind:   types.KindEntity,
			UserID: "alice",
			Fields: map[string]interface{}{"entity_type": "fact", "name": city},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	put("Portland")
	api.clock.Advance(30 * 24 * time.Hour)
	put("Seattle")

	// An as-of read at the original instant still sees the old belief.
	asOf := frozen.Add(time.Hour).Format(time.RFC3339)
	rec := api.do(t, http.MethodGet, "/api/records/fact:alice:home?valid_at="+asOf, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.Record
	decodeBody(t, rec, &got)
	assert.Equal(t, "Portland", got.Fields["name"])

	rec = api.do(t, http.MethodGet, "/api/records/fact:alice:home", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &got)
	assert.Equal(t, "Seattle", got.Fields["name"])

	rec = api.do(t, http.MethodGet, "/api/records/fact:alice:home?valid_at=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutRecordVersionConflict(t *testing.T) {
	api := newTestAPI(t, testConfig())

	rec := api.do(t, http.MethodPut, "/api/records/entity:alice:gym", putRecordRequest{
		Kind:   types.KindEntity,
		UserID: "alice",
		Fields: map[string]interface{}{"entity_type": "place", "name": "gym"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/records/entity:alice:gym", putRecordRequest{
		Kind:          types.KindEntity,
		UserID:        "alice",
		Fields:        map[string]interface{}{"entity_type": "place", "name": "gym annex"},
		ExpectVersion: "stale-version-id",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The conflicting write left no trace.
	rec = api.do(t, http.MethodGet, "/api/records/entity:alice:gym/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &hist)
	assert.Equal(t, 1, hist.Count)
}

func TestCaptureItemLifecycle(t *testing.T) {
	api := newTestAPI(t, testConfig())

	rec := api.do(t, http.MethodPost, "/api/items", captureRequest{UserID: "alice", Name: "Milk"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var captured struct {
		Item      types.TemporalItem `json:"item"`
		Duplicate bool               `json:"duplicate"`
	}
	decodeBody(t, rec, &captured)
	assert.False(t, captured.Duplicate)
	itemID := captured.Item.ItemID

	// A recapture within the window is suppressed with 200.
	api.clock.Advance(time.Hour)
	rec = api.do(t, http.MethodPost, "/api/items", captureRequest{UserID: "alice", Name: "  milk "})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &captured)
	assert.True(t, captured.Duplicate)
	assert.Equal(t, itemID, captured.Item.ItemID)

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/items/%s/complete", itemID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var done types.TemporalItem
	decodeBody(t, rec, &done)
	assert.Equal(t, types.ItemCompleted, done.Status)

	// Terminal items reject further transitions.
	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/items/%s/complete", itemID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/items/%s/cancel", itemID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/items/unknown-id/complete", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCaptureItemUsesConfiguredWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Items.DuplicateWindow = time.Hour
	api := newTestAPI(t, cfg)

	rec := api.do(t, http.MethodPost, "/api/items", captureRequest{UserID: "alice", Name: "Milk"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Within the 1h window the recapture is suppressed.
	api.clock.Advance(30 * time.Minute)
	rec = api.do(t, http.MethodPost, "/api/items", captureRequest{UserID: "alice", Name: "milk"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Duplicate bool `json:"duplicate"`
	}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Duplicate)

	// Past the 1h window the same name is a fresh item even though the
	// default window would still suppress it.
	api.clock.Advance(90 * time.Minute)
	rec = api.do(t, http.MethodPost, "/api/items", captureRequest{UserID: "alice", Name: "milk"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestPreferenceEndpoints(t *testing.T) {
	api := newTestAPI(t, testConfig())

	// Confidence defaults to 0.5 when omitted.
	rec := api.do(t, http.MethodPut, "/api/preferences", preferenceRequest{
		UserID: "alice", Key: "beverage", Value: "coffee",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fact types.PreferenceFact
	decodeBody(t, rec, &fact)
	assert.InDelta(t, 0.5, fact.Confidence, 1e-9)

	// A matching observation strengthens the fact.
	rec = api.do(t, http.MethodPost, "/api/preferences/observe", preferenceRequest{
		UserID: "alice", Key: "beverage", Value: "coffee",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &fact)
	assert.InDelta(t, 0.55, fact.Confidence, 1e-9)
	assert.Equal(t, 2, fact.ObservationCount)

	rec = api.do(t, http.MethodGet, "/api/preferences/beverage?user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &fact)
	assert.Equal(t, "coffee", fact.Value)

	rec = api.do(t, http.MethodGet, "/api/preferences/beverage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/preferences/cuisine?user_id=alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppendAndQueryEvents(t *testing.T) {
	api := newTestAPI(t, testConfig())

	rec := api.do(t, http.MethodPost, "/api/events", types.Event{
		UserID:    "alice",
		EventType: "gym_visit",
		SubjectID: "entity:alice:gym",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/events?user_id=alice&type=gym_visit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []types.Event `json:"events"`
		Count  int           `json:"count"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Count)
	// A body without event_time gets stamped from the server clock.
	assert.True(t, resp.Events[0].EventTime.Equal(frozen))

	rec = api.do(t, http.MethodPost, "/api/events", types.Event{UserID: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunDetectionNotifiesWebhook(t *testing.T) {
	var deliveries atomic.Int32
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Pattern types.RecurringPattern `json:"pattern"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "item:milk", payload.Pattern.SubjectID)
		deliveries.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	cfg := testConfig()
	cfg.Notify.WebhookURL = webhook.URL
	api := newTestAPI(t, cfg)

	for week := 0; week < 4; week++ {
		rec := api.do(t, http.MethodPost, "/api/events", types.Event{
			UserID:    "alice",
			EventType: types.EventItemCompleted,
			SubjectID: "item:milk",
			EventTime: frozen.Add(time.Duration(week) * 7 * 24 * time.Hour),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	api.clock.Set(frozen.Add(22 * 24 * time.Hour))

	rec := api.do(t, http.MethodPost, "/api/patterns/detect?user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Patterns []types.RecurringPattern `json:"patterns"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Patterns, 1)
	assert.Equal(t, types.RecurrenceWeekly, resp.Patterns[0].Recurrence)
	assert.Equal(t, int32(1), deliveries.Load())

	rec = api.do(t, http.MethodGet, "/api/patterns?user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Patterns, 1)
}

func TestBuildContextEndpoint(t *testing.T) {
	api := newTestAPI(t, testConfig())

	rec := api.do(t, http.MethodPost, "/api/items", captureRequest{
		UserID: "alice", Name: "call plumber", Urgency: types.UrgencyUrgent,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = api.do(t, http.MethodPut, "/api/preferences", preferenceRequest{
		UserID: "alice", Key: "beverage", Value: "tea", Confidence: 0.8,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/context?user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap types.ContextSnapshot
	decodeBody(t, rec, &snap)
	assert.Equal(t, "alice", snap.UserID)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "call plumber", snap.Items[0].Name)
	require.Len(t, snap.Preferences, 1)

	rec = api.do(t, http.MethodGet, "/api/context?user_id=alice&format=text", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "call plumber [urgent]")
	assert.Contains(t, rec.Body.String(), "beverage: tea")

	rec = api.do(t, http.MethodGet, "/api/context", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/items",
		bytes.NewBufferString(`{"user_id":"alice","name":"milk","bogus":true}`))
	rec := httptest.NewRecorder()
	api.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
