// Package server provides HTTP server initialization and lifecycle
// management for the Tempus REST API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/tempusgraph/tempus/internal/clock"
	"github.com/tempusgraph/tempus/internal/config"
	"github.com/tempusgraph/tempus/internal/metrics"
	"github.com/tempusgraph/tempus/internal/storage"
	"github.com/tempusgraph/tempus/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server. Returns the actual address
// being listened on (useful for testing with port 0) and the ActivityHub so
// background sweeps can broadcast through the same feed. Shutdown is driven
// by ctx cancellation.
func Start(ctx context.Context, cfg *config.Config, store storage.Store, clk clock.Clock) (string, *handlers.ActivityHub, error) {
	mux := http.NewServeMux()

	hub := handlers.NewActivityHub()
	go hub.Run()

	apiHandlers := handlers.NewAPIHandlers(store, cfg, clk)
	apiHandlers.SetActivityHub(hub)

	rateLimiter := handlers.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("GET /api/records", apiHandlers.ListRecords)
	apiMux.HandleFunc("PUT /api/records/{id}", apiHandlers.PutRecord)
	apiMux.HandleFunc("GET /api/records/{id}", apiHandlers.GetRecord)
	apiMux.HandleFunc("GET /api/records/{id}/history", apiHandlers.GetHistory)
	apiMux.HandleFunc("POST /api/records/{id}/touch", apiHandlers.TouchRecord)

	apiMux.HandleFunc("POST /api/items", apiHandlers.CaptureItem)
	apiMux.HandleFunc("GET /api/items", apiHandlers.ListItems)
	apiMux.HandleFunc("POST /api/items/expire", apiHandlers.ExpireItems)
	apiMux.HandleFunc("POST /api/items/{id}/complete", apiHandlers.CompleteItem)
	apiMux.HandleFunc("POST /api/items/{id}/cancel", apiHandlers.CancelItem)

	apiMux.HandleFunc("PUT /api/preferences", apiHandlers.SetPreference)
	apiMux.HandleFunc("GET /api/preferences", apiHandlers.ListPreferences)
	apiMux.HandleFunc("POST /api/preferences/observe", apiHandlers.ObservePreference)
	apiMux.HandleFunc("GET /api/preferences/{key}", apiHandlers.GetPreference)

	apiMux.HandleFunc("POST /api/events", apiHandlers.AppendEvent)
	apiMux.HandleFunc("GET /api/events", apiHandlers.QueryEvents)

	apiMux.HandleFunc("GET /api/patterns", apiHandlers.ListPatterns)
	apiMux.HandleFunc("POST /api/patterns/detect", apiHandlers.RunDetection)

	apiMux.HandleFunc("GET /api/context", apiHandlers.BuildContext)

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// Health and observability surfaces sit outside auth.
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","time":%q}`, clk.Now().UTC().Format(time.RFC3339))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws/activity", hub)

	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		hub.Stop()
		return "", nil, fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}
