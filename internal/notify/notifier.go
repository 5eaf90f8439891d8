// Package notify delivers detected-pattern notifications to a configured
// webhook. Deliveries run through a circuit breaker so a dead endpoint
// cannot stall detection sweeps.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tempusgraph/tempus/pkg/types"
)

// ErrCircuitOpen is returned while the breaker rejects deliveries after
// repeated webhook failures.
var ErrCircuitOpen = errors.New("webhook circuit breaker is open")

// Notifier posts pattern notifications as JSON to a webhook URL.
type Notifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewNotifier creates a notifier for url. An empty url yields a disabled
// notifier whose Notify is a no-op.
func NewNotifier(url string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "pattern-webhook",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("notify: circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	return &Notifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.url != ""
}

// patternPayload is the webhook body for one detected pattern.
type patternPayload struct {
	Pattern    types.RecurringPattern `json:"pattern"`
	NotifiedAt time.Time              `json:"notified_at"`
}

// Notify posts one pattern to the webhook. Failures count against the
// breaker; once open, deliveries fail fast with ErrCircuitOpen until the
// endpoint recovers.
func (n *Notifier) Notify(ctx context.Context, pattern types.RecurringPattern, now time.Time) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(patternPayload{Pattern: pattern, NotifiedAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("notify: failed to encode pattern %s: %w", pattern.PatternID, err)
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		return fmt.Errorf("notify: delivery failed for pattern %s: %w", pattern.PatternID, err)
	}
	return nil
}
