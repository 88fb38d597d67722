// Package webhook delivers killmail updates to registered HTTP
// endpoints, grounded on pkg/evegateway/retry.go's status-code-driven
// backoff: retry 5xx and network failures, fail permanently on 4xx
// except the handful that mean "try again later".
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
)

// Subscription is one registered webhook target.
type Subscription struct {
	SubscriberID string    `json:"subscriber_id"`
	URL          string    `json:"url"`
	SystemIDs    []int32   `json:"system_ids,omitempty"`
	CharacterIDs []int64   `json:"character_ids,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Payload is the envelope POSTed to a webhook URL.
type Payload struct {
	Type      string           `json:"type"`
	SystemID  int32            `json:"system_id"`
	Timestamp time.Time        `json:"timestamp"`
	Kills     []model.Killmail `json:"kills"`
}

const (
	maxAttempts   = 3
	baseTimeout   = 5 * time.Second
	baseBackoff   = time.Second
	maxBackoff    = 30 * time.Second
)

// Dispatcher owns the webhook subscription set and delivers payloads
// to each one with retry.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string]Subscription
	client *http.Client
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs:   make(map[string]Subscription),
		client: &http.Client{Timeout: baseTimeout},
	}
}

// Register adds or replaces a subscriber's webhook config, enforcing
// the same non-empty-interest-set and per-kind caps the channel
// transport's broadcast.Broadcaster enforces for its subscriptions.
func (d *Dispatcher) Register(sub Subscription) error {
	if len(sub.SystemIDs)+len(sub.CharacterIDs) == 0 {
		return kferrors.NewValidationError("system_ids", "at least one system or character id is required")
	}
	if len(sub.SystemIDs) > broadcast.MaxSystemsPerSubscription {
		return kferrors.NewValidationError("system_ids", fmt.Sprintf("exceeds max of %d", broadcast.MaxSystemsPerSubscription))
	}
	if len(sub.CharacterIDs) > broadcast.MaxCharactersPerSubscription {
		return kferrors.NewValidationError("character_ids", fmt.Sprintf("exceeds max of %d", broadcast.MaxCharactersPerSubscription))
	}

	sub.CreatedAt = time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[sub.SubscriberID] = sub
	return nil
}

// Unregister removes a subscriber.
func (d *Dispatcher) Unregister(subscriberID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, subscriberID)
}

// Get returns a subscriber's config.
func (d *Dispatcher) Get(subscriberID string) (Subscription, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sub, ok := d.subs[subscriberID]
	return sub, ok
}

// List returns every registered subscription.
func (d *Dispatcher) List() []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		out = append(out, s)
	}
	return out
}

// matches reports whether sub is interested in km, by system id or by
// any character id involved.
func matches(sub Subscription, km model.Killmail) bool {
	for _, sid := range sub.SystemIDs {
		if sid == km.SystemID {
			return true
		}
	}
	if len(sub.CharacterIDs) == 0 {
		return false
	}
	interested := make(map[int64]struct{}, len(sub.CharacterIDs))
	for _, id := range sub.CharacterIDs {
		interested[id] = struct{}{}
	}
	for _, id := range km.CharacterIDs() {
		if _, ok := interested[id]; ok {
			return true
		}
	}
	return false
}

// Dispatch delivers km, fire-and-forget, to every matching subscriber
// via its own goroutine so one slow or dead endpoint never delays
// delivery to another.
func (d *Dispatcher) Dispatch(ctx context.Context, km model.Killmail) {
	d.mu.RLock()
	var targets []Subscription
	for _, sub := range d.subs {
		if matches(sub, km) {
			targets = append(targets, sub)
		}
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		go d.deliver(ctx, sub, km)
	}
}

// deliver posts the payload to sub's URL with retry. It recovers from
// any panic so one bad delivery can never take the process down,
// mirroring subscription.Registry's worker isolation.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, km model.Killmail) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("webhook delivery panicked", slog.String("subscriber_id", sub.SubscriberID), slog.Any("panic", rec))
		}
	}()

	payload := Payload{
		Type:      "killmail_update",
		SystemID:  km.SystemID,
		Timestamp: time.Now(),
		Kills:     []model.Killmail{km},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal webhook payload", slog.String("subscriber_id", sub.SubscriberID), slog.String("error", err.Error()))
		return
	}

	if err := d.postWithRetry(ctx, sub.URL, body); err != nil {
		slog.Warn("webhook delivery failed permanently",
			slog.String("subscriber_id", sub.SubscriberID), slog.String("url", sub.URL), slog.String("error", err.Error()))
	}
}

// postWithRetry sends body to url, retrying 5xx/network failures up
// to maxAttempts with exponential backoff honoring Retry-After; a 4xx
// other than 408/425/429 fails immediately as a permanent rejection.
func (d *Dispatcher) postWithRetry(ctx context.Context, url string, body []byte) error {
	backoff := baseBackoff
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, baseTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "killfeed-webhook/1.0")

		resp, err := d.client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		status := resp.StatusCode
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()

		if status >= 200 && status < 300 {
			return nil
		}

		if isPermanentFailure(status) {
			return fmt.Errorf("permanent failure, status %d", status)
		}

		lastErr = fmt.Errorf("status %d", status)
		if retryAfter > 0 {
			backoff = retryAfter
		}
	}

	return lastErr
}

func isPermanentFailure(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
