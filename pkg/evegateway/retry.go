package evegateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultRetryClient implements retry logic with exponential backoff
// for outbound ESI requests.
type DefaultRetryClient struct {
	httpClient  *http.Client
	errorLimits *ESIErrorLimits
	limitsMutex *sync.RWMutex
}

// NewDefaultRetryClient creates a new default retry client
func NewDefaultRetryClient(httpClient *http.Client, errorLimits *ESIErrorLimits, limitsMutex *sync.RWMutex) *DefaultRetryClient {
	return &DefaultRetryClient{
		httpClient:  httpClient,
		errorLimits: errorLimits,
		limitsMutex: limitsMutex,
	}
}

// DoWithRetry makes an HTTP request with retry logic and proper error handling
func (r *DefaultRetryClient) DoWithRetry(ctx context.Context, req *http.Request, maxRetries int) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		reqClone := req.Clone(ctx)

		resp, err = r.httpClient.Do(reqClone)
		if err != nil {
			if attempt == maxRetries {
				return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries+1, err)
			}

			backoffDuration := time.Duration(1<<uint(attempt)) * time.Second
			if backoffDuration > 10*time.Second {
				backoffDuration = 10 * time.Second
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffDuration):
				continue
			}
		}

		if resp.StatusCode != http.StatusNotFound {
			r.updateErrorLimits(resp.Header)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == 420 || resp.StatusCode == 429 {
			resp.Body.Close()

			if attempt == maxRetries {
				return nil, fmt.Errorf("request failed with status %d after %d attempts", resp.StatusCode, maxRetries+1)
			}

			if err := r.backoffForError(ctx, resp.StatusCode, attempt, resp.Header); err != nil {
				return nil, err
			}
			continue
		}

		break
	}

	return resp, nil
}

func (r *DefaultRetryClient) updateErrorLimits(headers http.Header) {
	r.limitsMutex.Lock()
	defer r.limitsMutex.Unlock()

	if remainStr := headers.Get("X-ESI-Error-Limit-Remain"); remainStr != "" {
		if remain, err := strconv.Atoi(remainStr); err == nil {
			r.errorLimits.Remain = remain
			if remain <= 50 {
				slog.Warn("ESI error limit running low",
					"x_esi_error_limit_remain", remain,
					"reset_time", r.errorLimits.Reset.Format(time.RFC3339),
					"window", r.errorLimits.Window,
				)
			}
		}
	}

	if resetStr := headers.Get("X-ESI-Error-Limit-Reset"); resetStr != "" {
		if reset, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			r.errorLimits.Reset = time.Unix(reset, 0)
		}
	}

	if windowStr := headers.Get("X-ESI-Error-Limit-Window"); windowStr != "" {
		if window, err := strconv.Atoi(windowStr); err == nil {
			r.errorLimits.Window = window
		}
	}
}

// backoffForError implements exponential backoff based on HTTP status codes.
// Retry-After is honored when the server sends one, per spec for 429 handling.
func (r *DefaultRetryClient) backoffForError(ctx context.Context, statusCode int, attempt int, headers http.Header) error {
	var backoffDuration time.Duration

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			backoffDuration = time.Duration(secs) * time.Second
		}
	}

	if backoffDuration == 0 {
		switch {
		case statusCode == 420:
			backoffDuration = time.Duration(1<<uint(attempt)) * time.Minute
			if backoffDuration > 10*time.Minute {
				backoffDuration = 10 * time.Minute
			}
		case statusCode >= 500:
			backoffDuration = time.Duration(1<<uint(attempt)) * time.Second
			if backoffDuration > 30*time.Second {
				backoffDuration = 30 * time.Second
			}
		case statusCode == 429:
			backoffDuration = time.Duration(1<<uint(attempt)) * time.Second
			if backoffDuration > 60*time.Second {
				backoffDuration = 60 * time.Second
			}
		default:
			return nil
		}
	}

	slog.Warn("ESI error requires backoff",
		"status_code", statusCode,
		"attempt", attempt,
		"backoff_duration", backoffDuration.String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoffDuration):
		return nil
	}
}
