package evegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/evekillfeed/killfeed/pkg/config"
	"github.com/evekillfeed/killfeed/pkg/database"
	"github.com/evekillfeed/killfeed/pkg/evegateway/alliance"
	"github.com/evekillfeed/killfeed/pkg/evegateway/character"
	"github.com/evekillfeed/killfeed/pkg/evegateway/corporation"
	"github.com/evekillfeed/killfeed/pkg/evegateway/killmails"
	"github.com/evekillfeed/killfeed/pkg/evegateway/universe"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client is the EVE Online ESI gateway used by the enrichment and
// pipeline layers for killmail and name-resolution lookups. Its
// sub-clients cover character, corporation, alliance, universe and
// killmail endpoints, including several authenticated ones (character
// skills and clones, corporation structures and wallets); it has no
// asset or SSO token-refresh endpoints.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	userAgent    string
	cacheManager CacheManager
	retryClient  RetryClient
	errorLimits  *ESIErrorLimits
	limitsMutex  sync.RWMutex

	Character   character.Client
	Corporation corporation.Client
	Alliance    alliance.Client
	Universe    universe.Client
	Killmails   killmails.Client
}

// ESIStatusResponse represents the EVE Online server status
type ESIStatusResponse struct {
	Players       int       `json:"players"`
	ServerVersion string    `json:"server_version"`
	StartTime     time.Time `json:"start_time"`
}

// GetErrorLimits returns the current ESI error limits
func (c *Client) GetErrorLimits() ESIErrorLimits {
	c.limitsMutex.RLock()
	defer c.limitsMutex.RUnlock()
	return *c.errorLimits
}

// CheckErrorLimits returns an error if we're close to exhausting the
// ESI error budget and should back off on new requests.
func (c *Client) CheckErrorLimits() error {
	c.limitsMutex.RLock()
	defer c.limitsMutex.RUnlock()

	if c.errorLimits.Remain > 0 && c.errorLimits.Remain < 10 {
		return fmt.Errorf("approaching ESI error limit: only %d errors remaining until %v",
			c.errorLimits.Remain, c.errorLimits.Reset)
	}
	return nil
}

func newClient(cacheManager CacheManager) *Client {
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	userAgent := config.GetEnv("ESI_USER_AGENT", "killfeed/1.0 (contact@example.com)")
	errorLimits := &ESIErrorLimits{}
	limitsMutex := &sync.RWMutex{}
	retryClient := NewDefaultRetryClient(httpClient, errorLimits, limitsMutex)

	const baseURL = "https://esi.evetech.net"

	return &Client{
		httpClient:   httpClient,
		baseURL:      baseURL,
		userAgent:    userAgent,
		cacheManager: cacheManager,
		retryClient:  retryClient,
		errorLimits:  errorLimits,
		Character:    character.NewCharacterClient(httpClient, baseURL, userAgent, cacheManager, retryClient),
		Corporation:  corporation.NewCorporationClient(httpClient, baseURL, userAgent, cacheManager, retryClient),
		Alliance:     alliance.NewAllianceClient(httpClient, baseURL, userAgent, cacheManager, retryClient),
		Universe:     universe.NewUniverseClient(httpClient, baseURL, userAgent, cacheManager, retryClient),
		Killmails:    killmails.NewKillmailClient(httpClient, baseURL, userAgent, cacheManager, retryClient),
	}
}

// NewClient creates an ESI gateway client backed by an in-process cache.
func NewClient() *Client {
	return newClient(NewDefaultCacheManager())
}

// NewClientWithRedis creates an ESI gateway client whose response
// cache is backed by Redis, so that gateway-side response caching
// survives process restarts independently of the in-memory
// NamespacedCache used for resolved names.
func NewClientWithRedis(redisClient *database.Redis) *Client {
	return newClient(NewRedisCacheManager(redisClient))
}

// HTTPClient returns the underlying HTTP client for advanced usage
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// GetServerStatus retrieves EVE Online server status from ESI with proper caching
func (c *Client) GetServerStatus(ctx context.Context) (*ESIStatusResponse, error) {
	var span trace.Span
	endpoint := "/status"
	cacheKey := fmt.Sprintf("%s%s", c.baseURL, endpoint)

	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		tracer := otel.Tracer("github.com/evekillfeed/killfeed/evegateway")
		ctx, span = tracer.Start(ctx, "evegateway.GetServerStatus")
		defer span.End()
		span.SetAttributes(attribute.String("esi.endpoint", "status"))
	}

	if cachedData, exists, err := c.cacheManager.Get(cacheKey); err == nil && exists {
		var status ESIStatusResponse
		if err := json.Unmarshal(cachedData, &status); err == nil {
			return &status, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", cacheKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	c.cacheManager.SetConditionalHeaders(req, cacheKey)

	resp, err := c.retryClient.DoWithRetry(ctx, req, 3)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to call ESI")
		}
		return nil, fmt.Errorf("failed to call ESI: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.cacheManager.RefreshExpiry(cacheKey, resp.Header)
		if cachedData, found, err := c.cacheManager.GetForNotModified(cacheKey); err == nil && found {
			var status ESIStatusResponse
			if err := json.Unmarshal(cachedData, &status); err != nil {
				return nil, fmt.Errorf("failed to parse cached response: %w", err)
			}
			return &status, nil
		}
	}

	if resp.StatusCode != http.StatusOK {
		if span != nil {
			span.SetStatus(codes.Error, "ESI returned error status")
		}
		return nil, fmt.Errorf("ESI returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.cacheManager.Set(cacheKey, body, resp.Header)

	var status ESIStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if span != nil {
		span.SetAttributes(
			attribute.Int("esi.players", status.Players),
			attribute.String("esi.server_version", status.ServerVersion),
		)
		span.SetStatus(codes.Ok, "")
	}

	slog.DebugContext(ctx, "retrieved ESI server status",
		slog.Int("players", status.Players),
		slog.String("server_version", status.ServerVersion))

	return &status, nil
}
