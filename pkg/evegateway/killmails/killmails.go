package killmails

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CacheInfo represents cache information for responses
type CacheInfo struct {
	Cached    bool       `json:"cached"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// KillmailResult contains killmail info and cache information
type KillmailResult struct {
	Data  *KillmailResponse `json:"data"`
	Cache CacheInfo         `json:"cache"`
}

// RecentKillmailsResult contains recent killmails and cache information
type RecentKillmailsResult struct {
	Data  []KillmailRef `json:"data"`
	Cache CacheInfo     `json:"cache"`
}

// Client interface for killmail-related ESI operations
type Client interface {
	GetKillmail(ctx context.Context, killmailID int64, hash string) (*KillmailResponse, error)
	GetKillmailWithCache(ctx context.Context, killmailID int64, hash string) (*KillmailResult, error)
	GetCharacterRecentKillmails(ctx context.Context, characterID int, token string) ([]KillmailRef, error)
	GetCharacterRecentKillmailsWithCache(ctx context.Context, characterID int, token string) (*RecentKillmailsResult, error)
	GetCorporationRecentKillmails(ctx context.Context, corporationID int, token string) ([]KillmailRef, error)
	GetCorporationRecentKillmailsWithCache(ctx context.Context, corporationID int, token string) (*RecentKillmailsResult, error)
}

// KillmailResponse represents the full killmail data
type KillmailResponse struct {
	KillmailID    int64      `json:"killmail_id"`
	KillmailTime  time.Time  `json:"killmail_time"`
	SolarSystemID int64      `json:"solar_system_id"`
	MoonID        *int64     `json:"moon_id,omitempty"`
	WarID         *int64     `json:"war_id,omitempty"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
}

// Victim represents the victim information in a killmail
type Victim struct {
	CharacterID   *int64    `json:"character_id,omitempty"`
	CorporationID *int64    `json:"corporation_id,omitempty"`
	AllianceID    *int64    `json:"alliance_id,omitempty"`
	FactionID     *int64    `json:"faction_id,omitempty"`
	ShipTypeID    int64     `json:"ship_type_id"`
	DamageTaken   int64     `json:"damage_taken"`
	Position      *Position `json:"position,omitempty"`
	Items         []Item    `json:"items,omitempty"`
}

// Attacker represents an attacker in a killmail
type Attacker struct {
	CharacterID    *int64  `json:"character_id,omitempty"`
	CorporationID  *int64  `json:"corporation_id,omitempty"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	FactionID      *int64  `json:"faction_id,omitempty"`
	ShipTypeID     *int64  `json:"ship_type_id,omitempty"`
	WeaponTypeID   *int64  `json:"weapon_type_id,omitempty"`
	DamageDone     int64   `json:"damage_done"`
	FinalBlow      bool    `json:"final_blow"`
	SecurityStatus float64 `json:"security_status"`
}

// Position represents 3D coordinates in space
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Item represents an item in the victim's ship
type Item struct {
	ItemTypeID        int64  `json:"item_type_id"`
	Flag              int64  `json:"flag"`
	Singleton         int64  `json:"singleton"`
	QuantityDestroyed *int64 `json:"quantity_destroyed,omitempty"`
	QuantityDropped   *int64 `json:"quantity_dropped,omitempty"`
	Items             []Item `json:"items,omitempty"`
}

// KillmailRef represents a reference to a killmail
type KillmailRef struct {
	KillmailID   int64  `json:"killmail_id"`
	KillmailHash string `json:"killmail_hash"`
}

// KillmailClient implements killmail-related ESI operations
type KillmailClient struct {
	httpClient   *http.Client
	baseURL      string
	userAgent    string
	cacheManager CacheManager
	retryClient  RetryClient
}

// CacheManager interface for caching operations
type CacheManager interface {
	Get(key string) ([]byte, bool, error)
	GetWithExpiry(key string) ([]byte, bool, *time.Time, error)
	GetForNotModified(key string) ([]byte, bool, error)
	GetMetadata(key string) (map[string]interface{}, error)
	Set(key string, data []byte, headers http.Header) error
	RefreshExpiry(key string, headers http.Header) error
	SetConditionalHeaders(req *http.Request, key string) error
}

// RetryClient interface for retry operations
type RetryClient interface {
	DoWithRetry(ctx context.Context, req *http.Request, maxRetries int) (*http.Response, error)
}

// NewKillmailClient creates a new killmail client
func NewKillmailClient(httpClient *http.Client, baseURL, userAgent string, cacheManager CacheManager, retryClient RetryClient) Client {
	return &KillmailClient{
		httpClient:   httpClient,
		baseURL:      baseURL,
		userAgent:    userAgent,
		cacheManager: cacheManager,
		retryClient:  retryClient,
	}
}

// GetKillmail fetches a killmail from ESI
func (c *KillmailClient) GetKillmail(ctx context.Context, killmailID int64, hash string) (*KillmailResponse, error) {
	tracer := otel.Tracer("evegateway")
	ctx, span := tracer.Start(ctx, "GetKillmail",
		trace.WithAttributes(
			attribute.Int64("killmail_id", killmailID),
			attribute.String("hash", hash),
		))
	defer span.End()

	url := fmt.Sprintf("%s/killmails/%d/%s/", c.baseURL, killmailID, hash)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.retryClient.DoWithRetry(ctx, req, 3)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		span.SetStatus(codes.Error, fmt.Sprintf("ESI returned status %d", resp.StatusCode))
		return nil, fmt.Errorf("ESI returned status %d: %s", resp.StatusCode, string(body))
	}

	var killmail KillmailResponse
	if err := json.NewDecoder(resp.Body).Decode(&killmail); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode response")
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	span.SetStatus(codes.Ok, "Killmail fetched successfully")
	return &killmail, nil
}

// GetKillmailWithCache fetches a killmail with cache support
func (c *KillmailClient) GetKillmailWithCache(ctx context.Context, killmailID int64, hash string) (*KillmailResult, error) {
	tracer := otel.Tracer("evegateway")
	ctx, span := tracer.Start(ctx, "GetKillmailWithCache",
		trace.WithAttributes(
			attribute.Int64("killmail_id", killmailID),
			attribute.String("hash", hash),
		))
	defer span.End()

	url := fmt.Sprintf("%s/killmails/%d/%s/", c.baseURL, killmailID, hash)
	cacheKey := fmt.Sprintf("esi:cache:%s", url)

	// Check cache
	if data, cached, expiresAt, err := c.cacheManager.GetWithExpiry(cacheKey); err == nil && cached {
		var killmail KillmailResponse
		if err := json.Unmarshal(data, &killmail); err == nil {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			span.SetStatus(codes.Ok, "Killmail fetched from cache")
			return &KillmailResult{
				Data: &killmail,
				Cache: CacheInfo{
					Cached:    true,
					ExpiresAt: expiresAt,
				},
			}, nil
		}
	}

	span.SetAttributes(attribute.Bool("cache_hit", false))

	// Fetch from ESI
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	c.cacheManager.SetConditionalHeaders(req, cacheKey)

	resp, err := c.retryClient.DoWithRetry(ctx, req, 3)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified {
		if data, cached, err := c.cacheManager.GetForNotModified(cacheKey); err == nil && cached {
			var killmail KillmailResponse
			if err := json.Unmarshal(data, &killmail); err == nil {
				c.cacheManager.RefreshExpiry(cacheKey, resp.Header)
				span.SetStatus(codes.Ok, "Killmail fetched from cache (304)")
				return &KillmailResult{
					Data: &killmail,
					Cache: CacheInfo{
						Cached: true,
					},
				}, nil
			}
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		span.SetStatus(codes.Error, fmt.Sprintf("ESI returned status %d", resp.StatusCode))
		return nil, fmt.Errorf("ESI returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to read response")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var killmail KillmailResponse
	if err := json.Unmarshal(body, &killmail); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode response")
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Cache the response
	if err := c.cacheManager.Set(cacheKey, body, resp.Header); err != nil {
		slog.Error("Failed to cache killmail", "error", err, "killmail_id", killmailID)
	}

	span.SetStatus(codes.Ok, "Killmail fetched from ESI")
	return &KillmailResult{
		Data: &killmail,
		Cache: CacheInfo{
			Cached: false,
		},
	}, nil
}

// GetCharacterRecentKillmails fetches recent killmails for a character
func (c *KillmailClient) GetCharacterRecentKillmails(ctx context.Context, characterID int, token string) ([]KillmailRef, error) {
	tracer := otel.Tracer("evegateway")
	ctx, span := tracer.Start(ctx, "GetCharacterRecentKillmails",
		trace.WithAttributes(
			attribute.Int("character_id", characterID),
		))
	defer span.End()

	url := fmt.Sprintf("%s/characters/%d/killmails/recent/", c.baseURL, characterID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.retryClient.DoWithRetry(ctx, req, 3)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		span.SetStatus(codes.Error, fmt.Sprintf("ESI returned status %d", resp.StatusCode))
		return nil, fmt.Errorf("ESI returned status %d: %s", resp.StatusCode, string(body))
	}

	var killmails []KillmailRef
	if err := json.NewDecoder(resp.Body).Decode(&killmails); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode response")
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	span.SetStatus(codes.Ok, "Recent killmails fetched successfully")
	return killmails, nil
}

// GetCharacterRecentKillmailsWithCache fetches recent killmails for a
// character and wraps them in a RecentKillmailsResult. It neither reads
// nor writes the response cache, so Cache.Cached is always false.
func (c *KillmailClient) GetCharacterRecentKillmailsWithCache(ctx context.Context, characterID int, token string) (*RecentKillmailsResult, error) {
	killmails, err := c.GetCharacterRecentKillmails(ctx, characterID, token)
	if err != nil {
		return nil, err
	}

	return &RecentKillmailsResult{
		Data:  killmails,
		Cache: CacheInfo{Cached: false},
	}, nil
}

// GetCorporationRecentKillmails fetches recent killmails for a corporation
func (c *KillmailClient) GetCorporationRecentKillmails(ctx context.Context, corporationID int, token string) ([]KillmailRef, error) {
	tracer := otel.Tracer("evegateway")
	ctx, span := tracer.Start(ctx, "GetCorporationRecentKillmails",
		trace.WithAttributes(
			attribute.Int("corporation_id", corporationID),
		))
	defer span.End()

	url := fmt.Sprintf("%s/corporations/%d/killmails/recent/", c.baseURL, corporationID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.retryClient.DoWithRetry(ctx, req, 3)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		span.SetStatus(codes.Error, fmt.Sprintf("ESI returned status %d", resp.StatusCode))
		return nil, fmt.Errorf("ESI returned status %d: %s", resp.StatusCode, string(body))
	}

	var killmails []KillmailRef
	if err := json.NewDecoder(resp.Body).Decode(&killmails); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode response")
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	span.SetStatus(codes.Ok, "Recent killmails fetched successfully")
	return killmails, nil
}

// GetCorporationRecentKillmailsWithCache fetches recent corporation
// killmails and wraps them in a RecentKillmailsResult. It neither reads
// nor writes the response cache, so Cache.Cached is always false.
func (c *KillmailClient) GetCorporationRecentKillmailsWithCache(ctx context.Context, corporationID int, token string) (*RecentKillmailsResult, error) {
	// Implementation similar to GetCharacterRecentKillmailsWithCache
	killmails, err := c.GetCorporationRecentKillmails(ctx, corporationID, token)
	if err != nil {
		return nil, err
	}

	return &RecentKillmailsResult{
		Data:  killmails,
		Cache: CacheInfo{Cached: false},
	}, nil
}
