// Package cache implements the namespaced, TTL'd lookup cache shared by
// the pipeline and enrichment layers. It is an in-memory map by default,
// the way the teacher's memory cache engine works, optionally backed by
// Redis so a second instance doesn't start every lookup cold.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
	"github.com/evekillfeed/killfeed/pkg/database"
)

// Namespace partitions the key space so that a killmail id and a
// character id never collide even if numerically equal.
type Namespace string

const (
	NamespaceKillmails            Namespace = "killmails"
	NamespaceSystems              Namespace = "systems"
	NamespaceCharacters           Namespace = "characters"
	NamespaceCorporations         Namespace = "corporations"
	NamespaceAlliances            Namespace = "alliances"
	NamespaceShipTypes            Namespace = "ship_types"
	NamespaceCharacterExtraction  Namespace = "character_extraction"
)

// DefaultTTL returns the standard TTL for a namespace, per spec §3.
func DefaultTTL(ns Namespace) time.Duration {
	switch ns {
	case NamespaceKillmails:
		return 5 * time.Minute
	case NamespaceSystems:
		return time.Hour
	case NamespaceCharacters, NamespaceCorporations, NamespaceAlliances, NamespaceShipTypes:
		return 24 * time.Hour
	case NamespaceCharacterExtraction:
		return 5 * time.Minute
	default:
		return 5 * time.Minute
	}
}

type entry struct {
	value      []byte
	expiresAt  time.Time
}

// nsCounters tracks hit/miss counts for one namespace.
type nsCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// Cache is a namespaced, TTL'd key-value store. Reads and writes are
// lazily expired on access; a background sweep also runs periodically
// so cold namespaces don't hold stale memory indefinitely.
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry

	redis *database.Redis
	group singleflight.Group

	countersMu sync.Mutex
	counters   map[Namespace]*nsCounters

	sweepInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates a Cache. redis may be nil, in which case the cache is
// purely in-memory for this process.
func New(redis *database.Redis) *Cache {
	return &Cache{
		items:         make(map[string]entry),
		redis:         redis,
		counters:      make(map[Namespace]*nsCounters),
		sweepInterval: 60 * time.Second,
	}
}

func namespacedKey(ns Namespace, key string) string {
	return string(ns) + ":" + key
}

// Start launches the background expiry sweep. Stop cancels it.
func (c *Cache) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.sweepLoop(ctx)
}

// Stop cancels the background sweep and waits for it to exit.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Cache) sweepLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
		}
	}
}

// Get looks up a raw cached value, returning ok=false on miss or
// expiry. It checks the in-memory tier first, then falls through to
// Redis when configured.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string) (json.RawMessage, bool) {
	full := namespacedKey(ns, key)

	c.mu.RLock()
	e, found := c.items[full]
	c.mu.RUnlock()

	if found {
		if time.Now().After(e.expiresAt) {
			c.mu.Lock()
			delete(c.items, full)
			c.mu.Unlock()
		} else {
			c.recordHit(ns)
			return json.RawMessage(e.value), true
		}
	}

	if c.redis == nil {
		c.recordMiss(ns)
		return nil, false
	}

	var raw json.RawMessage
	if err := c.redis.GetJSON(ctx, full, &raw); err != nil {
		c.recordMiss(ns)
		return nil, false
	}

	ttl := DefaultTTL(ns)
	c.mu.Lock()
	c.items[full] = entry{value: append([]byte(nil), raw...), expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	c.recordHit(ns)
	return raw, true
}

func (c *Cache) counterFor(ns Namespace) *nsCounters {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	n, ok := c.counters[ns]
	if !ok {
		n = &nsCounters{}
		c.counters[ns] = n
	}
	return n
}

func (c *Cache) recordHit(ns Namespace)  { c.counterFor(ns).hits.Add(1) }
func (c *Cache) recordMiss(ns Namespace) { c.counterFor(ns).misses.Add(1) }

// Set stores a value, serialized as JSON, in both tiers. It never
// returns an error to the caller on a Redis failure: the spec treats
// cache unavailability as a fallback condition, not a request failure.
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value any, ttl time.Duration) error {
	full := namespacedKey(ns, key)
	raw, err := json.Marshal(value)
	if err != nil {
		return kferrors.NewValidationError("value", "cache value is not JSON-serializable")
	}

	c.mu.Lock()
	c.items[full] = entry{value: raw, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	if c.redis == nil {
		return nil
	}
	if err := c.redis.SetWithTTL(ctx, full, string(raw), ttl); err != nil {
		slog.Warn("redis cache write failed, continuing with memory tier only",
			slog.String("namespace", string(ns)), slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// Invalidate drops a key from both tiers immediately.
func (c *Cache) Invalidate(ctx context.Context, ns Namespace, key string) {
	full := namespacedKey(ns, key)
	c.mu.Lock()
	delete(c.items, full)
	c.mu.Unlock()
	if c.redis != nil {
		_ = c.redis.Delete(ctx, full)
	}
}

// ClearNamespace drops every key under ns from both tiers and resets
// its hit/miss counters, for operator-triggered invalidation (e.g. a
// ship-type reference reload) rather than per-key expiry.
func (c *Cache) ClearNamespace(ctx context.Context, ns Namespace) error {
	prefix := string(ns) + ":"

	c.mu.Lock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()

	c.countersMu.Lock()
	delete(c.counters, ns)
	c.countersMu.Unlock()

	if c.redis == nil {
		return nil
	}

	var cursor uint64
	pattern := prefix + "*"
	for {
		keys, next, err := c.redis.Client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return kferrors.NewCacheError(string(ns), "scan failed: "+err.Error())
		}
		if len(keys) > 0 {
			if err := c.redis.Delete(ctx, keys...); err != nil {
				return kferrors.NewCacheError(string(ns), "delete failed: "+err.Error())
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// NamespaceStats reports one namespace's hit/miss counters and the
// number of entries it currently holds in the in-memory tier.
type NamespaceStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int64 `json:"size"`
}

// Stats snapshots hit/miss/size counters for every namespace that has
// been touched, surfaced by the status endpoint.
func (c *Cache) Stats() map[Namespace]NamespaceStats {
	sizes := make(map[Namespace]int64)
	c.mu.RLock()
	for k := range c.items {
		if idx := strings.IndexByte(k, ':'); idx >= 0 {
			sizes[Namespace(k[:idx])]++
		}
	}
	c.mu.RUnlock()

	c.countersMu.Lock()
	defer c.countersMu.Unlock()

	out := make(map[Namespace]NamespaceStats, len(c.counters))
	for ns, n := range c.counters {
		out[ns] = NamespaceStats{Hits: n.hits.Load(), Misses: n.misses.Load(), Size: sizes[ns]}
	}
	for ns, size := range sizes {
		if _, ok := out[ns]; !ok {
			out[ns] = NamespaceStats{Size: size}
		}
	}
	return out
}

// GetOrCompute returns the cached value for key, computing it via fn
// exactly once per key even under concurrent callers (the teacher's
// stampede-prevention pattern from a cache executor elsewhere in the
// ecosystem), and caching the result at ttl on success. If fn returns
// an error, that error is returned to the caller and nothing is cached.
func (c *Cache) GetOrCompute(ctx context.Context, ns Namespace, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	full := namespacedKey(ns, key)

	if raw, ok := c.Get(ctx, ns, key); ok {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}

	v, err, _ := c.group.Do(full, func() (any, error) {
		result, ferr := fn(ctx)
		if ferr != nil {
			return nil, ferr
		}
		if setErr := c.Set(ctx, ns, key, result, ttl); setErr != nil {
			slog.Warn("failed to cache computed value",
				slog.String("namespace", string(ns)), slog.String("key", key), slog.String("error", setErr.Error()))
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
