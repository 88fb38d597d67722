// Package config resolves every killfeed environment option into one
// immutable Config struct at boot, grounded on pkg/config's
// GetEnv/GetBoolEnv/GetIntEnv/GetDurationEnv helpers and the teacher's
// "resolve once, pass down" shape from pkg/app.InitializeApp.
package config

import (
	"time"

	"github.com/evekillfeed/killfeed/pkg/config"
)

// Config is the fully resolved, read-only configuration for one
// killfeed process.
type Config struct {
	Port     string
	Headless bool

	Cache      CacheConfig
	Stream     StreamConfig
	Storage    StorageConfig
	Enrichment EnrichmentConfig
	Subscription SubscriptionConfig
	Monitoring MonitoringConfig

	RedisURL string
}

// CacheConfig holds the cache sweep interval. cmd/killfeed does not
// pass it to the cache, which sweeps on its own fixed 60s period.
type CacheConfig struct {
	SweepInterval time.Duration
}

// StreamConfig controls StreamPoller pacing.
type StreamConfig struct {
	Endpoint     string
	QueueID      string
	FastInterval time.Duration
	IdleInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	PollTimeout  time.Duration
}

// StorageConfig controls EventStore retention.
type StorageConfig struct {
	MaxEventsPerSystem int
	GCInterval         time.Duration
	EventBufferSize    int
	MaxKillAge         time.Duration
}

// EnrichmentConfig holds EnrichmentFetcher options. Only MaxConcurrency
// is passed to the fetcher; MaxRetries and BaseDelay are resolved but
// not read, and the fetcher uses enrichment.DefaultRetryConfig.
type EnrichmentConfig struct {
	MaxConcurrency int
	MaxRetries     int
	BaseDelay      time.Duration
}

// SubscriptionConfig holds per-subscription limit, sweep and drain
// options. They are resolved but not read: the broadcaster enforces its
// own MaxSystemsPerSubscription/MaxCharactersPerSubscription constants.
type SubscriptionConfig struct {
	MaxSystems    int
	MaxCharacters int
	SweepInterval time.Duration
	DrainTimeout  time.Duration
}

// MonitoringConfig holds the WebSocket preload count: how many unseen
// events per system a channel client is sent on join or subscribe.
type MonitoringConfig struct {
	PreloadEventCount int
}

// Load resolves Config from the process environment, applying spec.md
// §6's defaults for every option that is left unset.
func Load() *Config {
	return &Config{
		Port:     config.GetEnv("PORT", "4004"),
		Headless: config.GetBoolEnv("HEADLESS", false),

		Cache: CacheConfig{
			SweepInterval: config.GetDurationEnv("CACHE_SWEEP_INTERVAL", 60*time.Second),
		},

		Stream: StreamConfig{
			Endpoint:     config.GetEnv("STREAM_ENDPOINT", "https://zkillredisq.stream/listen.php"),
			QueueID:      config.GetEnv("STREAM_QUEUE_ID", "killfeed"),
			FastInterval: config.GetDurationEnv("STREAM_FAST_INTERVAL", time.Second),
			IdleInterval: config.GetDurationEnv("STREAM_IDLE_INTERVAL", 5*time.Second),
			BackoffBase:  config.GetDurationEnv("STREAM_BACKOFF_BASE", 5*time.Second),
			BackoffMax:   config.GetDurationEnv("STREAM_BACKOFF_MAX", 60*time.Second),
			PollTimeout:  config.GetDurationEnv("STREAM_POLL_TIMEOUT", 10*time.Second),
		},

		Storage: StorageConfig{
			MaxEventsPerSystem: config.GetIntEnv("STORAGE_MAX_EVENTS_PER_SYSTEM", 10000),
			GCInterval:         config.GetDurationEnv("STORAGE_GC_INTERVAL", 60*time.Second),
			EventBufferSize:    config.GetIntEnv("STORAGE_EVENT_BUFFER_SIZE", 256),
			MaxKillAge:         config.GetDurationEnv("STORAGE_MAX_KILL_AGE", 24*time.Hour),
		},

		Enrichment: EnrichmentConfig{
			MaxConcurrency: config.GetIntEnv("ENRICHMENT_MAX_CONCURRENCY", 10),
			MaxRetries:     config.GetIntEnv("ENRICHMENT_MAX_RETRIES", 3),
			BaseDelay:      config.GetDurationEnv("ENRICHMENT_BASE_DELAY", time.Second),
		},

		Subscription: SubscriptionConfig{
			MaxSystems:    config.GetIntEnv("SUBSCRIPTION_MAX_SYSTEMS", 100),
			MaxCharacters: config.GetIntEnv("SUBSCRIPTION_MAX_CHARACTERS", 1000),
			SweepInterval: config.GetDurationEnv("SUBSCRIPTION_SWEEP_INTERVAL", 5*time.Minute),
			DrainTimeout:  config.GetDurationEnv("SUBSCRIPTION_DRAIN_TIMEOUT", time.Second),
		},

		Monitoring: MonitoringConfig{
			PreloadEventCount: config.GetIntEnv("MONITORING_PRELOAD_EVENT_COUNT", 20),
		},

		RedisURL: config.GetEnv("REDIS_URL", ""),
	}
}
