package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "4004", cfg.Port)
	assert.False(t, cfg.Headless)
	assert.Equal(t, "https://zkillredisq.stream/listen.php", cfg.Stream.Endpoint)
	assert.Equal(t, time.Second, cfg.Stream.FastInterval)
	assert.Equal(t, 5*time.Second, cfg.Stream.IdleInterval)
	assert.Equal(t, 10000, cfg.Storage.MaxEventsPerSystem)
	assert.Equal(t, 24*time.Hour, cfg.Storage.MaxKillAge)
	assert.Equal(t, 10, cfg.Enrichment.MaxConcurrency)
	assert.Equal(t, 100, cfg.Subscription.MaxSystems)
	assert.Equal(t, 1000, cfg.Subscription.MaxCharacters)
	assert.Equal(t, 20, cfg.Monitoring.PreloadEventCount)
	assert.Equal(t, "", cfg.RedisURL)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("HEADLESS", "true")
	t.Setenv("STORAGE_MAX_EVENTS_PER_SYSTEM", "500")
	t.Setenv("STREAM_FAST_INTERVAL", "2s")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 500, cfg.Storage.MaxEventsPerSystem)
	assert.Equal(t, 2*time.Second, cfg.Stream.FastInterval)
}

func TestMain(m *testing.M) {
	// Isolate from any ambient environment the test runner's shell carries.
	for _, k := range []string{"PORT", "HEADLESS", "STORAGE_MAX_EVENTS_PER_SYSTEM", "STREAM_FAST_INTERVAL"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}
