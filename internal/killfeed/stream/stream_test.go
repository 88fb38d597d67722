package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/enrichment"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/pipeline"
)

func newTestPoller(t *testing.T, server *httptest.Server) (*Poller, *cache.Cache) {
	t.Helper()
	c := cache.New(nil)
	store := eventstore.New(16)
	enricher := enrichment.New(nil, c, 4)
	p := pipeline.New(c, store, enricher, nil, time.Hour)

	cfg := Config{
		Endpoint:     server.URL,
		QueueID:      "killfeed",
		UserAgent:    "killfeed-test/1.0",
		FastInterval: time.Millisecond,
		IdleInterval: time.Millisecond,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
		PollTimeout:  time.Second,
	}
	return New(cfg, p), c
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "backoff", StateBackoff.String())
}

func TestPollOnce_NullPackageReturnsFalseWithoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"package": null}`))
	}))
	defer server.Close()

	p, _ := newTestPoller(t, server)
	got, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, int64(1), p.Metrics.Polls.Load())
}

func TestPollOnce_StoresKillmailAndReturnsTrue(t *testing.T) {
	killmail := map[string]any{
		"killmail_id":     1,
		"solar_system_id": 30000142,
		"killmail_time":   time.Now(),
		"victim": map[string]any{
			"ship_type_id": 670,
			"damage_taken": 100,
		},
	}
	pkg, err := json.Marshal(killmail)
	require.NoError(t, err)
	env, err := json.Marshal(map[string]json.RawMessage{"package": pkg})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(env)
	}))
	defer server.Close()

	p, c := newTestPoller(t, server)
	require.NoError(t, c.Set(context.Background(), cache.NamespaceShipTypes, "670", "Rifter", time.Hour))

	got, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, int64(1), p.Metrics.KillmailsReceived.Load())
	assert.Equal(t, 1, p.Metrics.ActiveSystems())
}

func TestPollOnce_RepeatedSystemDoesNotInflateActiveSystemsCount(t *testing.T) {
	makeEnv := func(id int) []byte {
		killmail := map[string]any{
			"killmail_id":     id,
			"solar_system_id": 30000142,
			"killmail_time":   time.Now(),
			"victim": map[string]any{
				"ship_type_id": 670,
				"damage_taken": 100,
			},
		}
		pkg, err := json.Marshal(killmail)
		require.NoError(t, err)
		env, err := json.Marshal(map[string]json.RawMessage{"package": pkg})
		require.NoError(t, err)
		return env
	}

	var nextID atomic.Int32
	nextID.Store(1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeEnv(int(nextID.Add(1))))
	}))
	defer server.Close()

	p, c := newTestPoller(t, server)
	require.NoError(t, c.Set(context.Background(), cache.NamespaceShipTypes, "670", "Rifter", time.Hour))

	_, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	_, err = p.pollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, p.Metrics.ActiveSystems())
}

func TestPollOnce_RateLimitedReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, _ := newTestPoller(t, server)
	_, err := p.pollOnce(context.Background())
	assert.Error(t, err)
}

func TestPollOnce_UnexpectedStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p, _ := newTestPoller(t, server)
	_, err := p.pollOnce(context.Background())
	assert.Error(t, err)
}

func TestStartStop_TransitionsThroughRunningAndBackToStopped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"package": null}`))
	}))
	defer server.Close()

	p, _ := newTestPoller(t, server)
	p.Start(context.Background())

	assert.Eventually(t, func() bool { return p.State() == StateRunning }, time.Second, time.Millisecond)

	p.Stop()
	assert.Equal(t, StateStopped, p.State())
}
