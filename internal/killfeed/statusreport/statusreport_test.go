package statusreport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/enrichment"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/pipeline"
	"github.com/evekillfeed/killfeed/internal/killfeed/stream"
)

func newTestPoller(t *testing.T) *stream.Poller {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"package": null}`))
	}))
	t.Cleanup(server.Close)

	c := cache.New(nil)
	store := eventstore.New(16)
	enricher := enrichment.New(nil, c, 4)
	p := pipeline.New(c, store, enricher, nil, time.Hour)
	return stream.New(stream.Config{
		Endpoint:     server.URL,
		FastInterval: time.Millisecond,
		IdleInterval: time.Millisecond,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
		PollTimeout:  time.Second,
	}, p)
}

func TestBuild_WithLivePollerReportsHealthy(t *testing.T) {
	poller := newTestPoller(t)
	c := cache.New(nil)
	store := eventstore.New(16)
	enricher := enrichment.New(nil, c, 4)
	p := pipeline.New(c, store, enricher, nil, time.Hour)
	b := broadcast.New(c)

	r := New(poller, p, b, c)
	report := r.Build()

	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "stopped", report.Stream.State)
	assert.Equal(t, 0, report.Stream.ActiveSystems)
}

func TestBuild_NilPollerReportsDisabledWithoutPanicking(t *testing.T) {
	c := cache.New(nil)
	store := eventstore.New(16)
	enricher := enrichment.New(nil, c, 4)
	p := pipeline.New(c, store, enricher, nil, time.Hour)
	b := broadcast.New(c)

	r := New(nil, p, b, c)

	var report *Report
	assert.NotPanics(t, func() { report = r.Build() })
	require.NotNil(t, report)
	assert.Equal(t, "disabled", report.Stream.State)
	assert.Equal(t, "healthy", report.Status)
}

func TestBuild_ReflectsPipelineMetrics(t *testing.T) {
	c := cache.New(nil)
	require.NoError(t, c.Set(context.Background(), cache.NamespaceShipTypes, "670", "Rifter", time.Hour))
	store := eventstore.New(16)
	enricher := enrichment.New(nil, c, 4)
	p := pipeline.New(c, store, enricher, nil, time.Hour)
	b := broadcast.New(c)

	_, _, err := p.Process(context.Background(), fullNPCKillPayload())
	require.NoError(t, err)

	r := New(nil, p, b, c)
	report := r.Build()
	assert.Equal(t, int64(1), report.Pipeline.Stored)
	assert.Equal(t, int64(1), report.Pipeline.Received)
	assert.Equal(t, int64(1), report.Cache[cache.NamespaceShipTypes].Hits, "the ship-type lookup during enrichment should register as a cache hit")
}

func fullNPCKillPayload() []byte {
	return []byte(`{
		"killmail_id": 1,
		"solar_system_id": 30000142,
		"killmail_time": "` + time.Now().Format(time.RFC3339) + `",
		"victim": {"ship_type_id": 670, "damage_taken": 100}
	}`)
}
