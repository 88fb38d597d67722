// Package statusreport formats the running service's health and
// metrics into the JSON shape the status endpoint serves, grounded on
// the teacher's RedisQConsumer.GetStatus: one snapshot struct built
// fresh from each component's atomic counters.
package statusreport

import (
	"strconv"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/pipeline"
	"github.com/evekillfeed/killfeed/internal/killfeed/stream"
)

// PipelineMetrics is the pipeline counters snapshot.
type PipelineMetrics struct {
	Received         int64 `json:"received"`
	Stored           int64 `json:"stored"`
	SkippedOld       int64 `json:"skipped_old"`
	Invalid          int64 `json:"invalid"`
	EnrichmentFailed int64 `json:"enrichment_failed"`
}

// StreamMetrics is the poller counters snapshot.
type StreamMetrics struct {
	State             string `json:"state"`
	Polls             int64  `json:"polls"`
	Errors            int64  `json:"errors"`
	KillmailsReceived int64  `json:"killmails_received"`
	OlderKillmails    int64  `json:"older_killmails"`
	ActiveSystems     int    `json:"active_systems"`
}

// SubscriptionMetrics is the broadcaster/index snapshot.
type SubscriptionMetrics struct {
	SystemSubscriptions    int `json:"system_subscriptions"`
	CharacterSubscriptions int `json:"character_subscriptions"`
	DistinctSystems        int `json:"distinct_systems"`
	DistinctCharacters     int `json:"distinct_characters"`
	ActiveWorkers          int `json:"active_workers"`
}

// Report is the full status payload.
type Report struct {
	Status        string                                    `json:"status"`
	Message       string                                    `json:"message"`
	Uptime        time.Duration                             `json:"-"`
	UptimeSeconds int64                                     `json:"uptime_seconds"`
	Stream        StreamMetrics                             `json:"stream"`
	Pipeline      PipelineMetrics                            `json:"pipeline"`
	Subscriptions SubscriptionMetrics                        `json:"subscriptions"`
	Cache         map[cache.Namespace]cache.NamespaceStats   `json:"cache"`
}

// Reporter builds a Report from the live components, keeping the
// process start time for uptime calculation.
type Reporter struct {
	startTime   time.Time
	poller      *stream.Poller
	pipeline    *pipeline.Pipeline
	broadcaster *broadcast.Broadcaster
	cache       *cache.Cache
}

// New creates a Reporter bound to the running components.
func New(poller *stream.Poller, p *pipeline.Pipeline, b *broadcast.Broadcaster, c *cache.Cache) *Reporter {
	return &Reporter{startTime: time.Now(), poller: poller, pipeline: p, broadcaster: b, cache: c}
}

// Build snapshots every component into a Report. poller may be nil
// when the process is running headless (ingest disabled); the stream
// metrics are reported zeroed in that case rather than dereferencing
// a nil poller.
func (r *Reporter) Build() *Report {
	stats := r.broadcaster.Stats()

	report := &Report{
		Status:   "healthy",
		Stream:   r.streamMetrics(),
		Pipeline: PipelineMetrics{
			Received:         r.pipeline.Metrics.Received.Load(),
			Stored:           r.pipeline.Metrics.Stored.Load(),
			SkippedOld:       r.pipeline.Metrics.SkippedOld.Load(),
			Invalid:          r.pipeline.Metrics.Invalid.Load(),
			EnrichmentFailed: r.pipeline.Metrics.EnrichmentFailed.Load(),
		},
		Subscriptions: SubscriptionMetrics{
			SystemSubscriptions:    stats.SystemSubscriptions,
			CharacterSubscriptions: stats.CharacterSubscriptions,
			DistinctSystems:        stats.DistinctSystems,
			DistinctCharacters:     stats.DistinctCharacters,
			ActiveWorkers:          stats.ActiveWorkers,
		},
		Uptime: time.Since(r.startTime),
		Cache:  r.cache.Stats(),
	}
	report.UptimeSeconds = int64(report.Uptime.Seconds())

	report.Message = r.statusMessage(report)
	if r.poller != nil && r.poller.State() == stream.StateBackoff {
		report.Status = "degraded"
	}

	return report
}

func (r *Reporter) streamMetrics() StreamMetrics {
	if r.poller == nil {
		return StreamMetrics{State: "disabled"}
	}
	return StreamMetrics{
		State:             r.poller.State().String(),
		Polls:             r.poller.Metrics.Polls.Load(),
		Errors:            r.poller.Metrics.Errors.Load(),
		KillmailsReceived: r.poller.Metrics.KillmailsReceived.Load(),
		OlderKillmails:    r.poller.Metrics.OlderKillmails.Load(),
		ActiveSystems:     r.poller.Metrics.ActiveSystems(),
	}
}

func (r *Reporter) statusMessage(report *Report) string {
	if r.poller == nil {
		return "ingest disabled, serving cached data and real-time fan-out only"
	}
	switch r.poller.State() {
	case stream.StateRunning:
		return "stream running, " + strconv.FormatInt(report.Pipeline.Stored, 10) + " killmails stored"
	case stream.StateBackoff:
		return "stream backing off after transport errors"
	default:
		return "stream stopped"
	}
}
