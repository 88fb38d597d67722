// Package stream implements the long-poll loop that feeds the
// pipeline: a single cooperative goroutine per poller instance,
// adaptive idle/fast pacing, and exponential backoff on transport
// failure, grounded on the teacher's RedisQ consumer loop.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
	"github.com/evekillfeed/killfeed/internal/killfeed/pipeline"
)

// State mirrors the teacher's ServiceState enum: a small, loggable
// lifecycle for the poll loop.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	default:
		return "stopped"
	}
}

// Metrics tracks poller activity, one atomic counter per outcome.
type Metrics struct {
	Polls             atomic.Int64
	Errors            atomic.Int64
	KillmailsReceived atomic.Int64
	OlderKillmails    atomic.Int64

	systemsMu    sync.Mutex
	activeSystems map[int32]struct{}
}

// ActiveSystems reports the number of distinct systems that have
// produced a stored killmail through this poller.
func (m *Metrics) ActiveSystems() int {
	m.systemsMu.Lock()
	defer m.systemsMu.Unlock()
	return len(m.activeSystems)
}

func (m *Metrics) recordActiveSystem(systemID int32) {
	m.systemsMu.Lock()
	defer m.systemsMu.Unlock()
	if m.activeSystems == nil {
		m.activeSystems = make(map[int32]struct{})
	}
	m.activeSystems[systemID] = struct{}{}
}

// Envelope is the shape a single long-poll response carries: either a
// killmail package, or a null package meaning "nothing new".
type Envelope struct {
	Package json.RawMessage `json:"package"`
}

// Config controls pacing. FastInterval is used while kills are
// arriving; IdleInterval once the feed goes quiet.
type Config struct {
	Endpoint       string
	QueueID        string
	UserAgent      string
	FastInterval   time.Duration
	IdleInterval   time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	PollTimeout    time.Duration
}

// DefaultConfig matches spec.md §4.5: 5s idle, 1s fast, 5s/60s backoff
// bounds, ~10s poll timeout.
func DefaultConfig(endpoint, queueID string) Config {
	return Config{
		Endpoint:     endpoint,
		QueueID:      queueID,
		UserAgent:    "killfeed/1.0",
		FastInterval: time.Second,
		IdleInterval: 5 * time.Second,
		BackoffBase:  5 * time.Second,
		BackoffMax:   60 * time.Second,
		PollTimeout:  10 * time.Second,
	}
}

// Poller runs the long-poll loop against a single upstream feed.
type Poller struct {
	cfg        Config
	httpClient *http.Client
	pipeline   *pipeline.Pipeline

	mu    sync.RWMutex
	state atomic.Int32

	cancel context.CancelFunc
	wg     sync.WaitGroup

	Metrics Metrics
}

// New creates a Poller bound to a pipeline instance.
func New(cfg Config, p *pipeline.Pipeline) *Poller {
	return &Poller{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.PollTimeout + 5*time.Second,
		},
		pipeline: p,
	}
}

// Start launches the poll loop in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state.Store(int32(StateRunning))

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop cancels the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.state.Store(int32(StateStopped))
}

// State returns the poller's current lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.cfg.IdleInterval
	backoff := p.cfg.BackoffBase

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		gotKillmail, err := p.pollOnce(ctx)
		if err != nil {
			p.Metrics.Errors.Add(1)
			p.state.Store(int32(StateBackoff))
			slog.Warn("stream poll failed, backing off", slog.String("error", err.Error()), slog.Duration("backoff", backoff))

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > p.cfg.BackoffMax {
				backoff = p.cfg.BackoffMax
			}
			continue
		}

		backoff = p.cfg.BackoffBase
		p.state.Store(int32(StateRunning))

		if gotKillmail {
			interval = p.cfg.FastInterval
		} else {
			interval = p.cfg.IdleInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// pollOnce performs a single long-poll request and, if it carried a
// killmail, runs it through the pipeline. It reports whether a
// killmail was received so the caller can speed up its next poll.
func (p *Poller) pollOnce(ctx context.Context) (bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?queueID=%s&ttw=%d", p.cfg.Endpoint, p.cfg.QueueID, int(p.cfg.PollTimeout.Seconds()))
	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, kferrors.NewTransportError("build_request", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	p.Metrics.Polls.Add(1)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, kferrors.NewTransportError("poll", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return false, kferrors.NewRateLimitError(time.Minute)
	}
	if resp.StatusCode != http.StatusOK {
		return false, kferrors.NewTransportError("poll", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, kferrors.NewTransportError("read_body", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false, kferrors.NewTransportError("decode", err)
	}

	if len(env.Package) == 0 || string(env.Package) == "null" {
		return false, nil
	}

	km, outcome, err := p.pipeline.Process(ctx, env.Package)
	if err != nil {
		var killErr *kferrors.KillmailError
		if errors.As(err, &killErr) && killErr.Kind == kferrors.KillTooOld {
			p.Metrics.OlderKillmails.Add(1)
			return true, nil
		}
		slog.Warn("pipeline rejected polled killmail", slog.String("error", err.Error()))
		return true, nil
	}

	if outcome == pipeline.OutcomeStored {
		p.Metrics.KillmailsReceived.Add(1)
		p.Metrics.recordActiveSystem(km.SystemID)
		slog.Info("killmail stored from stream", slog.Int64("killmail_id", km.ID), slog.Int("system_id", int(km.SystemID)))
	}

	return true, nil
}
