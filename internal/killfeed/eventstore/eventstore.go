// Package eventstore implements the append-only, per-system killmail
// log: a monotonic sequence counter, per-client read offsets, and a
// fan-out channel the Broadcaster consumes for real-time delivery.
package eventstore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/model"
)

// EventRecord is one stored killmail with its assigned sequence
// number, the unit clients page through.
type EventRecord struct {
	Seq        uint64
	SystemID   int32
	Killmail   model.Killmail
	InsertedAt time.Time
}

// NewKillmailEvent is published on the fan-out channel each time an
// event is inserted, carrying just enough to let the Broadcaster match
// subscribers without re-reading the store.
type NewKillmailEvent struct {
	SystemID int32
	Killmail model.Killmail
}

const defaultMaxEventsPerSystem = 10000

// Store is the EventStore. All exported methods are safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	seq     atomic.Uint64
	systems map[int32][]EventRecord
	offsets map[string]map[int32]uint64

	maxEventsPerSystem int
	events             chan NewKillmailEvent

	gcInterval time.Duration
	cancel     func()
	wg         sync.WaitGroup
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxEventsPerSystem overrides the per-system retention cap.
func WithMaxEventsPerSystem(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEventsPerSystem = n
		}
	}
}

// WithGCInterval overrides the GC sweep period.
func WithGCInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.gcInterval = d
		}
	}
}

// New creates a Store. eventBuffer sizes the fan-out channel so a slow
// Broadcaster read doesn't block Insert under burst load; the spec
// treats delivery as best-effort, never a backpressure source on
// ingest.
func New(eventBuffer int, opts ...Option) *Store {
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	s := &Store{
		systems:            make(map[int32][]EventRecord),
		offsets:            make(map[string]map[int32]uint64),
		maxEventsPerSystem: defaultMaxEventsPerSystem,
		events:             make(chan NewKillmailEvent, eventBuffer),
		gcInterval:         60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the fan-out channel new insertions are published on.
// There is exactly one consumer in practice (the Broadcaster); callers
// must drain it promptly.
func (s *Store) Events() <-chan NewKillmailEvent {
	return s.events
}

// Start launches the periodic GC sweep.
func (s *Store) Start() {
	stop := make(chan struct{})
	s.cancel = sync.OnceFunc(func() { close(stop) })
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.GC()
			}
		}
	}()
}

// Stop halts the GC sweep and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Insert appends a killmail to its system's log under the next
// sequence number, then publishes a fan-out event. The publish is
// non-blocking: if the channel is full the event is dropped rather
// than stalling ingest, since real-time subscribers that miss a beat
// can still catch up via fetch_for_client.
func (s *Store) Insert(km model.Killmail) EventRecord {
	seq := s.seq.Add(1)
	rec := EventRecord{
		Seq:        seq,
		SystemID:   km.SystemID,
		Killmail:   km,
		InsertedAt: time.Now(),
	}

	s.mu.Lock()
	s.systems[km.SystemID] = append(s.systems[km.SystemID], rec)
	s.mu.Unlock()

	select {
	case s.events <- NewKillmailEvent{SystemID: km.SystemID, Killmail: km}:
	default:
	}

	return rec
}

// FetchForClient returns events for systemID that clientID has not yet
// seen, advancing that client's stored offset to the last record
// returned. limit caps the page size; zero means unbounded.
func (s *Store) FetchForClient(clientID string, systemID int32, limit int) []EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	perSystem, ok := s.offsets[clientID]
	if !ok {
		perSystem = make(map[int32]uint64)
		s.offsets[clientID] = perSystem
	}
	offset := perSystem[systemID]

	log := s.systems[systemID]
	var out []EventRecord
	for _, rec := range log {
		if rec.Seq <= offset {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	if len(out) > 0 {
		perSystem[systemID] = out[len(out)-1].Seq
	}

	return out
}

// FetchOneEvent returns the single record at seq for systemID, if
// still retained.
func (s *Store) FetchOneEvent(systemID int32, seq uint64) (EventRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.systems[systemID] {
		if rec.Seq == seq {
			return rec, true
		}
	}
	return EventRecord{}, false
}

// FetchRecent returns up to limit of the most recent records for
// systemID without consuming a client offset, used by REST reads.
func (s *Store) FetchRecent(systemID int32, limit int) []EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.systems[systemID]
	if limit <= 0 || limit >= len(log) {
		out := make([]EventRecord, len(log))
		copy(out, log)
		return out
	}
	out := make([]EventRecord, limit)
	copy(out, log[len(log)-limit:])
	return out
}

// Count returns the number of retained records for systemID.
func (s *Store) Count(systemID int32) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.systems[systemID])
}

// ReleaseClient drops a disconnected client's offsets so the GC sweep
// no longer pins history on its behalf.
func (s *Store) ReleaseClient(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offsets, clientID)
}

// GC trims each system's log to records newer than the minimum offset
// held by any client, and secondarily caps it at maxEventsPerSystem so
// a client that never reads back doesn't pin unbounded history.
func (s *Store) GC() {
	s.mu.Lock()
	defer s.mu.Unlock()

	minOffsetBySystem := make(map[int32]uint64)
	for _, perSystem := range s.offsets {
		for systemID, offset := range perSystem {
			if cur, ok := minOffsetBySystem[systemID]; !ok || offset < cur {
				minOffsetBySystem[systemID] = offset
			}
		}
	}

	for systemID, log := range s.systems {
		floor, hasReaders := minOffsetBySystem[systemID]

		trimmed := log
		if hasReaders {
			cut := 0
			for cut < len(trimmed) && trimmed[cut].Seq <= floor {
				cut++
			}
			trimmed = trimmed[cut:]
		}

		if len(trimmed) > s.maxEventsPerSystem {
			trimmed = trimmed[len(trimmed)-s.maxEventsPerSystem:]
		}

		if len(trimmed) == 0 {
			delete(s.systems, systemID)
		} else {
			s.systems[systemID] = trimmed
		}
	}
}
