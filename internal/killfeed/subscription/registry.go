package subscription

import (
	"log/slog"
	"sync"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/model"
)

// DeliverFunc pushes a matched killmail to a subscriber — a WebSocket
// write, a webhook POST. A non-nil error is treated as fatal: the
// worker stops and the registry tears the subscription down, the way
// the teacher's writeToConnection failing means the connection itself
// is dead, not just that one message.
type DeliverFunc func(model.Killmail) error

const defaultInboxSize = 64

// Subscription is one registered delivery target.
type Subscription struct {
	ID      string
	Deliver DeliverFunc
}

type worker struct {
	sub   Subscription
	inbox chan model.Killmail
	done  chan struct{}
}

// Registry owns one worker goroutine per subscription. Dispatch is
// always non-blocking: a subscriber slow enough to fill its inbox
// loses the overflow rather than stalling the broadcaster, mirroring
// EventStore's drop-on-full fan-out contract.
type Registry struct {
	mu       sync.RWMutex
	workers  map[string]*worker
	onDeath  func(subID string)
	drainFor time.Duration
}

// NewRegistry creates an empty Registry. onDeath is invoked (outside
// any lock) whenever a subscription's worker exits, except a worker
// that Register has already replaced with a new one, so callers can
// remove it from their indexes without the registry needing to know
// about SystemIndex/CharacterIndex directly.
func NewRegistry(onDeath func(subID string)) *Registry {
	return &Registry{
		workers:  make(map[string]*worker),
		onDeath:  onDeath,
		drainFor: time.Second,
	}
}

// Register starts a worker goroutine for sub. Registering an id that
// already has a live worker replaces it, stopping the old one first.
func (r *Registry) Register(sub Subscription) {
	r.Unregister(sub.ID)

	w := &worker{
		sub:   sub,
		inbox: make(chan model.Killmail, defaultInboxSize),
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	r.workers[sub.ID] = w
	r.mu.Unlock()

	go r.run(w)
}

// Unregister stops subID's worker, if any, and drains its inbox with
// a bounded timeout before giving up.
func (r *Registry) Unregister(subID string) {
	r.mu.Lock()
	w, ok := r.workers[subID]
	if ok {
		delete(r.workers, subID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	close(w.done)
}

// Dispatch delivers km to subID's worker without blocking. A full
// inbox or an unknown subscription id silently drops the message.
func (r *Registry) Dispatch(subID string, km model.Killmail) {
	r.mu.RLock()
	w, ok := r.workers[subID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case w.inbox <- km:
	default:
		slog.Warn("subscriber inbox full, dropping killmail", slog.String("subscription_id", subID))
	}
}

// Exists reports whether subID currently has a live worker, the
// lookup SubscriptionIndex's periodic sweep uses to find stale
// entries.
func (r *Registry) Exists(subID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[subID]
	return ok
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

func (r *Registry) run(w *worker) {
	defer r.handleDeath(w)

	for {
		select {
		case <-w.done:
			r.drain(w)
			return
		case km := <-w.inbox:
			if !r.deliver(w, km) {
				return
			}
		}
	}
}

// drain flushes whatever is already queued, up to drainFor, so a
// graceful unsubscribe doesn't silently discard in-flight kills.
func (r *Registry) drain(w *worker) {
	deadline := time.NewTimer(r.drainFor)
	defer deadline.Stop()
	for {
		select {
		case km := <-w.inbox:
			r.deliver(w, km)
		case <-deadline.C:
			return
		default:
			if len(w.inbox) == 0 {
				return
			}
		}
	}
}

// deliver calls the subscriber's DeliverFunc with panic recovery so
// one bad subscriber callback can never take down the broadcast path;
// it reports false when the worker should stop entirely (the deliver
// func itself failed, meaning the underlying connection is gone).
func (r *Registry) deliver(w *worker, km model.Killmail) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("subscriber delivery panicked", slog.String("subscription_id", w.sub.ID), slog.Any("panic", rec))
			ok = false
		}
	}()

	if err := w.sub.Deliver(km); err != nil {
		slog.Info("subscriber delivery failed, tearing down", slog.String("subscription_id", w.sub.ID), slog.String("error", err.Error()))
		return false
	}
	return true
}

// handleDeath removes w from the registry and fires onDeath, unless
// Register has already put a replacement worker under the same id.
func (r *Registry) handleDeath(w *worker) {
	r.mu.Lock()
	current, ok := r.workers[w.sub.ID]
	replaced := ok && current != w
	if ok && !replaced {
		delete(r.workers, w.sub.ID)
	}
	r.mu.Unlock()

	if r.onDeath != nil && !replaced {
		r.onDeath(w.sub.ID)
	}
}
