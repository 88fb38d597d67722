// Package broadcast matches a freshly stored killmail against live
// subscriptions and fans it out, grounded on the teacher's
// RoomManager.BroadcastToRoom: compute the recipient set, then hand
// off delivery without holding any lock across the send.
package broadcast

import (
	"context"
	"fmt"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/internal/killfeed/subscription"
)

// Broadcaster owns the two reverse indexes (by system, by character)
// and the worker registry, and connects them to the event stream.
type Broadcaster struct {
	bySystem    *subscription.Index[int32]
	byCharacter *subscription.Index[int64]
	registry    *subscription.Registry
	cache       *cache.Cache
}

// New creates a Broadcaster. The registry's onDeath callback is wired
// to both indexes so a dead worker's subscriptions are never left
// dangling in either index.
func New(c *cache.Cache) *Broadcaster {
	b := &Broadcaster{
		bySystem:    subscription.NewIndex[int32](),
		byCharacter: subscription.NewIndex[int64](),
		cache:       c,
	}
	b.registry = subscription.NewRegistry(func(subID string) {
		b.bySystem.RemoveSubscription(subID)
		b.byCharacter.RemoveSubscription(subID)
	})
	return b
}

// Register adds a new delivery target with no subscriptions yet;
// callers add system/character interest via SubscribeSystems /
// SubscribeCharacters afterward.
func (b *Broadcaster) Register(sub subscription.Subscription) {
	b.registry.Register(sub)
}

// Unregister tears a subscription down and removes it from both
// indexes.
func (b *Broadcaster) Unregister(subID string) {
	b.registry.Unregister(subID)
	b.bySystem.RemoveSubscription(subID)
	b.byCharacter.RemoveSubscription(subID)
}

// MaxSystemsPerSubscription and MaxCharactersPerSubscription are the
// hard per-subscription caps; a request to subscribe beyond them is
// rejected outright rather than silently truncated.
const (
	MaxSystemsPerSubscription    = 100
	MaxCharactersPerSubscription = 1000
)

// SubscribeSystems adds system ids to subID's interest set. Returns
// false if adding them would exceed MaxSystemsPerSubscription.
func (b *Broadcaster) SubscribeSystems(subID string, systemIDs []int32) bool {
	if b.bySystem.KeyCount(subID)+len(systemIDs) > MaxSystemsPerSubscription {
		return false
	}
	b.bySystem.AddMany(systemIDs, subID)
	return true
}

// UnsubscribeSystems removes system ids from subID's interest set.
func (b *Broadcaster) UnsubscribeSystems(subID string, systemIDs []int32) {
	for _, id := range systemIDs {
		b.bySystem.Remove(id, subID)
	}
}

// SubscribeCharacters adds character ids to subID's interest set.
// Returns false if adding them would exceed
// MaxCharactersPerSubscription.
func (b *Broadcaster) SubscribeCharacters(subID string, characterIDs []int64) bool {
	if b.byCharacter.KeyCount(subID)+len(characterIDs) > MaxCharactersPerSubscription {
		return false
	}
	b.byCharacter.AddMany(characterIDs, subID)
	return true
}

// UnsubscribeCharacters removes character ids from subID's interest
// set.
func (b *Broadcaster) UnsubscribeCharacters(subID string, characterIDs []int64) {
	for _, id := range characterIDs {
		b.byCharacter.Remove(id, subID)
	}
}

// Run consumes the event store's fan-out channel until ctx is
// cancelled, dispatching each killmail to every interested
// subscription. It is meant to run in its own goroutine, one per
// process, mirroring the single RedisHub consumer loop the teacher
// runs for its own pub/sub fan-out.
func (b *Broadcaster) Run(ctx context.Context, store *eventstore.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-store.Events():
			if !ok {
				return
			}
			b.Dispatch(ctx, evt.Killmail)
		}
	}
}

// Dispatch matches km against both indexes and fans it out. The
// recipient set is computed once, under each index's own read lock,
// then every send happens lock-free — the same shape as
// BroadcastToRoom's "copy members, release lock, then write".
func (b *Broadcaster) Dispatch(ctx context.Context, km model.Killmail) {
	recipients := make(map[string]struct{})
	for _, subID := range b.bySystem.Find(km.SystemID) {
		recipients[subID] = struct{}{}
	}

	characterIDs := b.characterIDsFor(ctx, km)
	for _, subID := range b.byCharacter.FindUnion(characterIDs) {
		recipients[subID] = struct{}{}
	}

	for subID := range recipients {
		b.registry.Dispatch(subID, km)
	}
}

// characterIDsFor returns every character id involved in a killmail
// (victim plus attackers). The ids are stored in the
// character_extraction namespace, but a cache hit comes back
// JSON-decoded as []interface{} and fails the []int64 assertion, so
// the attacker list is re-walked via km.CharacterIDs() on every call.
func (b *Broadcaster) characterIDsFor(ctx context.Context, km model.Killmail) []int64 {
	key := fmt.Sprintf("%d", km.ID)
	v, err := b.cache.GetOrCompute(ctx, cache.NamespaceCharacterExtraction, key, cache.DefaultTTL(cache.NamespaceCharacterExtraction), func(context.Context) (any, error) {
		return km.CharacterIDs(), nil
	})
	if err != nil {
		return km.CharacterIDs()
	}
	ids, ok := v.([]int64)
	if !ok {
		return km.CharacterIDs()
	}
	return ids
}

// Stats reports the current index sizes, surfaced by the status
// endpoint.
type Stats struct {
	SystemSubscriptions    int
	CharacterSubscriptions int
	DistinctSystems        int
	DistinctCharacters     int
	ActiveWorkers          int
}

// Stats snapshots both indexes and the registry.
func (b *Broadcaster) Stats() Stats {
	systems, systemSubs := b.bySystem.Stats()
	characters, characterSubs := b.byCharacter.Stats()
	return Stats{
		SystemSubscriptions:    systemSubs,
		CharacterSubscriptions: characterSubs,
		DistinctSystems:        systems,
		DistinctCharacters:     characters,
		ActiveWorkers:          b.registry.Count(),
	}
}
