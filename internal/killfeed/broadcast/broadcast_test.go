package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/internal/killfeed/subscription"
)

func int64p(v int64) *int64 { return &v }

func recordingSub(id string) (subscription.Subscription, <-chan model.Killmail) {
	out := make(chan model.Killmail, 4)
	return subscription.Subscription{ID: id, Deliver: func(km model.Killmail) error {
		out <- km
		return nil
	}}, out
}

func TestDispatch_DeliversToSystemSubscriber(t *testing.T) {
	b := New(cache.New(nil))
	sub, received := recordingSub("sub-a")
	b.Register(sub)
	defer b.Unregister("sub-a")
	require.True(t, b.SubscribeSystems("sub-a", []int32{30000142}))

	b.Dispatch(context.Background(), model.Killmail{ID: 1, SystemID: 30000142})

	select {
	case km := <-received:
		assert.Equal(t, int64(1), km.ID)
	case <-time.After(time.Second):
		t.Fatal("expected system subscriber to receive the killmail")
	}
}

func TestDispatch_DeliversToCharacterSubscriber(t *testing.T) {
	b := New(cache.New(nil))
	sub, received := recordingSub("sub-a")
	b.Register(sub)
	defer b.Unregister("sub-a")
	require.True(t, b.SubscribeCharacters("sub-a", []int64{100}))

	km := model.Killmail{ID: 1, SystemID: 30000144, Victim: model.Victim{CharacterID: int64p(100)}}
	b.Dispatch(context.Background(), km)

	select {
	case got := <-received:
		assert.Equal(t, int64(1), got.ID)
	case <-time.After(time.Second):
		t.Fatal("expected character subscriber to receive the killmail")
	}
}

func TestDispatch_UninterestedSubscriberReceivesNothing(t *testing.T) {
	b := New(cache.New(nil))
	sub, received := recordingSub("sub-a")
	b.Register(sub)
	defer b.Unregister("sub-a")
	require.True(t, b.SubscribeSystems("sub-a", []int32{30000142}))

	b.Dispatch(context.Background(), model.Killmail{ID: 1, SystemID: 30000144})

	select {
	case <-received:
		t.Fatal("subscriber watching a different system must not receive this kill")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDispatch_SameSubscriberOnBothIndexesReceivesOnce(t *testing.T) {
	b := New(cache.New(nil))
	sub, received := recordingSub("sub-a")
	b.Register(sub)
	defer b.Unregister("sub-a")
	require.True(t, b.SubscribeSystems("sub-a", []int32{30000142}))
	require.True(t, b.SubscribeCharacters("sub-a", []int64{100}))

	km := model.Killmail{ID: 1, SystemID: 30000142, Victim: model.Victim{CharacterID: int64p(100)}}
	b.Dispatch(context.Background(), km)

	require.Eventually(t, func() bool { return len(received) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, received, 1, "a recipient matched by both indexes must still be delivered to exactly once")
}

func TestSubscribeSystems_RejectsOverLimit(t *testing.T) {
	b := New(cache.New(nil))
	ids := make([]int32, MaxSystemsPerSubscription+1)
	for i := range ids {
		ids[i] = int32(30000000 + i)
	}
	assert.False(t, b.SubscribeSystems("sub-a", ids))
}

func TestSubscribeCharacters_RejectsOverLimit(t *testing.T) {
	b := New(cache.New(nil))
	ids := make([]int64, MaxCharactersPerSubscription+1)
	for i := range ids {
		ids[i] = int64(i)
	}
	assert.False(t, b.SubscribeCharacters("sub-a", ids))
}

func TestUnsubscribeSystems_StopsFurtherDelivery(t *testing.T) {
	b := New(cache.New(nil))
	sub, received := recordingSub("sub-a")
	b.Register(sub)
	defer b.Unregister("sub-a")
	require.True(t, b.SubscribeSystems("sub-a", []int32{30000142}))
	b.UnsubscribeSystems("sub-a", []int32{30000142})

	b.Dispatch(context.Background(), model.Killmail{ID: 1, SystemID: 30000142})

	select {
	case <-received:
		t.Fatal("unsubscribed system must not receive further kills")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnregister_RemovesFromBothIndexes(t *testing.T) {
	b := New(cache.New(nil))
	sub, _ := recordingSub("sub-a")
	b.Register(sub)
	require.True(t, b.SubscribeSystems("sub-a", []int32{30000142}))
	require.True(t, b.SubscribeCharacters("sub-a", []int64{100}))

	b.Unregister("sub-a")

	stats := b.Stats()
	assert.Equal(t, 0, stats.DistinctSystems)
	assert.Equal(t, 0, stats.DistinctCharacters)
	assert.Equal(t, 0, stats.ActiveWorkers)
}

func TestCharacterIDsFor_FallsBackOnCacheRoundTripTypeMismatch(t *testing.T) {
	b := New(cache.New(nil))
	km := model.Killmail{ID: 1, Victim: model.Victim{CharacterID: int64p(100)}}

	first := b.characterIDsFor(context.Background(), km)
	assert.Equal(t, []int64{100}, first)

	// A second call hits the cache; GetOrCompute's json round trip turns
	// the cached []int64 into []interface{}, so characterIDsFor must
	// still fall back to a direct recomputation rather than return a
	// type assertion failure.
	second := b.characterIDsFor(context.Background(), km)
	assert.Equal(t, []int64{100}, second)
}

func TestStats_ReflectsRegisteredSubscriptions(t *testing.T) {
	b := New(cache.New(nil))
	sub, _ := recordingSub("sub-a")
	b.Register(sub)
	defer b.Unregister("sub-a")
	require.True(t, b.SubscribeSystems("sub-a", []int32{30000142, 30000144}))

	stats := b.Stats()
	assert.Equal(t, 2, stats.DistinctSystems)
	assert.Equal(t, 1, stats.SystemSubscriptions)
	assert.Equal(t, 1, stats.ActiveWorkers)
}

func TestRun_ConsumesStoreEventsUntilCancelled(t *testing.T) {
	b := New(cache.New(nil))
	sub, received := recordingSub("sub-a")
	b.Register(sub)
	defer b.Unregister("sub-a")
	require.True(t, b.SubscribeSystems("sub-a", []int32{30000142}))

	store := eventstore.New(16)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, store)
	}()

	store.Insert(model.Killmail{ID: 1, SystemID: 30000142})

	select {
	case km := <-received:
		assert.Equal(t, int64(1), km.ID)
	case <-time.After(time.Second):
		t.Fatal("expected Run to dispatch the published event")
	}

	cancel()
	wg.Wait()
}
