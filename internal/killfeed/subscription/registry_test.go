package subscription

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/model"
)

func TestDispatch_DeliversToRegisteredWorker(t *testing.T) {
	r := NewRegistry(nil)
	received := make(chan model.Killmail, 1)

	r.Register(Subscription{ID: "sub-a", Deliver: func(km model.Killmail) error {
		received <- km
		return nil
	}})
	defer r.Unregister("sub-a")

	r.Dispatch("sub-a", model.Killmail{ID: 1})

	select {
	case km := <-received:
		assert.Equal(t, int64(1), km.ID)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
}

func TestDispatch_UnknownSubscriptionIsANoop(t *testing.T) {
	r := NewRegistry(nil)
	assert.NotPanics(t, func() { r.Dispatch("does-not-exist", model.Killmail{ID: 1}) })
}

func TestExists_ReflectsRegistrationState(t *testing.T) {
	r := NewRegistry(nil)
	assert.False(t, r.Exists("sub-a"))

	r.Register(Subscription{ID: "sub-a", Deliver: func(model.Killmail) error { return nil }})
	assert.True(t, r.Exists("sub-a"))

	r.Unregister("sub-a")
	assert.Eventually(t, func() bool { return !r.Exists("sub-a") }, time.Second, time.Millisecond)
}

func TestCount_TracksLiveWorkers(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Subscription{ID: "sub-a", Deliver: func(model.Killmail) error { return nil }})
	r.Register(Subscription{ID: "sub-b", Deliver: func(model.Killmail) error { return nil }})
	assert.Equal(t, 2, r.Count())
}

func TestDeliverFailure_TearsDownWorkerAndFiresOnDeath(t *testing.T) {
	var mu sync.Mutex
	var dead string
	done := make(chan struct{})

	r := NewRegistry(func(subID string) {
		mu.Lock()
		dead = subID
		mu.Unlock()
		close(done)
	})

	r.Register(Subscription{ID: "sub-a", Deliver: func(model.Killmail) error {
		return errors.New("connection closed")
	}})

	r.Dispatch("sub-a", model.Killmail{ID: 1})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected onDeath to fire after delivery failure")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "sub-a", dead)
	assert.False(t, r.Exists("sub-a"))
}

func TestDeliverPanic_IsRecoveredAndTearsDownWorker(t *testing.T) {
	done := make(chan struct{})
	r := NewRegistry(func(subID string) { close(done) })

	r.Register(Subscription{ID: "sub-a", Deliver: func(model.Killmail) error {
		panic("boom")
	}})

	r.Dispatch("sub-a", model.Killmail{ID: 1})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected panic recovery to still tear the worker down")
	}
}

func TestRegister_ReplacingExistingIDStopsThePreviousWorker(t *testing.T) {
	r := NewRegistry(nil)
	firstCalls := make(chan struct{}, 1)
	secondCalls := make(chan struct{}, 1)

	r.Register(Subscription{ID: "sub-a", Deliver: func(model.Killmail) error {
		firstCalls <- struct{}{}
		return nil
	}})
	r.Register(Subscription{ID: "sub-a", Deliver: func(model.Killmail) error {
		secondCalls <- struct{}{}
		return nil
	}})
	defer r.Unregister("sub-a")

	r.Dispatch("sub-a", model.Killmail{ID: 1})

	select {
	case <-secondCalls:
	case <-time.After(time.Second):
		t.Fatal("expected the replacement worker to receive the dispatch")
	}
	select {
	case <-firstCalls:
		t.Fatal("stale worker should not have received the dispatch")
	default:
	}
}

func TestUnregister_UnknownIDIsANoop(t *testing.T) {
	r := NewRegistry(nil)
	assert.NotPanics(t, func() { r.Unregister("does-not-exist") })
}

func TestDispatch_FullInboxDropsRatherThanBlocks(t *testing.T) {
	r := NewRegistry(nil)
	block := make(chan struct{})
	delivered := make(chan struct{}, defaultInboxSize+1)

	r.Register(Subscription{ID: "sub-a", Deliver: func(model.Killmail) error {
		<-block
		delivered <- struct{}{}
		return nil
	}})
	defer func() {
		close(block)
		r.Unregister("sub-a")
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultInboxSize+10; i++ {
			r.Dispatch("sub-a", model.Killmail{ID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked instead of dropping once the inbox filled")
	}
	require.True(t, r.Exists("sub-a"))
}
