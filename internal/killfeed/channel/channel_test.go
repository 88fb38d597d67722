package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/internal/killfeed/subscription"
)

func int64p(v int64) *int64 { return &v }

func newTestClient(t *testing.T) (*client, *broadcast.Broadcaster, *eventstore.Store) {
	t.Helper()
	b := broadcast.New(cache.New(nil))
	store := eventstore.New(16)
	c := &client{
		id:          "sub-a",
		send:        make(chan Message, 16),
		broadcaster: b,
		store:       store,
		preloadN:    20,
	}
	b.Register(subscription.Subscription{ID: c.id, Deliver: c.deliver})
	return c, b, store
}

func TestHandleMessage_SubscribeSystemsOverLimitSendsError(t *testing.T) {
	c, _, _ := newTestClient(t)
	ids := make([]int32, broadcast.MaxSystemsPerSubscription+1)
	for i := range ids {
		ids[i] = int32(30000000 + i)
	}

	c.handleMessage(Message{Type: MsgSubscribeSystems, SystemIDs: ids})

	select {
	case out := <-c.send:
		assert.Equal(t, MsgError, out.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an error reply")
	}
}

func TestHandleMessage_SubscribeCharactersOverLimitSendsError(t *testing.T) {
	c, _, _ := newTestClient(t)
	ids := make([]int64, broadcast.MaxCharactersPerSubscription+1)
	for i := range ids {
		ids[i] = int64(i)
	}

	c.handleMessage(Message{Type: MsgSubscribeCharacters, CharacterIDs: ids})

	select {
	case out := <-c.send:
		assert.Equal(t, MsgError, out.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an error reply")
	}
}

func TestHandleMessage_UnknownTypeSendsError(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.handleMessage(Message{Type: "bogus"})

	select {
	case out := <-c.send:
		assert.Equal(t, MsgError, out.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an error reply for an unrecognized type")
	}
}

func TestHandleMessage_InvalidSystemIDFailsValidation(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.handleMessage(Message{Type: MsgSubscribeSystems, SystemIDs: []int32{1}}) // below the min=30000000 tag

	select {
	case out := <-c.send:
		assert.Equal(t, MsgError, out.Type)
		assert.Contains(t, out.Error, "invalid message")
	case <-time.After(time.Second):
		t.Fatal("expected validation to reject the out-of-range system id")
	}
}

func TestHandleMessage_SystemStatsRepliesWithStats(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.handleMessage(Message{Type: MsgSystemStats})

	select {
	case out := <-c.send:
		assert.Equal(t, MsgSystemStats, out.Type)
		assert.NotNil(t, out.Stats)
	case <-time.After(time.Second):
		t.Fatal("expected a stats reply")
	}
}

func TestHandleMessage_JoinPreloadsRecentEventsForRequestedSystems(t *testing.T) {
	c, _, store := newTestClient(t)
	store.Insert(model.Killmail{ID: 1, SystemID: 30000142})

	c.handleMessage(Message{Type: MsgJoin, SystemIDs: []int32{30000142}})

	require.Eventually(t, func() bool {
		select {
		case out := <-c.send:
			return out.Type == MsgKillmailUpdate && out.Killmail != nil && out.Killmail.ID == 1
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestHandleMessage_RepeatedSubscribeDoesNotReplayAlreadyPulledEvents(t *testing.T) {
	c, _, store := newTestClient(t)
	store.Insert(model.Killmail{ID: 1, SystemID: 30000142})

	c.handleMessage(Message{Type: MsgSubscribeSystems, SystemIDs: []int32{30000142}})
	require.Eventually(t, func() bool {
		select {
		case out := <-c.send:
			return out.Type == MsgKillmailUpdate && out.Killmail.ID == 1
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	c.handleMessage(Message{Type: MsgSubscribeSystems, SystemIDs: []int32{30000142}})

	time.Sleep(20 * time.Millisecond)
	for {
		select {
		case out := <-c.send:
			assert.NotEqual(t, MsgKillmailUpdate, out.Type, "the already-pulled event must not be replayed")
		default:
			return
		}
	}
}

func TestHandleMessage_SubscribeSystemsSendsOkAck(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.handleMessage(Message{Type: MsgSubscribeSystems, SystemIDs: []int32{30000142}})

	select {
	case out := <-c.send:
		assert.Equal(t, MsgOk, out.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an ok acknowledgment")
	}
}

func TestHandleMessage_JoinCreatesSystemSubscriptionForRealTimeDelivery(t *testing.T) {
	c, b, _ := newTestClient(t)
	c.handleMessage(Message{Type: MsgJoin, SystemIDs: []int32{30000142}})

	// Drain the ok ack (and any preload noise) before asserting on
	// real-time dispatch, mirroring scenario S1: join must itself
	// create the interest set, not just trigger a one-shot backfill.
	require.Eventually(t, func() bool {
		select {
		case out := <-c.send:
			return out.Type == MsgOk
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	b.Dispatch(context.Background(), model.Killmail{ID: 99, SystemID: 30000142})

	require.Eventually(t, func() bool {
		select {
		case out := <-c.send:
			return out.Type == MsgKillmailUpdate && out.Killmail != nil && out.Killmail.ID == 99
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestHandleMessage_JoinWithCharacterIDsCreatesCharacterSubscription(t *testing.T) {
	c, b, _ := newTestClient(t)
	c.handleMessage(Message{Type: MsgJoin, CharacterIDs: []int64{777}})

	require.Eventually(t, func() bool {
		select {
		case out := <-c.send:
			return out.Type == MsgOk
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	km := model.Killmail{ID: 100, SystemID: 30000999, Victim: model.Victim{CharacterID: int64p(777)}}
	b.Dispatch(context.Background(), km)

	require.Eventually(t, func() bool {
		select {
		case out := <-c.send:
			return out.Type == MsgKillmailUpdate && out.Killmail != nil && out.Killmail.ID == 100
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestDeliver_SendsKillmailUpdateMessage(t *testing.T) {
	c, _, _ := newTestClient(t)
	require.NoError(t, c.deliver(model.Killmail{ID: 5}))

	select {
	case out := <-c.send:
		require.NotNil(t, out.Killmail)
		assert.Equal(t, int64(5), out.Killmail.ID)
	case <-time.After(time.Second):
		t.Fatal("expected deliver to enqueue a killmail_update message")
	}
}

func TestDeliver_FullSendBufferReturnsError(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.send = make(chan Message, 1)
	require.NoError(t, c.deliver(model.Killmail{ID: 1}))

	err := c.deliver(model.Killmail{ID: 2})
	assert.Error(t, err)
}
