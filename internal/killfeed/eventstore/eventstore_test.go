package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/model"
)

func killmail(id int64, systemID int32) model.Killmail {
	return model.Killmail{ID: id, SystemID: systemID, KillTime: time.Now()}
}

func TestInsert_AssignsIncrementingSequence(t *testing.T) {
	s := New(16)
	r1 := s.Insert(killmail(1, 30000142))
	r2 := s.Insert(killmail(2, 30000142))
	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, uint64(2), r2.Seq)
}

func TestInsert_PublishesToEventsChannel(t *testing.T) {
	s := New(16)
	s.Insert(killmail(1, 30000142))

	select {
	case ev := <-s.Events():
		assert.Equal(t, int32(30000142), ev.SystemID)
		assert.Equal(t, int64(1), ev.Killmail.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a published event")
	}
}

func TestInsert_FullEventsChannelDropsRatherThanBlocks(t *testing.T) {
	s := New(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			s.Insert(killmail(int64(i), 30000142))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Insert blocked on a full events channel")
	}
}

func TestFetchForClient_OnlyReturnsUnseenEvents(t *testing.T) {
	s := New(16)
	s.Insert(killmail(1, 30000142))
	s.Insert(killmail(2, 30000142))

	first := s.FetchForClient("client-a", 30000142, 0)
	require.Len(t, first, 2)

	s.Insert(killmail(3, 30000142))
	second := s.FetchForClient("client-a", 30000142, 0)
	require.Len(t, second, 1)
	assert.Equal(t, int64(3), second[0].Killmail.ID)
}

func TestFetchForClient_RespectsLimit(t *testing.T) {
	s := New(16)
	for i := 0; i < 5; i++ {
		s.Insert(killmail(int64(i), 30000142))
	}
	out := s.FetchForClient("client-a", 30000142, 2)
	assert.Len(t, out, 2)
}

func TestFetchForClient_IndependentClientsHaveIndependentOffsets(t *testing.T) {
	s := New(16)
	s.Insert(killmail(1, 30000142))

	_ = s.FetchForClient("client-a", 30000142, 0)
	out := s.FetchForClient("client-b", 30000142, 0)
	assert.Len(t, out, 1, "a fresh client must still see prior events")
}

func TestFetchOneEvent_FindsBySeq(t *testing.T) {
	s := New(16)
	s.Insert(killmail(1, 30000142))
	rec, ok := s.FetchOneEvent(30000142, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Killmail.ID)

	_, ok = s.FetchOneEvent(30000142, 999)
	assert.False(t, ok)
}

func TestFetchRecent_CapsAtLimitFromTheTail(t *testing.T) {
	s := New(16)
	for i := 0; i < 5; i++ {
		s.Insert(killmail(int64(i), 30000142))
	}
	recent := s.FetchRecent(30000142, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].Killmail.ID)
	assert.Equal(t, int64(4), recent[1].Killmail.ID)
}

func TestFetchRecent_ZeroLimitReturnsEverything(t *testing.T) {
	s := New(16)
	for i := 0; i < 3; i++ {
		s.Insert(killmail(int64(i), 30000142))
	}
	assert.Len(t, s.FetchRecent(30000142, 0), 3)
}

func TestCount_ReflectsRetainedRecords(t *testing.T) {
	s := New(16)
	assert.Equal(t, 0, s.Count(30000142))
	s.Insert(killmail(1, 30000142))
	assert.Equal(t, 1, s.Count(30000142))
}

func TestGC_TrimsToMinClientOffset(t *testing.T) {
	s := New(16)
	for i := 0; i < 5; i++ {
		s.Insert(killmail(int64(i), 30000142))
	}
	s.FetchForClient("client-a", 30000142, 3) // advances offset to seq 3

	s.GC()
	assert.Equal(t, 2, s.Count(30000142))
}

func TestGC_CapsAtMaxEventsPerSystemWhenNoReaders(t *testing.T) {
	s := New(16, WithMaxEventsPerSystem(2))
	for i := 0; i < 5; i++ {
		s.Insert(killmail(int64(i), 30000142))
	}
	s.GC()
	assert.Equal(t, 2, s.Count(30000142))
}

func TestGC_DropsSystemEntirelyWhenFullyConsumed(t *testing.T) {
	s := New(16)
	s.Insert(killmail(1, 30000142))
	s.FetchForClient("client-a", 30000142, 0)

	s.GC()
	assert.Equal(t, 0, s.Count(30000142))
}

func TestReleaseClient_DropsOffsetsSoGCNoLongerPinsHistory(t *testing.T) {
	s := New(16)
	s.Insert(killmail(1, 30000142))
	s.FetchForClient("client-a", 30000142, 0)
	s.ReleaseClient("client-a")

	s.Insert(killmail(2, 30000142))
	s.GC()
	assert.Equal(t, 2, s.Count(30000142), "with no readers left, GC has nothing to trim against")
}

func TestStartStop_GCLoopExitsCleanly(t *testing.T) {
	s := New(16, WithGCInterval(time.Millisecond))
	s.Start()
	time.Sleep(5 * time.Millisecond)
	s.Stop()
}
