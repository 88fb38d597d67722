package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdd_FindReturnsSubscriber(t *testing.T) {
	idx := NewIndex[int32]()
	idx.Add(30000142, "sub-a")
	assert.Equal(t, []string{"sub-a"}, idx.Find(30000142))
}

func TestAdd_MultipleSubscribersSameKey(t *testing.T) {
	idx := NewIndex[int32]()
	idx.Add(30000142, "sub-a")
	idx.Add(30000142, "sub-b")
	assert.ElementsMatch(t, []string{"sub-a", "sub-b"}, idx.Find(30000142))
}

func TestAddMany_RegistersEveryKeyInOneCall(t *testing.T) {
	idx := NewIndex[int32]()
	idx.AddMany([]int32{30000142, 30000144}, "sub-a")

	assert.Equal(t, []string{"sub-a"}, idx.Find(30000142))
	assert.Equal(t, []string{"sub-a"}, idx.Find(30000144))
	assert.Equal(t, 2, idx.KeyCount("sub-a"))
}

func TestRemove_DropsOnlyThatKey(t *testing.T) {
	idx := NewIndex[int32]()
	idx.AddMany([]int32{30000142, 30000144}, "sub-a")
	idx.Remove(30000142, "sub-a")

	assert.Empty(t, idx.Find(30000142))
	assert.Equal(t, []string{"sub-a"}, idx.Find(30000144))
	assert.Equal(t, 1, idx.KeyCount("sub-a"))
}

func TestRemoveSubscription_DropsEveryKey(t *testing.T) {
	idx := NewIndex[int32]()
	idx.AddMany([]int32{30000142, 30000144}, "sub-a")
	idx.Add(30000142, "sub-b")

	idx.RemoveSubscription("sub-a")

	assert.Equal(t, []string{"sub-b"}, idx.Find(30000142))
	assert.Empty(t, idx.Find(30000144))
	assert.Equal(t, 0, idx.KeyCount("sub-a"))
}

func TestFindUnion_DeduplicatesAcrossKeys(t *testing.T) {
	idx := NewIndex[int32]()
	idx.Add(30000142, "sub-a")
	idx.Add(30000144, "sub-a")
	idx.Add(30000144, "sub-b")

	union := idx.FindUnion([]int32{30000142, 30000144})
	assert.ElementsMatch(t, []string{"sub-a", "sub-b"}, union)
}

func TestStats_ReportsKeyAndSubscriptionCounts(t *testing.T) {
	idx := NewIndex[int32]()
	idx.AddMany([]int32{30000142, 30000144}, "sub-a")
	idx.Add(30000142, "sub-b")

	keys, subs := idx.Stats()
	assert.Equal(t, 2, keys)
	assert.Equal(t, 2, subs)
}

func TestStartSweep_RemovesSubscriptionsThatNoLongerExist(t *testing.T) {
	idx := NewIndex[int32]()
	idx.Add(30000142, "sub-a")
	idx.Add(30000142, "sub-b")

	live := map[string]bool{"sub-b": true}
	stop := idx.StartSweep(time.Millisecond, func(subID string) bool { return live[subID] })
	defer stop()

	assert.Eventually(t, func() bool {
		return idx.KeyCount("sub-a") == 0
	}, time.Second, time.Millisecond)

	assert.Equal(t, []string{"sub-b"}, idx.Find(30000142))
}
