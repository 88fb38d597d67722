package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet_RoundTrips(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, NamespaceKillmails, "123", map[string]any{"id": float64(123)}, time.Minute))

	raw, ok := c.Get(ctx, NamespaceKillmails, "123")
	require.True(t, ok)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(123), decoded["id"])
}

func TestGet_MissReturnsFalse(t *testing.T) {
	c := New(nil)
	_, ok := c.Get(context.Background(), NamespaceKillmails, "does-not-exist")
	assert.False(t, ok)
}

func TestGet_ExpiredEntryIsTreatedAsMiss(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, NamespaceSystems, "30000142", "value", time.Nanosecond))

	time.Sleep(time.Millisecond)
	_, ok := c.Get(ctx, NamespaceSystems, "30000142")
	assert.False(t, ok)
}

func TestInvalidate_RemovesKey(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, NamespaceCharacters, "100", "Pilot Name", time.Minute))

	c.Invalidate(ctx, NamespaceCharacters, "100")

	_, ok := c.Get(ctx, NamespaceCharacters, "100")
	assert.False(t, ok)
}

func TestNamespacing_SameKeyDifferentNamespaceDoesNotCollide(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, NamespaceCharacters, "1", "character-one", time.Minute))
	require.NoError(t, c.Set(ctx, NamespaceCorporations, "1", "corp-one", time.Minute))

	charRaw, ok := c.Get(ctx, NamespaceCharacters, "1")
	require.True(t, ok)
	corpRaw, ok := c.Get(ctx, NamespaceCorporations, "1")
	require.True(t, ok)

	assert.NotEqual(t, string(charRaw), string(corpRaw))
}

func TestGetOrCompute_CachesOnSuccess(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	var calls atomic.Int32

	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return "computed-value", nil
	}

	v1, err := c.GetOrCompute(ctx, NamespaceShipTypes, "670", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "computed-value", v1)

	v2, err := c.GetOrCompute(ctx, NamespaceShipTypes, "670", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "computed-value", v2)

	assert.Equal(t, int32(1), calls.Load(), "fn must run once per key, second call served from cache")
}

func TestGetOrCompute_PropagatesComputeError(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	wantErr := assert.AnError
	_, err := c.GetOrCompute(ctx, NamespaceShipTypes, "99", time.Minute, func(context.Context) (any, error) {
		return nil, wantErr
	})

	assert.ErrorIs(t, err, wantErr)
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, NamespaceSystems, "expired", "v", time.Nanosecond))
	require.NoError(t, c.Set(ctx, NamespaceSystems, "fresh", "v", time.Hour))

	time.Sleep(time.Millisecond)
	c.sweep()

	c.mu.RLock()
	_, expiredStillPresent := c.items[namespacedKey(NamespaceSystems, "expired")]
	_, freshStillPresent := c.items[namespacedKey(NamespaceSystems, "fresh")]
	c.mu.RUnlock()

	assert.False(t, expiredStillPresent)
	assert.True(t, freshStillPresent)
}

func TestDefaultTTL_MatchesNamespaceTable(t *testing.T) {
	cases := []struct {
		ns   Namespace
		want time.Duration
	}{
		{NamespaceKillmails, 5 * time.Minute},
		{NamespaceSystems, time.Hour},
		{NamespaceCharacters, 24 * time.Hour},
		{NamespaceCorporations, 24 * time.Hour},
		{NamespaceAlliances, 24 * time.Hour},
		{NamespaceShipTypes, 24 * time.Hour},
		{NamespaceCharacterExtraction, 5 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(string(tc.ns), func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultTTL(tc.ns))
		})
	}
}

func TestStats_TracksHitsMissesAndSize(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, NamespaceCharacters, "100", "Pilot", time.Minute))

	_, ok := c.Get(ctx, NamespaceCharacters, "100")
	require.True(t, ok)
	_, ok = c.Get(ctx, NamespaceCharacters, "100")
	require.True(t, ok)
	_, ok = c.Get(ctx, NamespaceCharacters, "does-not-exist")
	require.False(t, ok)

	stats := c.Stats()
	got := stats[NamespaceCharacters]
	assert.Equal(t, int64(2), got.Hits)
	assert.Equal(t, int64(1), got.Misses)
	assert.Equal(t, int64(1), got.Size)
}

func TestClearNamespace_DropsEntriesAndResetsCounters(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, NamespaceCharacters, "100", "Pilot", time.Minute))
	require.NoError(t, c.Set(ctx, NamespaceCorporations, "200", "Corp", time.Minute))
	_, _ = c.Get(ctx, NamespaceCharacters, "100")

	require.NoError(t, c.ClearNamespace(ctx, NamespaceCharacters))

	_, ok := c.Get(ctx, NamespaceCharacters, "100")
	assert.False(t, ok, "cleared namespace must no longer serve its old entries")

	_, ok = c.Get(ctx, NamespaceCorporations, "200")
	assert.True(t, ok, "clearing one namespace must not touch another")

	stats := c.Stats()
	assert.Equal(t, int64(0), stats[NamespaceCharacters].Size)
}

func TestStartStop_SweepLoopExitsCleanly(t *testing.T) {
	c := New(nil)
	c.sweepInterval = time.Millisecond
	c.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	c.Stop()
}
