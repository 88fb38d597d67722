package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
)

func int64p(v int64) *int64 { return &v }

func TestRegisterGetUnregister_RoundTrips(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Register(Subscription{SubscriberID: "sub-a", URL: "http://example.invalid/hook", SystemIDs: []int32{30000142}}))

	sub, ok := d.Get("sub-a")
	require.True(t, ok)
	assert.Equal(t, "sub-a", sub.SubscriberID)
	assert.False(t, sub.CreatedAt.IsZero())

	d.Unregister("sub-a")
	_, ok = d.Get("sub-a")
	assert.False(t, ok)
}

func TestList_ReturnsEveryRegisteredSubscription(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Register(Subscription{SubscriberID: "sub-a", URL: "http://a.invalid", SystemIDs: []int32{30000142}}))
	require.NoError(t, d.Register(Subscription{SubscriberID: "sub-b", URL: "http://b.invalid", CharacterIDs: []int64{100}}))
	assert.Len(t, d.List(), 2)
}

func TestRegister_RejectsEmptyInterestSet(t *testing.T) {
	d := NewDispatcher()
	err := d.Register(Subscription{SubscriberID: "sub-a", URL: "http://example.invalid/hook"})
	require.Error(t, err)

	_, ok := d.Get("sub-a")
	assert.False(t, ok, "a rejected subscription must not be stored")
}

func TestRegister_RejectsSystemIDsOverLimit(t *testing.T) {
	d := NewDispatcher()
	ids := make([]int32, broadcast.MaxSystemsPerSubscription+1)
	for i := range ids {
		ids[i] = int32(30000000 + i)
	}
	err := d.Register(Subscription{SubscriberID: "sub-a", URL: "http://example.invalid/hook", SystemIDs: ids})
	assert.Error(t, err)
}

func TestRegister_RejectsCharacterIDsOverLimit(t *testing.T) {
	d := NewDispatcher()
	ids := make([]int64, broadcast.MaxCharactersPerSubscription+1)
	for i := range ids {
		ids[i] = int64(i)
	}
	err := d.Register(Subscription{SubscriberID: "sub-a", URL: "http://example.invalid/hook", CharacterIDs: ids})
	assert.Error(t, err)
}

func TestMatches_BySystemID(t *testing.T) {
	sub := Subscription{SystemIDs: []int32{30000142}}
	assert.True(t, matches(sub, model.Killmail{SystemID: 30000142}))
	assert.False(t, matches(sub, model.Killmail{SystemID: 30000144}))
}

func TestMatches_ByCharacterID(t *testing.T) {
	sub := Subscription{CharacterIDs: []int64{100}}
	km := model.Killmail{Victim: model.Victim{CharacterID: int64p(100)}}
	assert.True(t, matches(sub, km))

	other := model.Killmail{Victim: model.Victim{CharacterID: int64p(200)}}
	assert.False(t, matches(sub, other))
}

func TestMatches_NoFiltersNeverMatches(t *testing.T) {
	assert.False(t, matches(Subscription{}, model.Killmail{SystemID: 30000142}))
}

func TestIsPermanentFailure(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusTooEarly, false},
		{http.StatusInternalServerError, false},
		{http.StatusOK, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isPermanentFailure(tc.status), "status %d", tc.status)
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("not-a-number"))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
}

func TestDispatch_DeliversOnlyToMatchingSubscribers(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(Subscription{SubscriberID: "sub-a", URL: server.URL, SystemIDs: []int32{30000142}}))
	require.NoError(t, d.Register(Subscription{SubscriberID: "sub-b", URL: server.URL, SystemIDs: []int32{30000144}}))

	d.Dispatch(context.Background(), model.Killmail{ID: 1, SystemID: 30000142})

	assert.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load(), "only the matching subscriber should have been POSTed to")
}

func TestPostWithRetry_PermanentFailureDoesNotRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := NewDispatcher()
	err := d.postWithRetry(context.Background(), server.URL, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestPostWithRetry_SucceedsOnFirstAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	err := d.postWithRetry(context.Background(), server.URL, []byte(`{}`))
	assert.NoError(t, err)
}

func TestPostWithRetry_RetriesTransientFailureThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	err := d.postWithRetry(context.Background(), server.URL, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}
