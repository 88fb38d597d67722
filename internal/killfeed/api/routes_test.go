package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/enrichment"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/internal/killfeed/pipeline"
	"github.com/evekillfeed/killfeed/internal/killfeed/statusreport"
	"github.com/evekillfeed/killfeed/internal/killfeed/webhook"
)

func newTestAPI(t *testing.T) (*chi.Mux, *cache.Cache, *eventstore.Store, *webhook.Dispatcher) {
	t.Helper()
	c := cache.New(nil)
	store := eventstore.New(16)
	enricher := enrichment.New(nil, c, 4)
	p := pipeline.New(c, store, enricher, nil, time.Hour)
	b := broadcast.New(c)
	webhooks := webhook.NewDispatcher()
	reporter := statusreport.New(nil, p, b, c)

	router := chi.NewRouter()
	humaAPI := humachi.New(router, huma.DefaultConfig("killfeed-test", "0.0.0"))
	RegisterRoutes(humaAPI, "/api", NewService(c, store, webhooks, b, reporter))

	return router, c, store, webhooks
}

func doRequest(router *chi.Mux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetHealth_ReturnsHealthy(t *testing.T) {
	router, _, _, _ := newTestAPI(t)
	w := doRequest(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestGetStatus_ReturnsReportBody(t *testing.T) {
	router, _, _, _ := newTestAPI(t)
	w := doRequest(router, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "status")
	assert.Contains(t, body, "pipeline")
}

func TestGetSystemKills_ReturnsStoredKillmails(t *testing.T) {
	router, _, store, _ := newTestAPI(t)
	store.Insert(model.Killmail{ID: 1, SystemID: 30000142})

	w := doRequest(router, http.MethodGet, "/api/kills/system/30000142", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body KillmailListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, int64(1), body.Kills[0].ID)
}

func TestGetSystemKills_RejectsSystemIDBelowMinimum(t *testing.T) {
	router, _, _, _ := newTestAPI(t)
	w := doRequest(router, http.MethodGet, "/api/kills/system/1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetKillmailByID_NotFoundWhenUncached(t *testing.T) {
	router, _, _, _ := newTestAPI(t)
	w := doRequest(router, http.MethodGet, "/api/killmail/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetKillmailByID_ReturnsCachedKillmail(t *testing.T) {
	router, c, _, _ := newTestAPI(t)
	require.NoError(t, c.Set(context.Background(), cache.NamespaceKillmails, "42", model.Killmail{ID: 42}, time.Minute))

	w := doRequest(router, http.MethodGet, "/api/killmail/42", "")
	require.Equal(t, http.StatusOK, w.Code)

	var km model.Killmail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &km))
	assert.Equal(t, int64(42), km.ID)
}

func TestGetSystemKillCount_ReflectsRetainedRecords(t *testing.T) {
	router, _, store, _ := newTestAPI(t)
	store.Insert(model.Killmail{ID: 1, SystemID: 30000142})
	store.Insert(model.Killmail{ID: 2, SystemID: 30000142})

	w := doRequest(router, http.MethodGet, "/api/kills/count/30000142", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body SystemCountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestCreateListDeleteSubscription_RoundTrips(t *testing.T) {
	router, _, _, _ := newTestAPI(t)

	create := doRequest(router, http.MethodPost, "/api/subscriptions",
		`{"subscriber_id": "sub-a", "url": "http://example.com/hook", "system_ids": [30000142]}`)
	require.Equal(t, http.StatusCreated, create.Code)

	list := doRequest(router, http.MethodGet, "/api/subscriptions", "")
	require.Equal(t, http.StatusOK, list.Code)
	var listBody struct {
		Subscriptions []SubscriptionResponse `json:"subscriptions"`
		Count         int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listBody))
	require.Equal(t, 1, listBody.Count)
	assert.Equal(t, "sub-a", listBody.Subscriptions[0].SubscriberID)

	del := doRequest(router, http.MethodDelete, "/api/subscriptions/sub-a", "")
	require.Equal(t, http.StatusOK, del.Code)
	var delBody struct {
		Removed bool `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(del.Body.Bytes(), &delBody))
	assert.True(t, delBody.Removed)

	secondDelete := doRequest(router, http.MethodDelete, "/api/subscriptions/sub-a", "")
	require.NoError(t, json.Unmarshal(secondDelete.Body.Bytes(), &delBody))
	assert.False(t, delBody.Removed)
}

func TestCreateSubscription_RejectsInvalidURL(t *testing.T) {
	router, _, _, _ := newTestAPI(t)
	w := doRequest(router, http.MethodPost, "/api/subscriptions",
		`{"subscriber_id": "sub-a", "url": "not-a-url"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateSubscription_RejectsEmptyInterestSet(t *testing.T) {
	router, _, _, _ := newTestAPI(t)
	w := doRequest(router, http.MethodPost, "/api/subscriptions",
		`{"subscriber_id": "sub-a", "url": "http://example.com/hook"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
