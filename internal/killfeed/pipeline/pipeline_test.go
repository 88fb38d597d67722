package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/enrichment"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
	"github.com/evekillfeed/killfeed/pkg/evegateway/killmails"
)

type fakeKillmailsClient struct {
	resp *killmails.KillmailResponse
	err  error
}

func (f *fakeKillmailsClient) GetKillmail(ctx context.Context, killmailID int64, hash string) (*killmails.KillmailResponse, error) {
	return f.resp, f.err
}
func (f *fakeKillmailsClient) GetKillmailWithCache(ctx context.Context, killmailID int64, hash string) (*killmails.KillmailResult, error) {
	return nil, nil
}
func (f *fakeKillmailsClient) GetCharacterRecentKillmails(ctx context.Context, characterID int, token string) ([]killmails.KillmailRef, error) {
	return nil, nil
}
func (f *fakeKillmailsClient) GetCharacterRecentKillmailsWithCache(ctx context.Context, characterID int, token string) (*killmails.RecentKillmailsResult, error) {
	return nil, nil
}
func (f *fakeKillmailsClient) GetCorporationRecentKillmails(ctx context.Context, corporationID int, token string) ([]killmails.KillmailRef, error) {
	return nil, nil
}
func (f *fakeKillmailsClient) GetCorporationRecentKillmailsWithCache(ctx context.Context, corporationID int, token string) (*killmails.RecentKillmailsResult, error) {
	return nil, nil
}

func newPipeline(t *testing.T, killmailsClient killmails.Client, maxAge time.Duration) (*Pipeline, *cache.Cache) {
	t.Helper()
	c := cache.New(nil)
	store := eventstore.New(16)
	enricher := enrichment.New(nil, c, 4)
	return New(c, store, enricher, killmailsClient, maxAge), c
}

// fullNPCKillPayload is an NPC kill (no victim character, no attackers)
// so enrichment only needs to resolve one ship-type id, which the tests
// pre-seed into the cache to avoid any network dependency.
func fullNPCKillPayload(id int64, systemID int32, killTime time.Time, shipTypeID int32) json.RawMessage {
	payload := map[string]any{
		"killmail_id":     id,
		"solar_system_id": systemID,
		"killmail_time":   killTime,
		"victim": map[string]any{
			"ship_type_id": shipTypeID,
			"damage_taken": 1000,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return raw
}

func TestProcess_StoresValidFullKillmail(t *testing.T) {
	p, c := newPipeline(t, nil, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, cache.NamespaceShipTypes, "670", "Rifter", time.Hour))

	km, outcome, err := p.Process(ctx, fullNPCKillPayload(1, 30000142, time.Now(), 670))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, outcome)
	assert.Equal(t, int64(1), km.ID)
	assert.Equal(t, int64(1), p.Metrics.Stored.Load())
}

func TestProcess_RejectsInvalidKillmail(t *testing.T) {
	p, _ := newPipeline(t, nil, time.Hour)
	_, _, err := p.Process(context.Background(), json.RawMessage(`{"killmail_id": 1}`))
	require.Error(t, err)
	assert.Equal(t, int64(1), p.Metrics.Invalid.Load())
}

func TestProcess_SkipsKillOlderThanMaxAge(t *testing.T) {
	p, c := newPipeline(t, nil, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, cache.NamespaceShipTypes, "670", "Rifter", time.Hour))

	_, outcome, err := p.Process(ctx, fullNPCKillPayload(1, 30000142, time.Now().Add(-48*time.Hour), 670))
	require.Error(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	var kmErr *kferrors.KillmailError
	require.ErrorAs(t, err, &kmErr)
	assert.Equal(t, kferrors.KillTooOld, kmErr.Kind)
	assert.Equal(t, int64(1), p.Metrics.SkippedOld.Load())
}

func TestProcess_DetectsDuplicateViaCache(t *testing.T) {
	p, c := newPipeline(t, nil, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, cache.NamespaceShipTypes, "670", "Rifter", time.Hour))

	payload := fullNPCKillPayload(1, 30000142, time.Now(), 670)
	_, first, err := p.Process(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, first)

	_, second, err := p.Process(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDupe, second)
	assert.Equal(t, int64(1), p.Metrics.Stored.Load(), "a duplicate must not increment Stored again")
}

func TestProcess_FetchesPartialKillmailBodyByIDAndHash(t *testing.T) {
	killTime := time.Now()
	fake := &fakeKillmailsClient{resp: &killmails.KillmailResponse{
		KillmailID:    7,
		KillmailTime:  killTime,
		SolarSystemID: 30000142,
		Victim:        killmails.Victim{ShipTypeID: 670, DamageTaken: 500},
	}}
	p, c := newPipeline(t, fake, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, cache.NamespaceShipTypes, "670", "Rifter", time.Hour))

	partial := json.RawMessage(`{"killID": 7, "zkb": {"hash": "abc123"}}`)
	km, outcome, err := p.Process(ctx, partial)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, outcome)
	assert.Equal(t, int32(30000142), km.SystemID)
}

func TestProcess_PartialKillmailWithoutHashIsInvalid(t *testing.T) {
	p, _ := newPipeline(t, nil, time.Hour)
	_, _, err := p.Process(context.Background(), json.RawMessage(`{"killID": 7}`))
	assert.Error(t, err)
}

func TestProcessBatch_DedupesAgainstCacheAndStoresTheRest(t *testing.T) {
	p, c := newPipeline(t, nil, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, cache.NamespaceShipTypes, "670", "Rifter", time.Hour))
	require.NoError(t, c.Set(ctx, cache.NamespaceKillmails, "1", "already-seen", time.Hour))

	raws := []json.RawMessage{
		fullNPCKillPayload(1, 30000142, time.Now(), 670), // duplicate, should be skipped
		fullNPCKillPayload(2, 30000142, time.Now(), 670),
	}

	stored := p.ProcessBatch(ctx, raws)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(2), stored[0].ID)
}

func TestProcessBatch_EmptyInputReturnsNil(t *testing.T) {
	p, _ := newPipeline(t, nil, time.Hour)
	assert.Nil(t, p.ProcessBatch(context.Background(), nil))
}
