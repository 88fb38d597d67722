package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
)

func int64p(v int64) *int64 { return &v }
func int32p(v int32) *int32 { return &v }

func TestResolveOne_ServesFromCacheWithoutCallingClient(t *testing.T) {
	c := cache.New(nil)
	f := New(nil, c, 4)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, cache.NamespaceCharacters, "100", "Some Pilot", time.Hour))

	name, err := f.resolveOne(ctx, kindCharacter, 100)
	require.NoError(t, err)
	assert.Equal(t, "Some Pilot", name)
}

func TestNamespaceFor_MapsEveryKind(t *testing.T) {
	assert.Equal(t, cache.NamespaceCharacters, namespaceFor(kindCharacter))
	assert.Equal(t, cache.NamespaceCorporations, namespaceFor(kindCorporation))
	assert.Equal(t, cache.NamespaceAlliances, namespaceFor(kindAlliance))
	assert.Equal(t, cache.NamespaceShipTypes, namespaceFor(kindShipType))
}

func TestClassifyESIError_MapsKnownShapes(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		checkAs func(t *testing.T, err error)
	}{
		{"not found", errors.New("esi returned 404 not found"), func(t *testing.T, err error) {
			var nf *kferrors.NotFoundError
			assert.ErrorAs(t, err, &nf)
		}},
		{"rate limited", fmt.Errorf("status %d", http.StatusTooManyRequests), func(t *testing.T, err error) {
			var rl *kferrors.RateLimitError
			assert.ErrorAs(t, err, &rl)
		}},
		{"other", errors.New("connection reset"), func(t *testing.T, err error) {
			var te *kferrors.TransportError
			assert.ErrorAs(t, err, &te)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.checkAs(t, classifyESIError(tc.err))
		})
	}
}

func TestContains_FindsSubstring(t *testing.T) {
	assert.True(t, contains("esi returned 404 not found", "404"))
	assert.False(t, contains("esi returned 200 ok", "404"))
}

func TestCollectIDs_GathersAcrossVictimAndAttackers(t *testing.T) {
	kills := []model.Killmail{
		{
			Victim: model.Victim{CharacterID: int64p(1), CorporationID: int64p(10), AllianceID: int64p(100), ShipTypeID: 670},
			Attackers: []model.Attacker{
				{CharacterID: int64p(2), CorporationID: int64p(20), ShipTypeID: int32p(671)},
				{CharacterID: nil}, // NPC attacker contributes nothing
			},
		},
	}

	characterIDs := map[int64]struct{}{}
	corporationIDs := map[int64]struct{}{}
	allianceIDs := map[int64]struct{}{}
	shipTypeIDs := map[int64]struct{}{}
	collectIDs(kills, characterIDs, corporationIDs, allianceIDs, shipTypeIDs)

	assert.Equal(t, map[int64]struct{}{1: {}, 2: {}}, characterIDs)
	assert.Equal(t, map[int64]struct{}{10: {}, 20: {}}, corporationIDs)
	assert.Equal(t, map[int64]struct{}{100: {}}, allianceIDs)
	assert.Equal(t, map[int64]struct{}{670: {}, 671: {}}, shipTypeIDs)
}

func TestApply_FillsResolvedNamesAndLeavesUnresolvedNil(t *testing.T) {
	f := &Fetcher{}
	km := model.Killmail{
		Victim: model.Victim{CharacterID: int64p(1), ShipTypeID: 670},
		Attackers: []model.Attacker{
			{CharacterID: int64p(2), ShipTypeID: int32p(671)},
		},
	}
	result := &EnrichResult{
		Resolved: map[resolvedKey]string{
			{kindCharacter, 1}: "Victim Pilot",
			{kindShipType, 670}: "Rifter",
		},
		Failed: map[int64]error{2: errors.New("not found")},
	}

	f.Apply(&km, result)

	require.NotNil(t, km.Victim.CharacterName)
	assert.Equal(t, "Victim Pilot", *km.Victim.CharacterName)
	require.NotNil(t, km.Victim.ShipTypeName)
	assert.Equal(t, "Rifter", *km.Victim.ShipTypeName)
	assert.Nil(t, km.Attackers[0].CharacterName, "unresolved attacker id must be left nil, not zero-valued")
	assert.False(t, km.EnrichmentComplete, "a batch with any failure must not be marked complete")
}

func TestApply_MarksCompleteWhenNothingFailed(t *testing.T) {
	f := &Fetcher{}
	km := model.Killmail{Victim: model.Victim{ShipTypeID: 670}}
	result := &EnrichResult{Resolved: map[resolvedKey]string{{kindShipType, 670}: "Rifter"}, Failed: map[int64]error{}}

	f.Apply(&km, result)
	assert.True(t, km.EnrichmentComplete)
}

func TestApply_DoesNotConfuseEntitiesSharingANumericID(t *testing.T) {
	f := &Fetcher{}
	km := model.Killmail{
		Victim: model.Victim{CharacterID: int64p(42), AllianceID: int64p(42)},
	}
	result := &EnrichResult{
		Resolved: map[resolvedKey]string{
			{kindCharacter, 42}: "Some Pilot",
			{kindAlliance, 42}:  "Some Alliance",
		},
		Failed: map[int64]error{},
	}

	f.Apply(&km, result)

	require.NotNil(t, km.Victim.CharacterName)
	require.NotNil(t, km.Victim.AllianceName)
	assert.Equal(t, "Some Pilot", *km.Victim.CharacterName)
	assert.Equal(t, "Some Alliance", *km.Victim.AllianceName)
}

func TestNew_DefaultsNonPositiveConcurrency(t *testing.T) {
	f := New(nil, cache.New(nil), 0)
	assert.Equal(t, 10, cap(f.sem))
}
