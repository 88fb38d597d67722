package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
)

func int64p(v int64) *int64 { return &v }

func validKillmail() Killmail {
	return Killmail{
		ID:       12345,
		KillTime: time.Now(),
		SystemID: 30000142,
		Victim: Victim{
			CharacterID: int64p(100),
			ShipTypeID:  670,
		},
		Attackers: []Attacker{
			{CharacterID: int64p(200), FinalBlow: true},
		},
	}
}

func TestValidate_ValidKillmail(t *testing.T) {
	km := validKillmail()
	assert.NoError(t, km.Validate())
}

func TestValidate_RejectsNonPositiveID(t *testing.T) {
	km := validKillmail()
	km.ID = 0
	err := km.Validate()
	require.Error(t, err)
	var kmErr *kferrors.KillmailError
	assert.ErrorAs(t, err, &kmErr)
}

func TestValidate_RejectsZeroKillTime(t *testing.T) {
	km := validKillmail()
	km.KillTime = time.Time{}
	assert.Error(t, km.Validate())
}

func TestValidate_RejectsNonPositiveSystemID(t *testing.T) {
	km := validKillmail()
	km.SystemID = 0
	assert.Error(t, km.Validate())
}

func TestValidate_RejectsMissingVictimShipType(t *testing.T) {
	km := validKillmail()
	km.Victim.ShipTypeID = 0
	assert.Error(t, km.Validate())
}

func TestValidate_NonNPCRequiresAttacker(t *testing.T) {
	km := validKillmail()
	km.Attackers = nil
	assert.Error(t, km.Validate())
}

func TestValidate_NPCKillExemptFromAttackerRequirement(t *testing.T) {
	km := validKillmail()
	km.Victim.CharacterID = nil
	km.Attackers = nil
	assert.NoError(t, km.Validate())
}

func TestValidate_RequiresExactlyOneFinalBlow(t *testing.T) {
	cases := []struct {
		name      string
		attackers []Attacker
		wantErr   bool
	}{
		{"no final blow", []Attacker{{CharacterID: int64p(1)}, {CharacterID: int64p(2)}}, true},
		{"two final blows", []Attacker{{CharacterID: int64p(1), FinalBlow: true}, {CharacterID: int64p(2), FinalBlow: true}}, true},
		{"one final blow", []Attacker{{CharacterID: int64p(1), FinalBlow: true}, {CharacterID: int64p(2)}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			km := validKillmail()
			km.Attackers = tc.attackers
			err := km.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsNPCKill(t *testing.T) {
	km := validKillmail()
	assert.False(t, km.IsNPCKill())

	km.Victim.CharacterID = nil
	assert.True(t, km.IsNPCKill())
}

func TestCharacterIDs_DedupesVictimAndAttackers(t *testing.T) {
	km := validKillmail()
	km.Attackers = append(km.Attackers, Attacker{CharacterID: int64p(100)}) // duplicate of victim
	km.Attackers = append(km.Attackers, Attacker{CharacterID: nil})         // NPC attacker, skipped

	ids := km.CharacterIDs()
	assert.ElementsMatch(t, []int64{100, 200}, ids)
}

func TestCharacterIDs_EmptyForFullNPCKill(t *testing.T) {
	km := Killmail{Victim: Victim{CharacterID: nil}}
	assert.Empty(t, km.CharacterIDs())
}
