// Package model defines the canonical killmail shape the whole pipeline
// operates on, along with the invariants spec'd for a stored event.
package model

import (
	"strconv"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
)

// Position is a 3D coordinate in solar-system space, used for victim
// wreck and structure placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Item is a cargo or fitted item destroyed or dropped with the victim's
// ship. Nested items (e.g. ammo inside a destroyed module) are allowed.
type Item struct {
	ItemTypeID        int32   `json:"item_type_id"`
	ItemTypeName      *string `json:"item_type_name,omitempty"`
	Flag              int32   `json:"flag"`
	Singleton         bool    `json:"singleton"`
	QuantityDestroyed *int64  `json:"quantity_destroyed,omitempty"`
	QuantityDropped   *int64  `json:"quantity_dropped,omitempty"`
	Items             []Item  `json:"items,omitempty"`
}

// Victim is the destroyed ship's pilot and ship, with enriched name
// fields filled in by EnrichmentFetcher where resolvable.
type Victim struct {
	CharacterID     *int64  `json:"character_id,omitempty"`
	CharacterName   *string `json:"character_name,omitempty"`
	CorporationID   *int64  `json:"corporation_id,omitempty"`
	CorporationName *string `json:"corporation_name,omitempty"`
	AllianceID      *int64  `json:"alliance_id,omitempty"`
	AllianceName    *string `json:"alliance_name,omitempty"`
	FactionID       *int64  `json:"faction_id,omitempty"`
	ShipTypeID      int32   `json:"ship_type_id"`
	ShipTypeName    *string `json:"ship_type_name,omitempty"`
	DamageTaken     int64   `json:"damage_taken"`
	Position        *Position `json:"position,omitempty"`
	Items           []Item    `json:"items,omitempty"`
}

// Attacker is one participant credited with damage on the killmail.
type Attacker struct {
	CharacterID     *int64  `json:"character_id,omitempty"`
	CharacterName   *string `json:"character_name,omitempty"`
	CorporationID   *int64  `json:"corporation_id,omitempty"`
	CorporationName *string `json:"corporation_name,omitempty"`
	AllianceID      *int64  `json:"alliance_id,omitempty"`
	AllianceName    *string `json:"alliance_name,omitempty"`
	FactionID       *int64  `json:"faction_id,omitempty"`
	ShipTypeID      *int32  `json:"ship_type_id,omitempty"`
	ShipTypeName    *string `json:"ship_type_name,omitempty"`
	WeaponTypeID    *int32  `json:"weapon_type_id,omitempty"`
	WeaponTypeName  *string `json:"weapon_type_name,omitempty"`
	DamageDone      int64   `json:"damage_done"`
	FinalBlow       bool    `json:"final_blow"`
	SecurityStatus  float64 `json:"security_status"`
}

// ZKBMetadata is the optional valuation/flagging data that travels
// alongside a killmail body but is kept as a separate struct, the way
// the teacher's zkillboard models package keeps it separate from the
// ESI killmail shape.
type ZKBMetadata struct {
	Hash         string  `json:"hash"`
	LocationID   *int64  `json:"location_id,omitempty"`
	TotalValue   float64 `json:"total_value"`
	FittedValue  float64 `json:"fitted_value,omitempty"`
	DroppedValue float64 `json:"dropped_value,omitempty"`
	Points       int     `json:"points"`
	NPC          bool    `json:"npc"`
	Solo         bool    `json:"solo"`
	Awox         bool    `json:"awox"`
}

// Killmail is the canonical, immutable-once-built event record that
// flows through Pipeline, EventStore, and the delivery layer.
type Killmail struct {
	ID                 int64        `json:"id"`
	KillTime           time.Time    `json:"kill_time"`
	SystemID           int32        `json:"system_id"`
	Victim             Victim       `json:"victim"`
	Attackers          []Attacker   `json:"attackers"`
	ZKB                *ZKBMetadata `json:"zkb_metadata,omitempty"`
	EnrichmentComplete bool         `json:"enrichment_complete"`
}

// Validate enforces spec §3/§8-I1: a positive id, a parseable kill
// time, exactly one final blow when there are attackers, and NPC
// victims (no character_id) being exempt from the "at least one
// attacker" rule.
func (k *Killmail) Validate() error {
	if k.ID <= 0 {
		return kferrors.NewKillmailError(kferrors.KillInvalidFormat, "", "id must be positive")
	}
	if k.KillTime.IsZero() {
		return kferrors.NewKillmailError(kferrors.KillMissingRequiredFields, formatID(k.ID), "kill_time is required")
	}
	if k.SystemID <= 0 {
		return kferrors.NewKillmailError(kferrors.KillMissingRequiredFields, formatID(k.ID), "system_id must be positive")
	}
	if k.Victim.ShipTypeID <= 0 {
		return kferrors.NewKillmailError(kferrors.KillMissingRequiredFields, formatID(k.ID), "victim.ship_type_id is required")
	}

	isNPCVictim := k.Victim.CharacterID == nil
	if !isNPCVictim && len(k.Attackers) == 0 {
		return kferrors.NewKillmailError(kferrors.KillMissingRequiredFields, formatID(k.ID), "non-NPC kill requires at least one attacker")
	}

	if len(k.Attackers) > 0 {
		finalBlows := 0
		for _, a := range k.Attackers {
			if a.FinalBlow {
				finalBlows++
			}
		}
		if finalBlows != 1 {
			return kferrors.NewKillmailError(kferrors.KillInvalidFormat, formatID(k.ID), "exactly one attacker must have final_blow=true")
		}
	}

	return nil
}

// IsNPCKill reports whether the victim had no player-owned character,
// the condition under which an empty attacker list is legal.
func (k *Killmail) IsNPCKill() bool {
	return k.Victim.CharacterID == nil
}

// CharacterIDs returns the de-duplicated set of character ids present
// in the killmail (victim plus attackers), used by Broadcaster's
// character-index matching.
func (k *Killmail) CharacterIDs() []int64 {
	seen := make(map[int64]struct{}, len(k.Attackers)+1)
	var ids []int64

	add := func(id *int64) {
		if id == nil {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}

	add(k.Victim.CharacterID)
	for i := range k.Attackers {
		add(k.Attackers[i].CharacterID)
	}

	return ids
}

func formatID(id int64) string {
	if id == 0 {
		return "unknown"
	}
	return strconv.FormatInt(id, 10)
}
