// Package pipeline turns a raw killmail payload — in any of the field
// spellings upstream sources use — into a validated, enriched, stored
// model.Killmail. The long-poll stream is the ingest path that feeds it,
// one payload at a time through Process; ProcessBatch handles a slice
// of payloads in one call.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/enrichment"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/pkg/evegateway/killmails"
)

// Metrics counts pipeline outcomes. All fields are safe for
// concurrent use, mirroring the teacher's ConsumerMetrics idiom of
// one atomic counter per outcome rather than a shared mutex.
type Metrics struct {
	Received         atomic.Int64
	Stored           atomic.Int64
	SkippedOld       atomic.Int64
	Invalid          atomic.Int64
	EnrichmentFailed atomic.Int64
}

// Pipeline wires validation, dedup, enrichment, and dual storage
// (EventStore plus the killmail cache) behind a single entry point.
type Pipeline struct {
	cache           *cache.Cache
	store           *eventstore.Store
	enricher        *enrichment.Fetcher
	killmailsClient killmails.Client
	maxAge          time.Duration

	Metrics Metrics
}

// New creates a Pipeline. maxAge is the time-cutoff window: kills
// older than maxAge at ingest time are dropped as expected, stale
// traffic rather than an error.
func New(c *cache.Cache, store *eventstore.Store, enricher *enrichment.Fetcher, killmailsClient killmails.Client, maxAge time.Duration) *Pipeline {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Pipeline{
		cache:           c,
		store:           store,
		enricher:        enricher,
		killmailsClient: killmailsClient,
		maxAge:          maxAge,
	}
}

// rawEnvelope accepts both of the field spellings seen in the wild:
// zkillboard-style camelCase (killID, solarSystemID) and ESI-style
// snake_case (killmail_id, solar_system_id). model.Victim/model.Attacker
// already use the ESI tag names, so they decode directly.
type rawEnvelope struct {
	KillID          *int64          `json:"killID"`
	KillmailID      *int64          `json:"killmail_id"`
	SolarSystemID   *int32          `json:"solarSystemID"`
	SolarSystemIDSC *int32          `json:"solar_system_id"`
	KillmailTime    *time.Time      `json:"killmail_time"`
	Victim          *model.Victim   `json:"victim"`
	Attackers       []model.Attacker `json:"attackers"`
	ZKB             *rawZKB         `json:"zkb"`
}

type rawZKB struct {
	Hash       string  `json:"hash"`
	LocationID *int64  `json:"location_id,omitempty"`
	TotalValue float64 `json:"total_value"`
	Points     int     `json:"points"`
	NPC        bool    `json:"npc"`
	Solo       bool    `json:"solo"`
	Awox       bool    `json:"awox"`
}

func (z *rawZKB) toModel() *model.ZKBMetadata {
	if z == nil {
		return nil
	}
	return &model.ZKBMetadata{
		Hash:       z.Hash,
		LocationID: z.LocationID,
		TotalValue: z.TotalValue,
		Points:     z.Points,
		NPC:        z.NPC,
		Solo:       z.Solo,
		Awox:       z.Awox,
	}
}

func coalesceInt64(a, b *int64) int64 {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return 0
}

func coalesceInt32(a, b *int32) int32 {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return 0
}

// normalize parses raw bytes into a canonical Killmail. When the
// payload carries only an id and a zkb hash (the "partial" shape),
// normalize fetches the full body from the killmails client before
// returning.
func (p *Pipeline) normalize(ctx context.Context, raw json.RawMessage) (model.Killmail, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Killmail{}, kferrors.NewKillmailError(kferrors.KillInvalidFormat, "", "malformed json: "+err.Error())
	}

	id := coalesceInt64(env.KillID, env.KillmailID)
	systemID := coalesceInt32(env.SolarSystemID, env.SolarSystemIDSC)

	var killTime time.Time
	if env.KillmailTime != nil {
		killTime = *env.KillmailTime
	}

	km := model.Killmail{
		ID:       id,
		SystemID: systemID,
		KillTime: killTime,
		ZKB:      env.ZKB.toModel(),
	}

	if env.Victim != nil {
		km.Victim = *env.Victim
		km.Attackers = env.Attackers
		return km, nil
	}

	// Partial shape: fetch the full body by id+hash.
	if km.ZKB == nil || km.ZKB.Hash == "" {
		return model.Killmail{}, kferrors.NewKillmailError(kferrors.KillMissingRequiredFields, fmt.Sprintf("%d", id), "partial killmail missing zkb.hash, cannot fetch body")
	}

	resp, err := p.killmailsClient.GetKillmail(ctx, id, km.ZKB.Hash)
	if err != nil {
		return model.Killmail{}, kferrors.NewKillmailError(kferrors.KillEnrichmentFailed, fmt.Sprintf("%d", id), "failed to fetch killmail body: "+err.Error())
	}

	km.SystemID = int32(resp.SolarSystemID)
	km.KillTime = resp.KillmailTime
	km.Victim = convertVictim(resp.Victim)
	km.Attackers = convertAttackers(resp.Attackers)

	return km, nil
}

func convertVictim(v killmails.Victim) model.Victim {
	return model.Victim{
		CharacterID:   v.CharacterID,
		CorporationID: v.CorporationID,
		AllianceID:    v.AllianceID,
		FactionID:     v.FactionID,
		ShipTypeID:    int32(v.ShipTypeID),
		DamageTaken:   v.DamageTaken,
		Position:      convertPosition(v.Position),
		Items:         convertItems(v.Items),
	}
}

func convertPosition(p *killmails.Position) *model.Position {
	if p == nil {
		return nil
	}
	return &model.Position{X: p.X, Y: p.Y, Z: p.Z}
}

func convertItems(items []killmails.Item) []model.Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]model.Item, len(items))
	for i, it := range items {
		out[i] = model.Item{
			ItemTypeID:        int32(it.ItemTypeID),
			Flag:              int32(it.Flag),
			Singleton:         it.Singleton != 0,
			QuantityDestroyed: it.QuantityDestroyed,
			QuantityDropped:   it.QuantityDropped,
			Items:             convertItems(it.Items),
		}
	}
	return out
}

func convertAttackers(attackers []killmails.Attacker) []model.Attacker {
	out := make([]model.Attacker, len(attackers))
	for i, a := range attackers {
		var shipTypeID *int32
		if a.ShipTypeID != nil {
			v := int32(*a.ShipTypeID)
			shipTypeID = &v
		}
		var weaponTypeID *int32
		if a.WeaponTypeID != nil {
			v := int32(*a.WeaponTypeID)
			weaponTypeID = &v
		}
		out[i] = model.Attacker{
			CharacterID:    a.CharacterID,
			CorporationID:  a.CorporationID,
			AllianceID:     a.AllianceID,
			FactionID:      a.FactionID,
			ShipTypeID:     shipTypeID,
			WeaponTypeID:   weaponTypeID,
			DamageDone:     a.DamageDone,
			FinalBlow:      a.FinalBlow,
			SecurityStatus: a.SecurityStatus,
		}
	}
	return out
}

// Outcome reports what a single Process call did with a killmail, for
// callers (the stream poller) that want to log
// or count it without re-deriving the classification.
type Outcome string

const (
	OutcomeStored  Outcome = "stored"
	OutcomeSkipped Outcome = "skipped_old"
	OutcomeDupe    Outcome = "duplicate"
)

// Process runs one raw payload through normalize -> validate ->
// cutoff -> dedup -> enrich -> store. A *kferrors.KillmailError with
// Kind KillTooOld is expected traffic: callers should count it as
// skipped, not log it as a failure.
func (p *Pipeline) Process(ctx context.Context, raw json.RawMessage) (model.Killmail, Outcome, error) {
	p.Metrics.Received.Add(1)

	km, err := p.normalize(ctx, raw)
	if err != nil {
		p.Metrics.Invalid.Add(1)
		return model.Killmail{}, "", err
	}

	if err := km.Validate(); err != nil {
		p.Metrics.Invalid.Add(1)
		return model.Killmail{}, "", err
	}

	if time.Since(km.KillTime) > p.maxAge {
		p.Metrics.SkippedOld.Add(1)
		return km, OutcomeSkipped, kferrors.NewKillmailError(kferrors.KillTooOld, fmt.Sprintf("%d", km.ID), "kill_time outside retention window")
	}

	if _, dup := p.cache.Get(ctx, cache.NamespaceKillmails, fmt.Sprintf("%d", km.ID)); dup {
		return km, OutcomeDupe, nil
	}

	result := p.enricher.EnrichBatch(ctx, []model.Killmail{km})
	p.enricher.Apply(&km, result)
	if len(result.Failed) > 0 {
		p.Metrics.EnrichmentFailed.Add(1)
		slog.Warn("killmail stored with partial enrichment",
			slog.Int64("killmail_id", km.ID), slog.Int("unresolved_ids", len(result.Failed)))
	}

	p.store.Insert(km)
	if err := p.cache.Set(ctx, cache.NamespaceKillmails, fmt.Sprintf("%d", km.ID), km, cache.DefaultTTL(cache.NamespaceKillmails)); err != nil {
		slog.Warn("failed to cache stored killmail", slog.Int64("killmail_id", km.ID), slog.String("error", err.Error()))
	}
	p.Metrics.Stored.Add(1)

	return km, OutcomeStored, nil
}

// ProcessBatch runs a slice of raw payloads through Process, sharing
// one enrichment batch across kills that reference the same ids —
// the teacher's batch-then-flush idiom from the zkillboard processor,
// adapted so enrichment (not storage) is the batched step.
func (p *Pipeline) ProcessBatch(ctx context.Context, raws []json.RawMessage) []model.Killmail {
	var parsed []model.Killmail
	var stored []model.Killmail

	for _, raw := range raws {
		p.Metrics.Received.Add(1)
		km, err := p.normalize(ctx, raw)
		if err != nil {
			p.Metrics.Invalid.Add(1)
			continue
		}
		if err := km.Validate(); err != nil {
			p.Metrics.Invalid.Add(1)
			continue
		}
		if time.Since(km.KillTime) > p.maxAge {
			p.Metrics.SkippedOld.Add(1)
			continue
		}
		if _, dup := p.cache.Get(ctx, cache.NamespaceKillmails, fmt.Sprintf("%d", km.ID)); dup {
			continue
		}
		parsed = append(parsed, km)
	}

	if len(parsed) == 0 {
		return nil
	}

	result := p.enricher.EnrichBatch(ctx, parsed)
	for i := range parsed {
		p.enricher.Apply(&parsed[i], result)
		if !parsed[i].EnrichmentComplete {
			p.Metrics.EnrichmentFailed.Add(1)
		}
		p.store.Insert(parsed[i])
		if err := p.cache.Set(ctx, cache.NamespaceKillmails, fmt.Sprintf("%d", parsed[i].ID), parsed[i], cache.DefaultTTL(cache.NamespaceKillmails)); err != nil {
			slog.Warn("failed to cache stored killmail", slog.Int64("killmail_id", parsed[i].ID), slog.String("error", err.Error()))
		}
		p.Metrics.Stored.Add(1)
		stored = append(stored, parsed[i])
	}

	return stored
}
