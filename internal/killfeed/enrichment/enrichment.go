// Package enrichment resolves the character, corporation, alliance,
// and ship-type ids on a killmail into display names, batched and
// cached so the pipeline never makes one ESI call per id per kill.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/pkg/evegateway"
)

// RetryConfig controls the backoff applied to a single id lookup.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
}

// DefaultRetryConfig matches spec.md §4.3: base 1s, factor 2, 3
// attempts, adapted from pkg/evegateway/retry.go's DefaultRetryClient
// backoff shape.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second, Factor: 2}
}

// Fetcher resolves entity ids to names with bounded concurrency,
// within-batch dedup, and cache-backed short-circuiting.
type Fetcher struct {
	client *evegateway.Client
	cache  *cache.Cache
	sem    chan struct{}
	retry  RetryConfig
}

// New creates a Fetcher. maxConcurrency bounds how many ESI lookups
// run at once across an enrich_batch call.
func New(client *evegateway.Client, c *cache.Cache, maxConcurrency int) *Fetcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Fetcher{
		client: client,
		cache:  c,
		sem:    make(chan struct{}, maxConcurrency),
		retry:  DefaultRetryConfig(),
	}
}

type lookupKind string

const (
	kindCharacter   lookupKind = "character"
	kindCorporation lookupKind = "corporation"
	kindAlliance    lookupKind = "alliance"
	kindShipType    lookupKind = "ship_type"
)

func namespaceFor(kind lookupKind) cache.Namespace {
	switch kind {
	case kindCharacter:
		return cache.NamespaceCharacters
	case kindCorporation:
		return cache.NamespaceCorporations
	case kindAlliance:
		return cache.NamespaceAlliances
	default:
		return cache.NamespaceShipTypes
	}
}

// resolveOne fetches a single id's name, trying the cache first, then
// ESI with retry/backoff, caching a 404 as a short-TTL absence marker
// so a dead id isn't re-queried every batch.
func (f *Fetcher) resolveOne(ctx context.Context, kind lookupKind, id int64) (string, error) {
	ns := namespaceFor(kind)
	key := fmt.Sprintf("%d", id)

	const absentTTL = 5 * time.Minute
	v, err := f.cache.GetOrCompute(ctx, ns, key, cache.DefaultTTL(ns), func(ctx context.Context) (any, error) {
		name, ferr := f.fetchWithRetry(ctx, kind, id)
		var notFound *kferrors.NotFoundError
		if errors.As(ferr, &notFound) {
			_ = f.cache.Set(ctx, ns, key, false, absentTTL)
		}
		return name, ferr
	})
	if err != nil {
		var notFound *kferrors.NotFoundError
		if errors.As(err, &notFound) {
			return "", err
		}
		return "", kferrors.NewKillmailError(kferrors.KillEnrichmentFailed, key, err.Error())
	}

	if absent, ok := v.(bool); ok && !absent {
		return "", kferrors.NewNotFoundError(string(kind), key)
	}
	name, ok := v.(string)
	if !ok {
		return "", kferrors.NewCacheError(string(ns), "cached value has unexpected type")
	}
	return name, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, kind lookupKind, id int64) (string, error) {
	delay := f.retry.BaseDelay
	var lastErr error

	for attempt := 0; attempt < f.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * f.retry.Factor)
		}

		name, err := f.fetchOnce(ctx, kind, id)
		if err == nil {
			return name, nil
		}

		var notFound *kferrors.NotFoundError
		if errors.As(err, &notFound) {
			return "", err
		}

		var rateLimit *kferrors.RateLimitError
		if errors.As(err, &rateLimit) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(rateLimit.RetryAfter):
			}
			lastErr = err
			continue
		}

		lastErr = err
	}

	return "", lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, kind lookupKind, id int64) (string, error) {
	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var name string
	var err error

	switch kind {
	case kindCharacter:
		info, e := f.client.Character.GetCharacterInfo(ctx, int(id))
		if e == nil {
			name, err = info.Name, nil
		} else {
			err = e
		}
	case kindCorporation:
		info, e := f.client.Corporation.GetCorporationInfo(ctx, int(id))
		if e == nil {
			name, err = info.Name, nil
		} else {
			err = e
		}
	case kindAlliance:
		info, e := f.client.Alliance.GetAllianceInfo(ctx, id)
		if e == nil {
			name, err = info.Name, nil
		} else {
			err = e
		}
	case kindShipType:
		info, e := f.client.Universe.GetTypeInfo(ctx, int(id))
		if e == nil {
			name, err = info.Name, nil
		} else {
			err = e
		}
	}

	if err != nil {
		return "", classifyESIError(err)
	}
	return name, nil
}

// classifyESIError maps the gateway's ad-hoc fmt.Errorf failures into
// the typed taxonomy enrichment callers dispatch on.
func classifyESIError(err error) error {
	msg := err.Error()
	switch {
	case contains(msg, "404"), contains(msg, "not found"):
		return kferrors.NewNotFoundError("entity", msg)
	case contains(msg, fmt.Sprintf("%d", http.StatusTooManyRequests)):
		return kferrors.NewRateLimitError(time.Second)
	default:
		return kferrors.NewTransportError("esi_lookup", err)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// resolvedKey identifies a resolved name by both its entity kind and
// its id: a character and an alliance can share the same numeric id,
// and Resolved must not let one overwrite or stand in for the other.
type resolvedKey struct {
	kind lookupKind
	id   int64
}

// EnrichResult reports a batch's outcome per-id so callers can decide
// whether a partial enrichment is still deliverable.
type EnrichResult struct {
	Resolved map[resolvedKey]string
	Failed   map[int64]error
}

// EnrichBatch resolves every distinct id referenced by kills, with
// within-batch dedup via a single id-set collected once up front, and
// delivers results keyed by id regardless of which kill referenced it.
func (f *Fetcher) EnrichBatch(ctx context.Context, kills []model.Killmail) *EnrichResult {
	characterIDs := map[int64]struct{}{}
	corporationIDs := map[int64]struct{}{}
	allianceIDs := map[int64]struct{}{}
	shipTypeIDs := map[int64]struct{}{}

	collectIDs(kills, characterIDs, corporationIDs, allianceIDs, shipTypeIDs)

	result := &EnrichResult{
		Resolved: make(map[resolvedKey]string),
		Failed:   make(map[int64]error),
	}

	type job struct {
		kind lookupKind
		id   int64
	}
	var jobs []job
	for id := range characterIDs {
		jobs = append(jobs, job{kindCharacter, id})
	}
	for id := range corporationIDs {
		jobs = append(jobs, job{kindCorporation, id})
	}
	for id := range allianceIDs {
		jobs = append(jobs, job{kindAlliance, id})
	}
	for id := range shipTypeIDs {
		jobs = append(jobs, job{kindShipType, id})
	}

	type outcome struct {
		job  job
		name string
		err  error
	}
	outcomes := make(chan outcome, len(jobs))

	for _, j := range jobs {
		go func(j job) {
			name, err := f.resolveOne(ctx, j.kind, j.id)
			outcomes <- outcome{job: j, name: name, err: err}
		}(j)
	}

	for range jobs {
		o := <-outcomes
		if o.err != nil {
			result.Failed[o.job.id] = o.err
			continue
		}
		result.Resolved[resolvedKey{kind: o.job.kind, id: o.job.id}] = o.name
	}

	return result
}

// Apply fills in the *Name fields on a killmail from a resolved
// batch's results, leaving unresolved ids nil rather than failing the
// whole killmail — a partially enriched kill is still deliverable.
func (f *Fetcher) Apply(km *model.Killmail, r *EnrichResult) {
	applyVictim(&km.Victim, r)
	for i := range km.Attackers {
		applyAttacker(&km.Attackers[i], r)
	}
	km.EnrichmentComplete = len(r.Failed) == 0
}

func applyVictim(v *model.Victim, r *EnrichResult) {
	if v.CharacterID != nil {
		if name, ok := r.Resolved[resolvedKey{kindCharacter, *v.CharacterID}]; ok {
			v.CharacterName = &name
		}
	}
	if v.CorporationID != nil {
		if name, ok := r.Resolved[resolvedKey{kindCorporation, *v.CorporationID}]; ok {
			v.CorporationName = &name
		}
	}
	if v.AllianceID != nil {
		if name, ok := r.Resolved[resolvedKey{kindAlliance, *v.AllianceID}]; ok {
			v.AllianceName = &name
		}
	}
	if name, ok := r.Resolved[resolvedKey{kindShipType, int64(v.ShipTypeID)}]; ok {
		v.ShipTypeName = &name
	}
}

func applyAttacker(a *model.Attacker, r *EnrichResult) {
	if a.CharacterID != nil {
		if name, ok := r.Resolved[resolvedKey{kindCharacter, *a.CharacterID}]; ok {
			a.CharacterName = &name
		}
	}
	if a.CorporationID != nil {
		if name, ok := r.Resolved[resolvedKey{kindCorporation, *a.CorporationID}]; ok {
			a.CorporationName = &name
		}
	}
	if a.AllianceID != nil {
		if name, ok := r.Resolved[resolvedKey{kindAlliance, *a.AllianceID}]; ok {
			a.AllianceName = &name
		}
	}
	if a.ShipTypeID != nil {
		if name, ok := r.Resolved[resolvedKey{kindShipType, int64(*a.ShipTypeID)}]; ok {
			a.ShipTypeName = &name
		}
	}
}

func collectIDs(kills []model.Killmail, characterIDs, corporationIDs, allianceIDs, shipTypeIDs map[int64]struct{}) {
	addVictim := func(v model.Victim) {
		if v.CharacterID != nil {
			characterIDs[*v.CharacterID] = struct{}{}
		}
		if v.CorporationID != nil {
			corporationIDs[*v.CorporationID] = struct{}{}
		}
		if v.AllianceID != nil {
			allianceIDs[*v.AllianceID] = struct{}{}
		}
		if v.ShipTypeID > 0 {
			shipTypeIDs[int64(v.ShipTypeID)] = struct{}{}
		}
	}
	addAttacker := func(a model.Attacker) {
		if a.CharacterID != nil {
			characterIDs[*a.CharacterID] = struct{}{}
		}
		if a.CorporationID != nil {
			corporationIDs[*a.CorporationID] = struct{}{}
		}
		if a.AllianceID != nil {
			allianceIDs[*a.AllianceID] = struct{}{}
		}
		if a.ShipTypeID != nil {
			shipTypeIDs[int64(*a.ShipTypeID)] = struct{}{}
		}
	}

	for _, k := range kills {
		addVictim(k.Victim)
		for _, a := range k.Attackers {
			addAttacker(a)
		}
	}
}
