// Package shiptypes loads the EVE Online ship type_id -> name mapping
// once at boot and warms the killfeed cache with it, trimmed from the
// teacher's pkg/sde Service down to the single lookup this system
// needs: no category/blueprint/market-group graph, just names.
package shiptypes

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
)

// Loader reads a CSV of type_id,name rows (the published-ships subset
// of the EVE static data export) once and warms the ship_types cache
// namespace, the way the teacher's SDE Service loads every dataset
// once under a mutex and serves everything from memory afterward.
type Loader struct {
	cache *cache.Cache

	loadMu sync.Mutex
	loaded bool
	count  int
}

// New creates a Loader bound to the shared cache.
func New(c *cache.Cache) *Loader {
	return &Loader{cache: c}
}

// LoadCSV parses rows shaped "type_id,name" (a header row, if present,
// is skipped automatically since its first column won't parse as an
// integer) and caches each under NamespaceShipTypes with the
// namespace's standard 24h TTL.
func (l *Loader) LoadCSV(ctx context.Context, r io.Reader) error {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	if l.loaded {
		return nil
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	ttl := cache.DefaultTTL(cache.NamespaceShipTypes)
	count := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading ship type csv: %w", err)
		}

		typeID, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			continue // header row or malformed line, skip rather than fail the whole load
		}
		name := record[1]

		if err := l.cache.Set(ctx, cache.NamespaceShipTypes, strconv.FormatInt(typeID, 10), name, ttl); err != nil {
			slog.Warn("failed to cache ship type during bulk load", slog.Int64("type_id", typeID), slog.String("error", err.Error()))
			continue
		}
		count++
	}

	l.loaded = true
	l.count = count
	slog.Info("ship type reference data loaded", slog.Int("count", count))
	return nil
}

// Loaded reports whether LoadCSV has completed successfully.
func (l *Loader) Loaded() bool {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	return l.loaded
}

// Count returns how many ship types were loaded.
func (l *Loader) Count() int {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	return l.count
}
