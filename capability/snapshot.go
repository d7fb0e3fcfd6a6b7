// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package capability

import (
	"encoding/json"
	"io"
	"strings"
	"time"
)

// snapshotSchemaVersion is bumped whenever CatalogSnapshot's on-disk shape changes incompatibly.
const snapshotSchemaVersion = 1

// CatalogSnapshotSchemaVersion is the schema_version SaveCatalogSnapshot writes.
const CatalogSnapshotSchemaVersion = snapshotSchemaVersion

// catalogSnapshotEnvelope is the on-disk form of a discovered-capability cache: a schema version and a
// generation timestamp alongside the per-API-base model catalog, mirroring the policy package's own
// envelope for the provider-grammar policy file.
type catalogSnapshotEnvelope struct {
	SchemaVersion int                `json:"schema_version"`
	GeneratedAt   time.Time          `json:"generated_at"`
	Catalogs      map[string]Catalog `json:"catalogs"`
}

// SaveCatalogSnapshot persists catalogs (keyed by normalized API base) as an offline snapshot a future
// process can seed a Resolver's cache from, via cmd/policy-builder.
func SaveCatalogSnapshot(w io.Writer, catalogs map[string]Catalog) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(catalogSnapshotEnvelope{
		SchemaVersion: snapshotSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Catalogs:      catalogs,
	})
}

// LoadCatalogSnapshot decodes a snapshot written by SaveCatalogSnapshot.
func LoadCatalogSnapshot(r io.Reader) (map[string]Catalog, error) {
	var env catalogSnapshotEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, err
	}
	return env.Catalogs, nil
}

// Seed installs catalogs into the resolver's cache under ttl, so a freshly constructed Resolver can
// start from a previously discovered snapshot instead of an empty cache. apiKey must match the key the
// snapshot was captured with, since the cache is keyed by (base, apiKey).
func (r *Resolver) Seed(apiBase, apiKey string, catalogs map[string]Catalog, ttl time.Duration) {
	base := NormalizeAPIBase(apiBase)
	key := cacheKey{base, strings.TrimSpace(apiKey)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.modelsCache == nil {
		r.modelsCache = map[cacheKey]modelsCacheEntry{}
	}
	r.modelsCache[key] = modelsCacheEntry{expires: timeNow().Add(ttl), catalog: catalogs[base]}
}
