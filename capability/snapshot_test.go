// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package capability

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestSaveLoadCatalogSnapshotRoundTrip(t *testing.T) {
	catalogs := map[string]Catalog{
		DefaultAPIBase: {"a/b": ModelMetadata{ID: "a/b", SupportedParameters: []string{"temperature"}}},
	}
	var buf bytes.Buffer
	if err := SaveCatalogSnapshot(&buf, catalogs); err != nil {
		t.Fatal(err)
	}
	got, err := LoadCatalogSnapshot(&buf)
	if err != nil {
		t.Fatal(err)
	}
	meta, ok := got[DefaultAPIBase]["a/b"]
	if !ok || meta.ID != "a/b" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolver_SeedPopulatesModelsCache(t *testing.T) {
	r := NewResolver(nil)
	catalogs := map[string]Catalog{
		DefaultAPIBase: {"a/b": ModelMetadata{ID: "a/b", SupportedParameters: []string{"temperature"}}},
	}
	r.Seed(DefaultAPIBase, "", catalogs, time.Hour)

	meta, err := r.ResolveModelMetadata(context.Background(), "a/b", DefaultAPIBase, "")
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil || meta.ID != "a/b" {
		t.Fatalf("expected seeded metadata to be returned without a network call, got %+v", meta)
	}
}
