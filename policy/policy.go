// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package policy holds the persisted, offline-built provider-grammar capability cache consumed by
// capability.Resolver.GrammarFormatFor: which providers actually honor a grammar-constrained
// response_format, and which wire dialect they honor it in.
package policy

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/ridgeway-oss/cgen/grammar/dialect"
)

// schemaVersion is bumped whenever the persisted envelope's shape changes incompatibly.
const schemaVersion = 1

// envelope is the on-disk wrapper Save/Load read and write: a schema version and a generation
// timestamp alongside the policy payload itself, so a stale file can be told apart from a current one.
type envelope struct {
	SchemaVersion int                   `json:"schema_version"`
	GeneratedAt   time.Time             `json:"generated_at"`
	Providers     ProviderGrammarPolicy `json:"providers"`
}

// ProviderEntry is one provider's row in a ProviderGrammarPolicy.
type ProviderEntry struct {
	// SupportsGrammar is true if at least one probed model on this provider accepted a grammar
	// response_format and obeyed it.
	SupportsGrammar bool `json:"supports_grammar"`
	// RecommendedFormat is the dialect with the most accepts+obeys and fewest rejects observed for this
	// provider; empty means unknown (no successful probe yet).
	RecommendedFormat dialect.Kind `json:"recommended_format"`
	// Priority orders providers when more than one matches a routing token; lower sorts first.
	Priority int `json:"priority"`
	// Reason is a short human-readable note on how the entry was derived (e.g. probe counts).
	Reason string `json:"reason"`
}

// ProviderGrammarPolicy maps a lowercased provider-routing token to what's known about its grammar
// support.
type ProviderGrammarPolicy map[string]ProviderEntry

// Load decodes a ProviderGrammarPolicy from its persisted envelope. A schema_version other than the
// one this build knows about is still decoded best-effort; callers that need to reject stale files
// outright can compare against SchemaVersion themselves.
func Load(r io.Reader) (ProviderGrammarPolicy, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, err
	}
	return env.Providers, nil
}

// Save encodes p as an indented JSON envelope: schema_version, a generated_at timestamp, and the
// policy payload.
func Save(w io.Writer, p ProviderGrammarPolicy) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope{SchemaVersion: schemaVersion, GeneratedAt: time.Now().UTC(), Providers: p})
}

// SchemaVersion is the schema_version this build writes and expects.
const SchemaVersion = schemaVersion

// FormatFor returns the recommended grammar dialect for the given provider-routing token (matched by
// exact key or substring, same fuzzy rule the capability resolver uses for provider routing), and
// whether a usable recommendation exists at all.
func (p ProviderGrammarPolicy) FormatFor(providerToken string) (dialect.Kind, bool) {
	token := strings.ToLower(strings.TrimSpace(providerToken))
	if token == "" {
		return "", false
	}
	if entry, ok := p[token]; ok && entry.SupportsGrammar && entry.RecommendedFormat != "" {
		return entry.RecommendedFormat, true
	}
	for key, entry := range p {
		if !entry.SupportsGrammar || entry.RecommendedFormat == "" {
			continue
		}
		if strings.Contains(token, key) || strings.Contains(key, token) {
			return entry.RecommendedFormat, true
		}
	}
	return "", false
}
