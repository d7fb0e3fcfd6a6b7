// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dialect defines the shared error type and the set of wire dialects a grammar can be
// serialized to. The concrete serializers live in the regexfragment, lark, and gbnf subpackages.
package dialect

import "fmt"

// Kind identifies a wire dialect a grammar can be translated into.
type Kind string

const (
	RegexFragment Kind = "regex"
	Lark          Kind = "lark"
	GBNF          Kind = "gbnf"
)

// UnsupportedFeatureError is returned synchronously, before any HTTP call, when a grammar node cannot
// be represented in the target dialect.
type UnsupportedFeatureError struct {
	Dialect Kind
	Feature string
	Detail  string
}

func (e *UnsupportedFeatureError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s dialect does not support %s", e.Dialect, e.Feature)
	}
	return fmt.Sprintf("%s dialect does not support %s: %s", e.Dialect, e.Feature, e.Detail)
}

// NormalizeRuleName normalizes name into a dialect-safe bare identifier, falling back to defaultName
// when name is empty after normalization.
func NormalizeRuleName(name, defaultName string) string {
	if name == "" {
		return defaultName
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
		default:
			out = append(out, '_')
		}
	}
	normalized := string(out)
	if normalized == "" {
		return defaultName
	}
	if normalized[0] >= '0' && normalized[0] <= '9' {
		normalized = "rule_" + normalized
	}
	return normalized
}

// NameAllocator hands out unique, normalized rule names, suffixing collisions with "_<n>" starting at 2.
type NameAllocator struct {
	defaultName string
	used        map[string]bool
}

// NewNameAllocator returns an allocator that falls back to defaultName for anonymous rules.
func NewNameAllocator(defaultName string) *NameAllocator {
	return &NameAllocator{defaultName: defaultName, used: map[string]bool{}}
}

// Allocate returns a unique name derived from name, registering it so later calls never repeat it.
func (a *NameAllocator) Allocate(name string) string {
	base := NormalizeRuleName(name, a.defaultName)
	candidate := base
	for n := 2; a.used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
	a.used[candidate] = true
	return candidate
}
