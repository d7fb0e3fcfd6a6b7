// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regexfragment serializes a grammar node into a bare regular-expression fragment, the
// narrowest of the three wire dialects: it only accepts a Regex leaf, or a Select whose every
// alternative is a Literal.
package regexfragment

import (
	"regexp"
	"strings"

	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
)

// Serialize lowers root to a regex fragment string, or returns an *dialect.UnsupportedFeatureError.
func Serialize(root grammar.Node) (string, error) {
	switch v := root.(type) {
	case grammar.Regex:
		if v.Pattern == nil {
			return "", &dialect.UnsupportedFeatureError{Dialect: dialect.RegexFragment, Feature: "unconstrained generation"}
		}
		return *v.Pattern, nil
	case grammar.Select:
		parts := make([]string, 0, len(v.Alternatives))
		for _, alt := range v.Alternatives {
			lit, ok := alt.(grammar.Literal)
			if !ok {
				return "", &dialect.UnsupportedFeatureError{Dialect: dialect.RegexFragment, Feature: "select alternative", Detail: grammar.String(alt) + " is not a literal"}
			}
			parts = append(parts, escape(lit.Value))
		}
		return "(?:" + strings.Join(parts, "|") + ")", nil
	default:
		return "", &dialect.UnsupportedFeatureError{Dialect: dialect.RegexFragment, Feature: grammar.String(root)}
	}
}

func escape(s string) string {
	return regexp.QuoteMeta(s)
}
