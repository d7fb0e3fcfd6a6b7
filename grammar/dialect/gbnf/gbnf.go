// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gbnf serializes a grammar node tree into a GBNF-subset grammar, the dialect understood by
// llama.cpp-family servers (and surfaced by Fireworks as a "grammar" response_format).
package gbnf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
	"github.com/ridgeway-oss/cgen/grammar/dialect/gbnf/regexcompile"
)

const maxRepeatAlternationWidth = regexcompile.MaxRepeatWidth

// Serialize lowers root into GBNF text with an explicit "root" rule.
func Serialize(root grammar.Node) (string, error) {
	s := &serializer{alloc: dialect.NewNameAllocator("root"), ruleNames: map[*grammar.Rule]string{}, bodies: map[string]string{}}

	if r, ok := root.(*grammar.Rule); ok && dialect.NormalizeRuleName(r.Name, "root") == "root" {
		if _, err := s.visitRuleRef(r); err != nil {
			return "", err
		}
	} else {
		body, err := s.visitExpr(root, false)
		if err != nil {
			return "", err
		}
		s.alloc.Allocate("root")
		s.bodies["root"] = body
		s.order = append([]string{"root"}, s.order...)
	}

	var sb strings.Builder
	for _, name := range s.order {
		fmt.Fprintf(&sb, "%s ::= %s\n", name, s.bodies[name])
	}
	return sb.String(), nil
}

type serializer struct {
	alloc     *dialect.NameAllocator
	ruleNames map[*grammar.Rule]string
	bodies    map[string]string
	order     []string
}

func (s *serializer) visitRuleRef(r *grammar.Rule) (string, error) {
	if name, ok := s.ruleNames[r]; ok {
		return name, nil
	}
	if r.Temperature != nil || r.MaxTokens != nil || r.Stop != nil || r.StopCapture != nil || r.Suffix != nil || r.Lazy {
		return "", &dialect.UnsupportedFeatureError{Dialect: dialect.GBNF, Feature: "rule generation controls", Detail: "temperature/max_tokens/stop/suffix/lazy are not expressible in GBNF"}
	}
	name := s.alloc.Allocate(r.Name)
	s.ruleNames[r] = name
	s.order = append(s.order, name)
	body, err := s.visitExpr(r.Value, false)
	if err != nil {
		return "", err
	}
	s.bodies[name] = body
	return name, nil
}

func (s *serializer) visitExpr(n grammar.Node, parens bool) (string, error) {
	switch v := n.(type) {
	case grammar.Literal:
		return jsonString(v.Value), nil
	case grammar.Regex:
		if v.Pattern == nil {
			return "", &dialect.UnsupportedFeatureError{Dialect: dialect.GBNF, Feature: "unconstrained generation"}
		}
		expr, err := regexcompile.Compile(*v.Pattern)
		if err != nil {
			return "", &dialect.UnsupportedFeatureError{Dialect: dialect.GBNF, Feature: "regex", Detail: err.Error()}
		}
		return expr, nil
	case grammar.Join:
		if len(v.Children) == 0 {
			return `""`, nil
		}
		parts := make([]string, 0, len(v.Children))
		for _, c := range v.Children {
			part, err := s.visitExpr(c, true)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		out := strings.Join(parts, " ")
		if parens && len(v.Children) > 1 {
			return "(" + out + ")", nil
		}
		return out, nil
	case grammar.Select:
		parts := make([]string, 0, len(v.Alternatives))
		for _, alt := range v.Alternatives {
			part, err := s.visitExpr(alt, false)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		out := strings.Join(parts, " | ")
		if parens {
			return "(" + out + ")", nil
		}
		return out, nil
	case grammar.Repeat:
		return s.visitRepeat(v)
	case grammar.RuleRef:
		return s.visitRuleRef(v.Target)
	case *grammar.Rule:
		return s.visitRuleRef(v)
	default:
		return "", &dialect.UnsupportedFeatureError{Dialect: dialect.GBNF, Feature: grammar.String(n)}
	}
}

func (s *serializer) visitRepeat(r grammar.Repeat) (string, error) {
	child, err := s.visitExpr(r.Child, true)
	if err != nil {
		return "", err
	}
	switch {
	case r.Max == nil && r.Min == 0:
		return child + "*", nil
	case r.Max == nil && r.Min == 1:
		return child + "+", nil
	case r.Max != nil && r.Min == 0 && *r.Max == 1:
		return child + "?", nil
	case r.Max == nil:
		return copies(child, r.Min) + " " + child + "*", nil
	case r.Min == *r.Max:
		return copies(child, r.Min), nil
	default:
		if *r.Max-r.Min > maxRepeatAlternationWidth {
			return "", &dialect.UnsupportedFeatureError{Dialect: dialect.GBNF, Feature: "bounded repeat", Detail: fmt.Sprintf("width %d exceeds the %d-copy alternation limit", *r.Max-r.Min, maxRepeatAlternationWidth)}
		}
		alts := make([]string, 0, *r.Max-r.Min+1)
		for n := r.Min; n <= *r.Max; n++ {
			alts = append(alts, copies(child, n))
		}
		return "(" + strings.Join(alts, " | ") + ")", nil
	}
}

func copies(child string, n int) string {
	if n == 0 {
		return `""`
	}
	out := make([]string, n)
	for i := range out {
		out[i] = child
	}
	return strings.Join(out, " ")
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
