// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package lark serializes a grammar node tree into a Lark-subset grammar, the dialect understood by
// OpenAI's Responses API custom-tool "lark" grammar format.
package lark

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
)

// maxRepeatAlternationWidth bounds how wide a {min,max} repeat may be before it is rejected: emitting
// it as an alternation of fixed-width copies would otherwise blow up the grammar text.
const maxRepeatAlternationWidth = 32

// Serialize lowers root into Lark-subset grammar text with an explicit "start" rule.
func Serialize(root grammar.Node) (string, error) {
	s := &serializer{alloc: dialect.NewNameAllocator("rule"), ruleNames: map[*grammar.Rule]string{}, bodies: map[string]string{}}

	if r, ok := root.(*grammar.Rule); ok && dialect.NormalizeRuleName(r.Name, "rule") == "start" {
		if _, err := s.visitRuleRef(r); err != nil {
			return "", err
		}
	} else {
		s.alloc.Allocate("start") // reserve the symbol so no nested rule can collide with it
		body, err := s.visitExpr(root, false)
		if err != nil {
			return "", err
		}
		s.bodies["start"] = body
		s.order = append([]string{"start"}, s.order...)
	}

	var sb strings.Builder
	for _, name := range s.order {
		fmt.Fprintf(&sb, "%s: %s\n", name, s.bodies[name])
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
		return "", &dialect.UnsupportedFeatureError{Dialect: dialect.Lark, Feature: "rule generation controls", Detail: "temperature/max_tokens/stop/suffix/lazy are not expressible in a Lark grammar"}
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

// visitExpr returns the Lark-source text for n. parens requests wrapping the result in parentheses if
// it is not already atomic, needed when an alternation is nested inside a sequence or repeat.
func (s *serializer) visitExpr(n grammar.Node, parens bool) (string, error) {
	switch v := n.(type) {
	case grammar.Literal:
		return jsonString(v.Value), nil
	case grammar.Regex:
		if v.Pattern == nil {
			return "", &dialect.UnsupportedFeatureError{Dialect: dialect.Lark, Feature: "unconstrained generation"}
		}
		return "/" + escapeSlashes(*v.Pattern) + "/", nil
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
		return "", &dialect.UnsupportedFeatureError{Dialect: dialect.Lark, Feature: grammar.String(n)}
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
		return repeatEBNF(child, r.Min, r.Min) + " " + child + "*", nil
	case r.Min == *r.Max:
		return repeatEBNF(child, r.Min, r.Min), nil
	default:
		if *r.Max-r.Min > maxRepeatAlternationWidth {
			return "", &dialect.UnsupportedFeatureError{Dialect: dialect.Lark, Feature: "bounded repeat", Detail: fmt.Sprintf("width %d exceeds the %d-copy alternation limit", *r.Max-r.Min, maxRepeatAlternationWidth)}
		}
		alts := make([]string, 0, *r.Max-r.Min+1)
		for n := r.Min; n <= *r.Max; n++ {
			alts = append(alts, repeatEBNF(child, n, n))
		}
		return "(" + strings.Join(alts, " | ") + ")", nil
	}
}

// repeatEBNF returns n copies of child separated by spaces (min and max are always equal here; the
// parameter pair mirrors the GBNF serializer's shared shape).
func repeatEBNF(child string, min, max int) string {
	if min == 0 {
		return `""`
	}
	copies := make([]string, min)
	for i := range copies {
		copies[i] = child
	}
	return strings.Join(copies, " ")
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func escapeSlashes(pattern string) string {
	r := strings.NewReplacer("/", "\\/", "\n", "\\n")
	return r.Replace(pattern)
}
