// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package grammar

import (
	"regexp"
	"strings"
)

// MatchResult is the outcome of successfully matching a grammar against text.
type MatchResult struct {
	// Captures maps a rule's capture name to either a string (single match) or a []string (the rule is
	// marked ListAppend and matched more than zero times).
	Captures map[string]any
}

// maxMatchDepth bounds the matcher's recursion so a pathologically self-referential grammar (a rule that
// references itself with no literal progress) fails closed instead of exhausting the goroutine stack.
const maxMatchDepth = 10000

// Match re-validates text against root, failing closed (ok=false) if text does not conform.
//
// enforceMaxTokens additionally rejects a rule whose captured text looks longer, by a crude
// whitespace-split estimate, than the rule's MaxTokens. Provider-side tokenization is provider-specific,
// so this bound is never enforced by the streaming pipeline (which always calls with false); it exists
// for offline tooling that wants a stricter local check.
func Match(root Node, text string, enforceMaxTokens bool) (*MatchResult, bool) {
	m := &matcher{text: text, enforceMaxTokens: enforceMaxTokens}
	ok := m.match(root, 0, 0, func(pos int) bool { return pos == len(text) })
	if !ok {
		return nil, false
	}
	kinds := map[string]bool{}
	collectCaptureKinds(root, map[*Rule]bool{}, kinds)
	captures := map[string]any{}
	for name, isList := range kinds {
		var values []string
		for _, e := range m.log {
			if e.name == name {
				values = append(values, e.value)
			}
		}
		if isList {
			captures[name] = values
		} else if len(values) > 0 {
			captures[name] = values[len(values)-1]
		}
	}
	return &MatchResult{Captures: captures}, true
}

type captureEntry struct {
	name  string
	value string
}

type matcher struct {
	text             string
	enforceMaxTokens bool
	log              []captureEntry
}

func (m *matcher) mark() int { return len(m.log) }

func (m *matcher) rewind(mark int) { m.log = m.log[:mark] }

func (m *matcher) match(n Node, pos, depth int, k func(int) bool) bool {
	if depth > maxMatchDepth {
		return false
	}
	depth++
	switch v := n.(type) {
	case Literal:
		if strings.HasPrefix(m.text[pos:], v.Value) {
			return k(pos + len(v.Value))
		}
		return false
	case Regex:
		if v.Pattern == nil {
			// Unconstrained: try the longest remaining text first, backing off.
			for end := len(m.text); end >= pos; end-- {
				if k(end) {
					return true
				}
			}
			return false
		}
		re, err := regexp.Compile(`\A(?:` + *v.Pattern + `)`)
		if err != nil {
			return false
		}
		loc := re.FindStringIndex(m.text[pos:])
		if loc == nil {
			return false
		}
		return k(pos + loc[1])
	case Join:
		return m.matchJoin(v.Children, 0, pos, depth, k)
	case Select:
		for _, alt := range v.Alternatives {
			mk := m.mark()
			if m.match(alt, pos, depth, k) {
				return true
			}
			m.rewind(mk)
		}
		return false
	case Repeat:
		return m.matchRepeat(v, 0, pos, depth, k)
	case RuleRef:
		return m.match(v.Target, pos, depth, k)
	case *Rule:
		return m.match(v.Value, pos, depth, func(end int) bool {
			if v.Capture != nil {
				mk := m.mark()
				m.log = append(m.log, captureEntry{name: *v.Capture, value: m.text[pos:end]})
				if k(end) {
					return true
				}
				m.rewind(mk)
				return false
			}
			return k(end)
		})
	default:
		return false
	}
}

func (m *matcher) matchJoin(children []Node, idx, pos, depth int, k func(int) bool) bool {
	if idx == len(children) {
		return k(pos)
	}
	return m.match(children[idx], pos, depth, func(next int) bool {
		return m.matchJoin(children, idx+1, next, depth, k)
	})
}

func (m *matcher) matchRepeat(r Repeat, count, pos, depth int, k func(int) bool) bool {
	if r.Max == nil || count < *r.Max {
		if m.match(r.Child, pos, depth, func(next int) bool {
			if next == pos && count >= r.Min {
				// No progress and the minimum is already satisfied: stop instead of looping forever.
				return false
			}
			return m.matchRepeat(r, count+1, next, depth, k)
		}) {
			return true
		}
	}
	if count >= r.Min {
		return k(pos)
	}
	return false
}

func collectCaptureKinds(n Node, visited map[*Rule]bool, kinds map[string]bool) {
	switch v := n.(type) {
	case Join:
		for _, c := range v.Children {
			collectCaptureKinds(c, visited, kinds)
		}
	case Select:
		for _, c := range v.Alternatives {
			collectCaptureKinds(c, visited, kinds)
		}
	case Repeat:
		collectCaptureKinds(v.Child, visited, kinds)
	case RuleRef:
		collectCaptureKinds(v.Target, visited, kinds)
	case *Rule:
		if v == nil || visited[v] {
			return
		}
		visited[v] = true
		if v.Capture != nil {
			if _, ok := kinds[*v.Capture]; !ok {
				kinds[*v.Capture] = v.ListAppend
			} else if v.ListAppend {
				kinds[*v.Capture] = true
			}
		}
		collectCaptureKinds(v.Value, visited, kinds)
	}
}
