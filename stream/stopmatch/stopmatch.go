// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stopmatch implements a client-side regular-expression stop matcher over a stream of text
// chunks, since a match may straddle a chunk boundary the provider delivers independently of the
// pattern's structure.
package stopmatch

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"unicode/utf8"
)

// Update is the outcome of feeding text (or finishing) into a Matcher.
type Update struct {
	// EmitText is the portion of the buffered text now safe to release to the caller.
	EmitText string
	// Matched is true once the stop pattern has matched.
	Matched bool
	// StopText is the exact substring that matched, set once Matched is true.
	StopText string
	// RewindCharacters is how many trailing characters of the fed-in stream the match consumed,
	// counted from the match's start; callers use it to roll back any state built past the match.
	RewindCharacters int
}

// Matcher finds the earliest, shortest match of a stop regex across chunks fed incrementally, and
// only ever releases text it can prove will not become part of a future match.
type Matcher struct {
	re            *regexp.Regexp
	raw           []byte
	emittedLen    int
	matched       bool
	stopText      string
	maxMatchWidth int // -1 means unbounded
}

// New compiles pattern and returns a Matcher. Returns an error if pattern does not compile.
func New(pattern string) (*Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid stop_regex pattern %q: %w", pattern, err)
	}
	return &Matcher{re: re, maxMatchWidth: computeMaxWidth(pattern)}, nil
}

// computeMaxWidth returns the maximum number of bytes a single match of pattern can span, or -1 if
// the pattern has no finite bound (e.g. it contains a star or an unbounded repeat). This is the
// byte-oriented analogue of Python's re._parser.parse(pattern).getwidth(); Go's regexp/syntax has no
// equivalent built in, so the grammar tree is walked directly.
func computeMaxWidth(pattern string) int {
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return -1
	}
	_, max, bounded := width(parsed.Simplify())
	if !bounded {
		return -1
	}
	return max
}

// width returns the minimum and maximum number of bytes re can match, and whether that maximum is
// finite.
func width(re *syntax.Regexp) (min, max int, bounded bool) {
	switch re.Op {
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary, syntax.OpNoMatch:
		return 0, 0, true
	case syntax.OpLiteral:
		n := 0
		for _, r := range re.Rune {
			n += utf8.RuneLen(r)
		}
		return n, n, true
	case syntax.OpCharClass:
		return charClassWidth(re.Rune)
	case syntax.OpAnyCharNotNL, syntax.OpAnyChar:
		return 1, utf8.UTFMax, true
	case syntax.OpCapture:
		return width(re.Sub[0])
	case syntax.OpStar, syntax.OpPlus:
		return 0, 0, false
	case syntax.OpQuest:
		_, childMax, childBounded := width(re.Sub[0])
		return 0, childMax, childBounded
	case syntax.OpRepeat:
		childMin, childMax, childBounded := width(re.Sub[0])
		if re.Max == -1 || !childBounded {
			return re.Min * childMin, 0, false
		}
		return re.Min * childMin, re.Max * childMax, true
	case syntax.OpConcat:
		allBounded := true
		for _, sub := range re.Sub {
			subMin, subMax, subBounded := width(sub)
			min += subMin
			max += subMax
			allBounded = allBounded && subBounded
		}
		return min, max, allBounded
	case syntax.OpAlternate:
		allBounded := true
		first := true
		for _, sub := range re.Sub {
			subMin, subMax, subBounded := width(sub)
			if first || subMin < min {
				min = subMin
			}
			if subMax > max {
				max = subMax
			}
			allBounded = allBounded && subBounded
			first = false
		}
		return min, max, allBounded
	default:
		return 0, 0, false
	}
}

// charClassWidth returns the byte-width bounds of matching a single rune drawn from the [lo,hi] range
// pairs in ranges.
func charClassWidth(ranges []rune) (min, max int, bounded bool) {
	if len(ranges) == 0 {
		return 0, 0, true
	}
	min = utf8.UTFMax
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		loLen, hiLen := utf8.RuneLen(lo), utf8.RuneLen(hi)
		if loLen < min {
			min = loLen
		}
		if hiLen > max {
			max = hiLen
		}
	}
	return min, max, true
}

// Feed appends text to the matcher's buffer and returns what is now safe to emit.
func (m *Matcher) Feed(text string) Update {
	if m.matched {
		return Update{Matched: true, StopText: m.stopText}
	}
	m.raw = append(m.raw, text...)
	if start, end, ok := m.earliestMatchBounds(); ok {
		emit := m.emitUntil(start)
		m.matched = true
		m.stopText = string(m.raw[start:end])
		return Update{
			EmitText:         emit,
			Matched:          true,
			StopText:         m.stopText,
			RewindCharacters: len(m.raw) - start,
		}
	}
	return Update{EmitText: m.emitUntil(m.safeEmitEnd())}
}

// Finish releases any text still held back because it was feared to be part of a future match.
func (m *Matcher) Finish() Update {
	if m.matched {
		return Update{Matched: true, StopText: m.stopText}
	}
	return Update{EmitText: m.emitUntil(len(m.raw))}
}

// EmittedText returns everything released to the caller so far.
func (m *Matcher) EmittedText() string { return string(m.raw[:m.emittedLen]) }

// Matched reports whether the stop pattern has matched.
func (m *Matcher) Matched() bool { return m.matched }

// StopText returns the matched substring, or "" if not yet matched.
func (m *Matcher) StopText() string { return m.stopText }

func (m *Matcher) earliestMatchBounds() (start, end int, ok bool) {
	loc := m.re.FindIndex(m.raw)
	if loc == nil {
		return 0, 0, false
	}
	start = loc[0]
	// Tie-break same-start alternatives by the shortest full match, rather than trusting the engine's
	// own (possibly greedy) choice of end, so a stop pattern never swallows more text than it must.
	for e := start; e <= len(m.raw); e++ {
		if sub := m.re.FindIndex(m.raw[start:e]); sub != nil && sub[0] == 0 && sub[1] == e-start {
			return start, e, true
		}
	}
	return start, loc[1], true
}

func (m *Matcher) safeEmitEnd() int {
	if m.maxMatchWidth < 0 {
		return 0
	}
	if m.maxMatchWidth <= 1 {
		return len(m.raw)
	}
	end := len(m.raw) - m.maxMatchWidth + 1
	if end < 0 {
		return 0
	}
	return end
}

func (m *Matcher) emitUntil(end int) string {
	if end < m.emittedLen {
		end = m.emittedLen
	}
	if end > len(m.raw) {
		end = len(m.raw)
	}
	out := string(m.raw[m.emittedLen:end])
	m.emittedLen = end
	return out
}
