// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package logprob accumulates per-token log-probabilities from a stream and answers, after the fact,
// what the log-probability of an arbitrary captured substring was.
package logprob

import "strings"

// Accumulator accumulates token-level log-probabilities and computes the log-probability of any
// prefix-aligned substring of the text it has seen.
type Accumulator struct {
	segments []segment
}

type segment struct {
	text    string
	logprob *float64
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Add records one token's text and its log-probability. A nil logprob means the provider did not
// report one for this token; any capture spanning it will report an unknown (nil) log-probability.
func (a *Accumulator) Add(tokenText string, lp *float64) {
	if tokenText == "" {
		return
	}
	a.segments = append(a.segments, segment{text: tokenText, logprob: lp})
}

// LogprobForText sums the log-probabilities of the token segments that exactly cover text, in order,
// starting from the beginning of the accumulated stream. It returns (0, true) for the empty string,
// and (0, false) if text does not align exactly with a prefix run of recorded token boundaries or any
// covering segment lacks a log-probability.
func (a *Accumulator) LogprobForText(text string) (float64, bool) {
	if text == "" {
		return 0, true
	}
	if len(a.segments) == 0 {
		return 0, false
	}
	cursor := 0
	var total float64
	for _, seg := range a.segments {
		if cursor >= len(text) {
			break
		}
		if !strings.HasPrefix(text[cursor:], seg.text) {
			return 0, false
		}
		cursor += len(seg.text)
		if seg.logprob == nil {
			return 0, false
		}
		total += *seg.logprob
	}
	if cursor != len(text) {
		return 0, false
	}
	return total, true
}
