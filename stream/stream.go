// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stream turns a provider's raw chunk stream into the caller-facing StreamEvent sequence,
// wiring together the client-side stop matcher (stream/stopmatch), the capture log-probability
// accumulator (stream/logprob), and local grammar re-validation, failing closed when the provider's
// output does not conform.
package stream

import (
	"iter"
	"strings"
	"time"

	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/stream/logprob"
	"github.com/ridgeway-oss/cgen/stream/stopmatch"
)

// Event is the sum type yielded by Pipeline.Run: Text, Token, Capture, or Usage.
type Event interface{ isEvent() }

// Text is a span of generated (or, off the reasoning channel when no grammar is in play,
// non-generated) text.
type Text struct {
	Value       string
	IsGenerated bool
	LatencyMS   *int64
}

func (Text) isEvent() {}

// Token echoes one provider-reported token alongside its log-probability, when the request asked for
// logprobs.
type Token struct {
	Value   string
	Bytes   []byte
	LogProb *float64
}

func (Token) isEvent() {}

// Capture reports a named grammar capture's value: either the rule's own live capture, the
// stop-regex's stop_capture, or one of the captures local re-validation reconstructs from the full
// generated text. Append is true when the capturing rule is a ListAppend rule and this value is one
// of possibly several.
type Capture struct {
	Name    string
	Value   string
	LogProb *float64
	Append  bool
}

func (Capture) isEvent() {}

// Usage is emitted once per round trip, after the stream's Text/Token events and before the terminal
// Capture events.
type Usage struct {
	InputTokens, OutputTokens, CachedInputTokens int64
	TTFTMS, TotalLatencyMS                       int64
	RoundTrips                                   int
}

func (Usage) isEvent() {}

// TokenLogProb is one provider-reported token/log-probability pair within a Delta.
type TokenLogProb struct {
	Token   string
	Bytes   []byte
	LogProb *float64 // nil if the provider did not report a numeric value for this token
}

// Delta is one incremental update within a Chunk: generated content text and/or reasoning-channel
// text, plus any token-level log-probability records.
type Delta struct {
	ContentText   string
	ReasoningText string
	LogProbs      []TokenLogProb
}

// UsageReport is the usage accounting a provider attaches to its terminal chunk.
type UsageReport struct {
	InputTokens, OutputTokens, CachedInputTokens int64
}

// Chunk is one unit the provider's SSE stream is decoded into: zero or more deltas, and usage
// accounting on the terminal chunk only.
type Chunk struct {
	Deltas []Delta
	Usage  *UsageReport
}

// ValidationFailedError is returned by Pipeline.Run's finish function when the provider's generated
// text does not conform to the grammar under local re-validation.
type ValidationFailedError struct {
	Text string
}

func (e *ValidationFailedError) Error() string {
	return "generated text failed local grammar re-validation: " + e.Text
}

// Pipeline consumes one generate call's chunk stream and produces its StreamEvent sequence. A Pipeline
// is single-use: construct one per generate call.
type Pipeline struct {
	Root grammar.Node

	// CaptureName is the rule's own capture name, or "" if the rule that owns the stream doesn't
	// capture.
	CaptureName string
	// StopMatcher handles a client-side stop regex; nil if the rule has none.
	StopMatcher *stopmatch.Matcher
	// StopCaptureName names the capture the stop matcher's matched text is reported under, when
	// StopMatcher is non-nil and configured with one.
	StopCaptureName string
	// GrammarInPlay gates whether reasoning-channel text is also treated as generated output. Some
	// providers return grammar-constrained text on the reasoning channel instead of content; this must
	// never be inferred from the chunk shape, only set explicitly by the caller that knows whether a
	// grammar response_format was attached to the request.
	GrammarInPlay bool

	logAcc *logprob.Accumulator
	text   strings.Builder
	start  time.Time
}

// NewPipeline constructs a Pipeline for one generate call against root.
func NewPipeline(root grammar.Node) *Pipeline {
	return &Pipeline{Root: root, logAcc: logprob.New(), start: time.Now()}
}

// ForRule configures p's capture name, stop matcher, and stop-capture name from rule. An error is
// returned only if rule declares a stop regex whose pattern cannot be compiled.
func (p *Pipeline) ForRule(rule *grammar.Rule) error {
	if rule == nil {
		return nil
	}
	p.CaptureName = rule.CaptureName()
	if rule.StopCapture != nil {
		p.StopCaptureName = *rule.StopCapture
	}
	if rule.Stop == nil {
		return nil
	}
	stopRegex, ok := rule.Stop.(grammar.Regex)
	if !ok || stopRegex.Pattern == nil {
		return nil
	}
	m, err := stopmatch.New(*stopRegex.Pattern)
	if err != nil {
		return err
	}
	p.StopMatcher = m
	return nil
}

// Run drives chunks through the pipeline, returning the resulting event sequence and a finish
// function reporting any terminal error (in particular *ValidationFailedError).
func (p *Pipeline) Run(chunks iter.Seq[Chunk]) (iter.Seq[Event], func() error) {
	var finalErr error
	var firstTextAt *int64

	recordFirstText := func() *int64 {
		if firstTextAt != nil {
			return firstTextAt
		}
		ms := time.Since(p.start).Milliseconds()
		firstTextAt = &ms
		return firstTextAt
	}

	emitGenerated := func(yield func(Event) bool, text string) bool {
		if text == "" {
			return true
		}
		if p.StopMatcher == nil {
			p.text.WriteString(text)
			return yield(Text{Value: text, IsGenerated: true, LatencyMS: recordFirstText()})
		}
		upd := p.StopMatcher.Feed(text)
		if upd.EmitText != "" {
			p.text.WriteString(upd.EmitText)
			if !yield(Text{Value: upd.EmitText, IsGenerated: true, LatencyMS: recordFirstText()}) {
				return false
			}
		}
		if upd.Matched && p.StopCaptureName != "" {
			var lpPtr *float64
			if lp, ok := p.logAcc.LogprobForText(upd.StopText); ok {
				lpPtr = &lp
			}
			if !yield(Capture{Name: p.StopCaptureName, Value: upd.StopText, LogProb: lpPtr}) {
				return false
			}
		}
		return true
	}

	fnEvents := func(yield func(Event) bool) {
		for chunk := range chunks {
			for _, delta := range chunk.Deltas {
				if p.GrammarInPlay && delta.ReasoningText != "" {
					if !emitGenerated(yield, delta.ReasoningText) {
						return
					}
				} else if delta.ReasoningText != "" {
					if !yield(Text{Value: delta.ReasoningText, IsGenerated: false}) {
						return
					}
				}
				if delta.ContentText != "" {
					if !emitGenerated(yield, delta.ContentText) {
						return
					}
				}
				for _, tok := range delta.LogProbs {
					p.logAcc.Add(tok.Token, tok.LogProb)
					if !yield(Token{Value: tok.Token, Bytes: tok.Bytes, LogProb: tok.LogProb}) {
						return
					}
				}
			}
			if chunk.Usage != nil {
				usage := Usage{
					InputTokens:       chunk.Usage.InputTokens,
					OutputTokens:      chunk.Usage.OutputTokens,
					CachedInputTokens: chunk.Usage.CachedInputTokens,
					TotalLatencyMS:    time.Since(p.start).Milliseconds(),
					RoundTrips:        1,
				}
				if firstTextAt != nil {
					usage.TTFTMS = *firstTextAt
				}
				if !yield(usage) {
					return
				}
			}
		}

		if p.StopMatcher != nil && !p.StopMatcher.Matched() {
			if fin := p.StopMatcher.Finish(); fin.EmitText != "" {
				p.text.WriteString(fin.EmitText)
				if !yield(Text{Value: fin.EmitText, IsGenerated: true, LatencyMS: recordFirstText()}) {
					return
				}
			}
		}

		generatedText := p.text.String()
		// Yielded ahead of grammar.Match below: a consumer sees the raw capture before finish()
		// reports ValidationFailedError, if the text turns out not to match.
		if p.CaptureName != "" {
			var lpPtr *float64
			if lp, ok := p.logAcc.LogprobForText(generatedText); ok {
				lpPtr = &lp
			}
			if !yield(Capture{Name: p.CaptureName, Value: generatedText, LogProb: lpPtr}) {
				return
			}
		}

		result, ok := grammar.Match(p.Root, generatedText, false)
		if !ok {
			finalErr = &ValidationFailedError{Text: generatedText}
			return
		}
		for name, v := range result.Captures {
			switch vv := v.(type) {
			case string:
				if !yield(Capture{Name: name, Value: vv}) {
					return
				}
			case []string:
				for _, s := range vv {
					if !yield(Capture{Name: name, Value: s, Append: true}) {
						return
					}
				}
			}
		}
	}

	return fnEvents, func() error { return finalErr }
}
