// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"testing"

	"github.com/ridgeway-oss/cgen/grammar"
)

func f64(v float64) *float64 { return &v }

func collect(seq func(func(Event) bool)) []Event {
	var out []Event
	seq(func(e Event) bool {
		out = append(out, e)
		return true
	})
	return out
}

func chunksOf(deltas ...Delta) func(func(Chunk) bool) {
	return func(yield func(Chunk) bool) {
		for _, d := range deltas {
			if !yield(Chunk{Deltas: []Delta{d}}) {
				return
			}
		}
	}
}

func TestRun_PlainTextValidatesAndCaptures(t *testing.T) {
	root := &grammar.Rule{
		Name:    "start",
		Value:   grammar.NewRegex("YES|NO"),
		Capture: strPtr("answer"),
	}
	p := NewPipeline(root)
	if err := p.ForRule(root); err != nil {
		t.Fatal(err)
	}
	events, finish := p.Run(chunksOf(Delta{ContentText: "YES"}))
	got := collect(events)
	if err := finish(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var captures []Capture
	for _, e := range got {
		if c, ok := e.(Capture); ok {
			captures = append(captures, c)
		}
	}
	if len(captures) != 2 {
		t.Fatalf("expected a primary capture plus a validation capture, got %d: %+v", len(captures), captures)
	}
	if captures[0].Name != "answer" || captures[0].Value != "YES" {
		t.Errorf("unexpected primary capture: %+v", captures[0])
	}
}

func TestRun_ValidationFailureSurfacesError(t *testing.T) {
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO")}
	p := NewPipeline(root)
	if err := p.ForRule(root); err != nil {
		t.Fatal(err)
	}
	events, finish := p.Run(chunksOf(Delta{ContentText: "MAYBE"}))
	collect(events)
	err := finish()
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if _, ok := err.(*ValidationFailedError); !ok {
		t.Fatalf("got %T: %v", err, err)
	}
}

func TestRun_StopRegexWithholdsAndEmitsStopCapture(t *testing.T) {
	stopName := "stopped_on"
	root := &grammar.Rule{
		Name:        "start",
		Value:       grammar.UnboundedRepeat(grammar.NewRegex("."), 0),
		Stop:        grammar.NewRegex("STOP"),
		StopCapture: &stopName,
	}
	p := NewPipeline(root)
	if err := p.ForRule(root); err != nil {
		t.Fatal(err)
	}
	events, finish := p.Run(chunksOf(
		Delta{ContentText: "helloST"},
		Delta{ContentText: "OPworld"},
	))
	got := collect(events)
	if err := finish(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var text string
	var sawStopCapture bool
	for _, e := range got {
		switch v := e.(type) {
		case Text:
			text += v.Value
		case Capture:
			if v.Name == stopName {
				sawStopCapture = true
				if v.Value != "STOP" {
					t.Errorf("got stop capture value %q", v.Value)
				}
			}
		}
	}
	if text != "hello" {
		t.Errorf("got emitted text %q, want %q", text, "hello")
	}
	if !sawStopCapture {
		t.Error("expected a stop_capture event")
	}
}

func TestRun_TokenLogProbsFeedAccumulatorAndEmitTokenEvents(t *testing.T) {
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO"), Capture: strPtr("answer")}
	p := NewPipeline(root)
	if err := p.ForRule(root); err != nil {
		t.Fatal(err)
	}
	events, finish := p.Run(chunksOf(Delta{
		ContentText: "YES",
		LogProbs:    []TokenLogProb{{Token: "YES", LogProb: f64(-0.1)}},
	}))
	got := collect(events)
	if err := finish(); err != nil {
		t.Fatal(err)
	}
	var sawToken, sawPrimary bool
	var primaryLogProb *float64
	for _, e := range got {
		if tok, ok := e.(Token); ok {
			sawToken = true
			if tok.LogProb == nil || *tok.LogProb != -0.1 {
				t.Errorf("got token logprob %v", tok.LogProb)
			}
		}
		// The primary capture is the first "answer" event; re-validation yields another one after it.
		if c, ok := e.(Capture); ok && c.Name == "answer" && !sawPrimary {
			sawPrimary = true
			primaryLogProb = c.LogProb
		}
	}
	if !sawToken {
		t.Error("expected a Token event")
	}
	if primaryLogProb == nil || *primaryLogProb != -0.1 {
		t.Errorf("got primary capture logprob %v", primaryLogProb)
	}
}

func TestRun_ReasoningTextIgnoredWhenGrammarNotInPlay(t *testing.T) {
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO"), Capture: strPtr("answer")}
	p := NewPipeline(root)
	if err := p.ForRule(root); err != nil {
		t.Fatal(err)
	}
	p.GrammarInPlay = false
	events, finish := p.Run(chunksOf(Delta{ReasoningText: "thinking...", ContentText: "YES"}))
	got := collect(events)
	if err := finish(); err != nil {
		t.Fatal(err)
	}
	var generatedText string
	var sawNonGenerated bool
	for _, e := range got {
		if txt, ok := e.(Text); ok {
			if txt.IsGenerated {
				generatedText += txt.Value
			} else {
				sawNonGenerated = true
				if txt.Value != "thinking..." {
					t.Errorf("got non-generated text %q", txt.Value)
				}
			}
		}
	}
	if generatedText != "YES" {
		t.Errorf("got generated text %q, want YES", generatedText)
	}
	if !sawNonGenerated {
		t.Error("expected a non-generated reasoning Text event")
	}
}

func TestRun_ReasoningTextTreatedAsGeneratedWhenGrammarInPlay(t *testing.T) {
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO"), Capture: strPtr("answer")}
	p := NewPipeline(root)
	if err := p.ForRule(root); err != nil {
		t.Fatal(err)
	}
	p.GrammarInPlay = true
	events, finish := p.Run(chunksOf(Delta{ReasoningText: "YES"}))
	got := collect(events)
	if err := finish(); err != nil {
		t.Fatal(err)
	}
	var generatedText string
	for _, e := range got {
		if txt, ok := e.(Text); ok && txt.IsGenerated {
			generatedText += txt.Value
		}
	}
	if generatedText != "YES" {
		t.Errorf("got %q, want YES", generatedText)
	}
}

func TestRun_UsageEmittedOnceWithTotals(t *testing.T) {
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO")}
	p := NewPipeline(root)
	if err := p.ForRule(root); err != nil {
		t.Fatal(err)
	}
	chunks := func(yield func(Chunk) bool) {
		if !yield(Chunk{Deltas: []Delta{{ContentText: "YES"}}}) {
			return
		}
		yield(Chunk{Usage: &UsageReport{InputTokens: 10, OutputTokens: 3, CachedInputTokens: 1}})
	}
	events, finish := p.Run(chunks)
	got := collect(events)
	if err := finish(); err != nil {
		t.Fatal(err)
	}
	var usageCount int
	for _, e := range got {
		if u, ok := e.(Usage); ok {
			usageCount++
			if u.InputTokens != 10 || u.OutputTokens != 3 || u.CachedInputTokens != 1 {
				t.Errorf("got %+v", u)
			}
			if u.RoundTrips != 1 {
				t.Errorf("got RoundTrips=%d", u.RoundTrips)
			}
		}
	}
	if usageCount != 1 {
		t.Fatalf("expected exactly one Usage event, got %d", usageCount)
	}
}

func strPtr(s string) *string { return &s }
