// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package probe issues the canonical grammar-constrained request cmd/grammar-probe and
// cmd/policy-builder use to empirically classify a provider's grammar support: ask for exactly "YES"
// or "NO" under a response_format grammar of the dialect being probed, then look at what came back.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ridgeway-oss/cgen"
	"github.com/ridgeway-oss/cgen/capability"
	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
	"github.com/ridgeway-oss/cgen/grammar/dialect/gbnf"
	"github.com/ridgeway-oss/cgen/grammar/dialect/lark"
	"github.com/ridgeway-oss/cgen/grammar/dialect/regexfragment"
	"github.com/ridgeway-oss/cgen/providers/chatcompletions"
	"github.com/ridgeway-oss/cgen/providers/responses"
	"github.com/ridgeway-oss/cgen/shaper"
)

// Variant selects which wire client a probe request is driven through.
type Variant string

const (
	ChatCompletions Variant = "chatcompletions"
	Responses       Variant = "responses"
)

// Outcome classifies what a probe request observed.
type Outcome string

const (
	// Reject means the provider returned an HTTP error or a structured API error for the grammar
	// request.
	Reject Outcome = "reject"
	// AcceptsObeys means the provider returned 2xx and the generated text is exactly "YES" or "NO".
	AcceptsObeys Outcome = "accepts+obeys"
	// AcceptsIgnores means the provider returned 2xx but the generated text violates the grammar.
	AcceptsIgnores Outcome = "accepts+ignores"
)

// Request describes one canonical probe: a single (provider, model, dialect) combination.
type Request struct {
	APIBase  string
	APIKey   string
	Model    string
	Provider string // routing token recorded against the result and sent as the sole provider.order entry
	Variant  Variant
	Dialect  dialect.Kind
}

// Record is the outcome of one Run, the unit cmd/policy-builder rolls up into a policy.ProviderGrammarPolicy.
type Record struct {
	Provider string       `json:"provider"`
	Model    string       `json:"model"`
	Dialect  dialect.Kind `json:"dialect"`
	Variant  Variant      `json:"variant"`
	Outcome  Outcome      `json:"outcome"`
	Text     string       `json:"text,omitempty"`
	Err      string       `json:"err,omitempty"`
}

// answerRoot is the grammar every probe constrains generation to: a bare choice between "YES" and
// "NO", small enough that every dialect's translator accepts it without hitting an UnsupportedFeature.
var answerCapture = "answer"

func answerRoot() *grammar.Rule {
	return &grammar.Rule{Name: "answer", Value: grammar.NewRegex("YES|NO"), Capture: &answerCapture}
}

func serialize(kind dialect.Kind, root grammar.Node) (string, error) {
	switch kind {
	case dialect.RegexFragment:
		return regexfragment.Serialize(root)
	case dialect.GBNF:
		return gbnf.Serialize(root)
	default:
		return lark.Serialize(root)
	}
}

// Run drives req end to end and classifies the result. It never returns a Go error itself: transport
// and provider-side failures are folded into the returned Record's Reject outcome, since a probe run
// over a large matrix must keep going past individual failures.
func Run(ctx context.Context, req Request, wrapper func(http.RoundTripper) http.RoundTripper) Record {
	rec := Record{Provider: req.Provider, Model: req.Model, Dialect: req.Dialect, Variant: req.Variant}

	text, err := serialize(req.Dialect, answerRoot())
	if err != nil {
		rec.Outcome = Reject
		rec.Err = fmt.Sprintf("serialize: %s", err)
		return rec
	}

	shaped := &shaper.ShapedRequest{
		GrammarDialect: req.Dialect,
		GrammarText:    text,
		Routing:        capability.ProviderRoutingDirective{Order: []string{req.Provider}},
	}

	var provider cgen.Provider
	switch req.Variant {
	case Responses:
		provider = responses.New(req.APIBase, req.APIKey, req.Model, req.Provider, wrapper)
	default:
		provider = chatcompletions.New(req.APIBase, req.APIKey, req.Model, req.Provider, wrapper)
	}

	transcript := cgen.Messages{cgen.NewTextMessage(cgen.User, "Reply with exactly YES or NO, nothing else.")}
	chunks, finish := provider.Stream(ctx, transcript, shaped)

	var sb strings.Builder
	for chunk := range chunks {
		for _, d := range chunk.Deltas {
			sb.WriteString(d.ContentText)
		}
	}
	if err := finish(); err != nil {
		rec.Outcome = Reject
		rec.Err = err.Error()
		return rec
	}

	rec.Text = strings.TrimSpace(sb.String())
	if rec.Text == "YES" || rec.Text == "NO" {
		rec.Outcome = AcceptsObeys
	} else {
		rec.Outcome = AcceptsIgnores
	}
	return rec
}

// AllDialects is the dialect matrix cmd/policy-builder probes per (provider, model) pair.
var AllDialects = []dialect.Kind{dialect.RegexFragment, dialect.Lark, dialect.GBNF}
