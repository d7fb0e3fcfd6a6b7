// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package shaper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ridgeway-oss/cgen/capability"
	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
)

type modelRow struct {
	ID                  string   `json:"id"`
	SupportedParameters []string `json:"supported_parameters"`
}

func newServer(t *testing.T, rows []modelRow) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(struct {
			Data []modelRow `json:"data"`
		}{Data: rows})
	})
	// Any per-model /endpoints lookup falls back to an empty endpoint list; these tests only exercise
	// the catalog path, but a model with an empty supported_parameters list still triggers the resolver's
	// endpoints fallback.
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(struct {
			Data struct {
				Endpoints []struct{} `json:"endpoints"`
			} `json:"data"`
		}{})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }

func TestShape_DropsUnsupportedSamplingParams(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b", SupportedParameters: []string{"temperature"}}})
	r := capability.NewResolver(nil)
	opts := Options{
		APIBase: srv.URL,
		Model:   "a/b",
		Sampling: SamplingParams{
			Temperature: f64(0.7),
			TopK:        i(40),
		},
	}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out.Sampling.Temperature == nil || *out.Sampling.Temperature != 0.7 {
		t.Error("expected temperature to survive, model supports it")
	}
	if out.Sampling.TopK != nil {
		t.Error("expected top_k to be dropped, model does not support it")
	}
}

func TestShape_MaxTokensPrefersExplicitOverCompletionTokens(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b"}})
	r := capability.NewResolver(nil)
	opts := Options{
		APIBase:             srv.URL,
		Model:               "a/b",
		MaxTokens:           i(100),
		MaxCompletionTokens: i(200),
	}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out.MaxTokens == nil || *out.MaxTokens != 100 {
		t.Fatalf("got %v", out.MaxTokens)
	}
}

func TestShape_MaxTokensFallsBackToCompletionTokens(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b"}})
	r := capability.NewResolver(nil)
	opts := Options{APIBase: srv.URL, Model: "a/b", MaxCompletionTokens: i(200)}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out.MaxTokens == nil || *out.MaxTokens != 200 {
		t.Fatalf("got %v", out.MaxTokens)
	}
}

func TestShape_ReasoningEffortRequiresCapability(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b"}})
	r := capability.NewResolver(nil)
	opts := Options{APIBase: srv.URL, Model: "a/b", ReasoningEffort: "high"}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out.ReasoningEffort != nil {
		t.Error("expected reasoning effort to be dropped when the model doesn't support it")
	}

	srv2 := newServer(t, []modelRow{{ID: "a/b", SupportedParameters: []string{"reasoning"}}})
	out2, err := Shape(context.Background(), r, Options{APIBase: srv2.URL, Model: "a/b", ReasoningEffort: "high"}, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out2.ReasoningEffort == nil || *out2.ReasoningEffort != "high" {
		t.Fatalf("got %v", out2.ReasoningEffort)
	}
}

func TestShape_ExplicitReasoningEffortWinsOverDefault(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b", SupportedParameters: []string{"reasoning"}}})
	r := capability.NewResolver(nil)
	opts := Options{APIBase: srv.URL, Model: "a/b", DefaultReasoningEffort: "low", ReasoningEffort: "high"}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out.ReasoningEffort == nil || *out.ReasoningEffort != "high" {
		t.Fatalf("got %v", out.ReasoningEffort)
	}
}

func TestShape_DefaultReasoningEffortUsedWhenCallerSilent(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b", SupportedParameters: []string{"reasoning"}}})
	r := capability.NewResolver(nil)
	opts := Options{APIBase: srv.URL, Model: "a/b", DefaultReasoningEffort: "low"}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out.ReasoningEffort == nil || *out.ReasoningEffort != "low" {
		t.Fatalf("got %v", out.ReasoningEffort)
	}
}

func TestShape_RoutingDefaultsRequireParametersButKeepsOrder(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b"}})
	r := capability.NewResolver(nil)
	opts := Options{
		APIBase: srv.URL,
		Model:   "a/b",
		Routing: capability.ProviderRoutingDirective{Order: []string{"fireworks"}, AllowFallbacks: true},
	}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Routing.RequireParameters {
		t.Error("expected RequireParameters to default true")
	}
	if len(out.Routing.Order) != 1 || out.Routing.Order[0] != "fireworks" {
		t.Errorf("expected caller's order to survive, got %v", out.Routing.Order)
	}
	if !out.Routing.AllowFallbacks {
		t.Error("expected AllowFallbacks to pass through unchanged")
	}
}

func TestShape_GrammarDialectUsesFireworksHintAndSerializes(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b"}})
	r := capability.NewResolver(nil)
	opts := Options{
		APIBase: srv.URL,
		Model:   "a/b",
		Routing: capability.ProviderRoutingDirective{Order: []string{"fireworks"}},
	}
	out, err := Shape(context.Background(), r, opts, grammar.Literal{Value: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if out.GrammarDialect != dialect.GBNF {
		t.Errorf("got %v", out.GrammarDialect)
	}
	if out.GrammarText == "" {
		t.Error("expected non-empty serialized grammar text")
	}
}

func TestShape_GrammarDialectDefaultsToLark(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b"}})
	r := capability.NewResolver(nil)
	out, err := Shape(context.Background(), r, Options{APIBase: srv.URL, Model: "a/b"}, grammar.Literal{Value: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if out.GrammarDialect != dialect.Lark {
		t.Errorf("got %v", out.GrammarDialect)
	}
}

func TestShape_LogprobsDisabledWhenUnsupported(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b"}})
	r := capability.NewResolver(nil)
	opts := Options{APIBase: srv.URL, Model: "a/b", EnableLogprobs: true, TopLogprobs: i(5)}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out.EnableLogprobs {
		t.Error("expected logprobs to be disabled")
	}
	if out.TopLogprobs != nil {
		t.Error("expected top_logprobs to be cleared")
	}
}

func TestShape_TopLogprobsClampedToSafeMax(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b", SupportedParameters: []string{"logprobs", "top_logprobs"}}})
	r := capability.NewResolver(nil)
	big := 9000
	opts := Options{APIBase: srv.URL, Model: "a/b", EnableLogprobs: true, TopLogprobs: &big}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if !out.EnableLogprobs {
		t.Error("expected logprobs to be enabled")
	}
	if out.TopLogprobs == nil || *out.TopLogprobs != capability.TopLogprobsSafeMax {
		t.Fatalf("got %v", out.TopLogprobs)
	}
}

func TestShape_ToolsRefusedWhenRoutingLacksSupport(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b"}})
	r := capability.NewResolver(nil)
	opts := Options{APIBase: srv.URL, Model: "a/b", Tools: []ToolSpec{{Name: "lookup", Description: "look something up"}}}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if out.ToolsAllowed {
		t.Error("expected tools to be refused, model does not declare tool support")
	}
	if len(out.Tools) != 0 {
		t.Errorf("expected no tools attached, got %+v", out.Tools)
	}
}

func TestShape_ToolsAllowedWhenSupported(t *testing.T) {
	srv := newServer(t, []modelRow{{ID: "a/b", SupportedParameters: []string{"tools"}}})
	r := capability.NewResolver(nil)
	opts := Options{APIBase: srv.URL, Model: "a/b", Tools: []ToolSpec{{Name: "lookup", Description: "look something up", Schema: json.RawMessage(`{"type":"object"}`)}}}
	out, err := Shape(context.Background(), r, opts, grammar.Unconstrained())
	if err != nil {
		t.Fatal(err)
	}
	if !out.ToolsAllowed {
		t.Error("expected tools to be allowed")
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "lookup" {
		t.Errorf("expected the lookup tool to be attached, got %+v", out.Tools)
	}
}
