// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package shaper composes an outgoing generation request from caller-supplied sampling options, a
// grammar node tree, and what the capability resolver knows the target model/routing actually
// supports. It never talks to the network itself; providers/chatcompletions and providers/responses
// translate its output into their own wire shape.
package shaper

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ridgeway-oss/cgen/capability"
	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
	"github.com/ridgeway-oss/cgen/grammar/dialect/gbnf"
	"github.com/ridgeway-oss/cgen/grammar/dialect/lark"
	"github.com/ridgeway-oss/cgen/grammar/dialect/regexfragment"
)

// SamplingParams are the caller-requested generation knobs whose support varies per model/provider.
type SamplingParams struct {
	Temperature       *float64
	TopP              *float64
	TopK              *int
	MinP              *float64
	RepetitionPenalty *float64
}

// Options are the caller-supplied inputs the shaper composes into a ShapedRequest.
type Options struct {
	APIBase, APIKey, Model string
	Routing                capability.ProviderRoutingDirective
	// DefaultReasoningEffort is the adapter-level fallback used when the caller didn't specify one
	// explicitly and the model supports a reasoning parameter.
	DefaultReasoningEffort string
	ReasoningEffort        string // explicit caller override; empty means "use the default"

	Sampling SamplingParams

	// MaxTokens and MaxCompletionTokens are merged into a single outgoing value, preferring MaxTokens
	// when both are set (mirroring the caller always winning when explicit).
	MaxTokens           *int
	MaxCompletionTokens *int

	EnableLogprobs bool
	TopLogprobs    *int

	// Tools are ordinary tool definitions the caller wants attached alongside the grammar constraint.
	// The shaper refuses to attach them unless routing/the model declares tool support.
	Tools []ToolSpec
}

// ToolSpec is a variant-agnostic tool definition, already reflected to a JSON schema by the caller
// (cgen.ToolDef.Validate/schema reflection happens above this package, which never imports
// encoding/json-schema reflection libraries itself).
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ShapedRequest is the variant-agnostic outgoing request body; providers/chatcompletions and
// providers/responses each lower it into their own wire shape.
type ShapedRequest struct {
	Sampling        SamplingParams
	MaxTokens       *int
	ReasoningEffort *string

	Routing capability.ProviderRoutingDirective

	GrammarDialect dialect.Kind
	GrammarText    string

	EnableLogprobs bool
	TopLogprobs    *int

	ToolsAllowed bool
	Tools        []ToolSpec
}

// Shape composes a ShapedRequest for root, consulting resolver for what opts.Model/opts.Routing
// actually support.
func Shape(ctx context.Context, resolver *capability.Resolver, opts Options, root grammar.Node) (*ShapedRequest, error) {
	out := &ShapedRequest{Routing: shapeRouting(opts.Routing)}

	sampling, err := shapeSampling(ctx, resolver, opts, out.Routing)
	if err != nil {
		return nil, err
	}
	out.Sampling = sampling

	out.MaxTokens = mergeMaxTokens(opts.MaxTokens, opts.MaxCompletionTokens)

	effort, err := shapeReasoningEffort(ctx, resolver, opts, out.Routing)
	if err != nil {
		return nil, err
	}
	out.ReasoningEffort = effort

	dialectKind := resolver.GrammarFormatFor(out.Routing)
	text, err := serialize(dialectKind, root)
	if err != nil {
		return nil, err
	}
	out.GrammarDialect = dialectKind
	out.GrammarText = text

	if err := shapeLogprobs(ctx, resolver, opts, out); err != nil {
		return nil, err
	}

	if len(opts.Tools) > 0 {
		supportsTools, err := resolver.ParameterSupported(ctx, opts.APIBase, opts.APIKey, opts.Model, "tools", out.Routing)
		if err != nil {
			return nil, err
		}
		out.ToolsAllowed = supportsTools
		if supportsTools {
			out.Tools = opts.Tools
		}
	}

	return out, nil
}

// shapeRouting overlays the adapter default RequireParameters=true under the caller's routing,
// without touching AllowFallbacks or an explicit Order the caller already set.
func shapeRouting(routing capability.ProviderRoutingDirective) capability.ProviderRoutingDirective {
	return capability.ProviderRoutingDirective{
		Order:             routing.Order,
		RequireParameters: true,
		AllowFallbacks:    routing.AllowFallbacks,
	}
}

func shapeSampling(ctx context.Context, resolver *capability.Resolver, opts Options, routing capability.ProviderRoutingDirective) (SamplingParams, error) {
	out := opts.Sampling
	checks := []struct {
		set   bool
		param string
		clear func()
	}{
		{out.Temperature != nil, "temperature", func() { out.Temperature = nil }},
		{out.TopP != nil, "top_p", func() { out.TopP = nil }},
		{out.TopK != nil, "top_k", func() { out.TopK = nil }},
		{out.MinP != nil, "min_p", func() { out.MinP = nil }},
		{out.RepetitionPenalty != nil, "repetition_penalty", func() { out.RepetitionPenalty = nil }},
	}
	for _, c := range checks {
		if !c.set {
			continue
		}
		supported, err := resolver.ParameterSupported(ctx, opts.APIBase, opts.APIKey, opts.Model, c.param, routing)
		if err != nil {
			return SamplingParams{}, err
		}
		if !supported {
			c.clear()
		}
	}
	return out, nil
}

func mergeMaxTokens(maxTokens, maxCompletionTokens *int) *int {
	if maxTokens != nil {
		return maxTokens
	}
	return maxCompletionTokens
}

func shapeReasoningEffort(ctx context.Context, resolver *capability.Resolver, opts Options, routing capability.ProviderRoutingDirective) (*string, error) {
	effort := strings.TrimSpace(opts.ReasoningEffort)
	if effort == "" {
		effort = strings.TrimSpace(opts.DefaultReasoningEffort)
	}
	if effort == "" {
		return nil, nil
	}
	supportsReasoning, err := resolver.ParameterSupported(ctx, opts.APIBase, opts.APIKey, opts.Model, "reasoning", routing)
	if err != nil {
		return nil, err
	}
	if !supportsReasoning {
		supportsReasoning, err = resolver.ParameterSupported(ctx, opts.APIBase, opts.APIKey, opts.Model, "reasoning_effort", routing)
		if err != nil {
			return nil, err
		}
	}
	if !supportsReasoning {
		return nil, nil
	}
	return &effort, nil
}

func shapeLogprobs(ctx context.Context, resolver *capability.Resolver, opts Options, out *ShapedRequest) error {
	if !opts.EnableLogprobs {
		return nil
	}
	supportsLogprobs, supportsTopLogprobs, err := resolver.LogprobsCapability(ctx, opts.APIBase, opts.APIKey, opts.Model, out.Routing)
	if err != nil {
		return err
	}
	if !supportsLogprobs {
		out.EnableLogprobs = false
		out.TopLogprobs = nil
		return nil
	}
	out.EnableLogprobs = true
	n, ok := capability.NormalizeTopLogprobs(opts.TopLogprobs)
	if !ok || !supportsTopLogprobs {
		out.TopLogprobs = nil
		return nil
	}
	out.TopLogprobs = &n
	return nil
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
