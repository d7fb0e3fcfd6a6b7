// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cgen

import (
	"context"
	"fmt"
	"iter"

	"github.com/ridgeway-oss/cgen/capability"
	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/shaper"
	"github.com/ridgeway-oss/cgen/stream"
)

// StreamEvent is the sum type a Generate call's iterator yields: a Text, Token, Capture, or Usage
// value from the stream package.
type StreamEvent = stream.Event

// Text, Token, Capture and Usage are re-exported so callers never need to import the stream package
// directly for the common path.
type (
	Text    = stream.Text
	Token   = stream.Token
	Capture = stream.Capture
	Usage   = stream.Usage
)

// Provider is the narrow interface a wire client (providers/chatcompletions, providers/responses)
// implements: turn a shaped request plus the transcript into a raw chunk stream. Generate owns
// everything upstream (capability resolution, request shaping) and downstream (stop-matching,
// logprob accounting, local re-validation) of this call.
type Provider interface {
	// Name is the routing name this provider is known by (e.g. "fireworks", "together"), used to
	// build a *ProviderRejected when the provider's own error body signals a grammar rejection.
	Name() string
	Stream(ctx context.Context, transcript Messages, shaped *shaper.ShapedRequest) (iter.Seq[stream.Chunk], func() error)
}

// Generate drives one grammar-constrained generation call end to end: it shapes the outgoing request
// around what resolver knows provider/opts.Model support, asks provider to stream raw chunks, and
// returns the validated StreamEvent sequence alongside a finish function reporting the terminal error,
// if any.
//
// root must be the grammar's top-level *grammar.Rule; a nil root is rejected as a RequestMisuse. A
// root without a capture is accepted; its stream then carries no primary Capture event.
func Generate(ctx context.Context, resolver *capability.Resolver, provider Provider, root *grammar.Rule, transcript Messages, opts ProviderOptions) (iter.Seq[StreamEvent], func() error) {
	fail := func(err error) (iter.Seq[StreamEvent], func() error) {
		return func(func(StreamEvent) bool) {}, func() error { return err }
	}

	if provider == nil {
		return fail(NewRequestMisuse(errNilProvider))
	}
	if root == nil {
		return fail(NewRequestMisuse(fmt.Errorf("grammar root rule is required")))
	}
	if err := opts.Validate(); err != nil {
		return fail(NewRequestMisuse(err))
	}
	if err := transcript.Validate(); err != nil {
		return fail(NewRequestMisuse(err))
	}

	tools, err := toolSpecs(opts.Tools)
	if err != nil {
		return fail(NewRequestMisuse(err))
	}

	shaped, err := shaper.Shape(ctx, resolver, shaper.Options{
		APIBase:                opts.APIBase,
		APIKey:                 opts.APIKey,
		Model:                  opts.Model,
		Routing:                opts.Routing,
		DefaultReasoningEffort: opts.DefaultReasoningEffort,
		Sampling:               opts.Sampling,
		Tools:                  tools,
	}, root)
	if err != nil {
		return fail(err)
	}

	chunks, providerFinish := provider.Stream(ctx, transcript, shaped)

	pipeline := stream.NewPipeline(root)
	pipeline.GrammarInPlay = true
	if err := pipeline.ForRule(root); err != nil {
		return fail(err)
	}

	events, pipelineFinish := pipeline.Run(chunks)
	finish := func() error {
		if err := providerFinish(); err != nil {
			if IsProviderGrammarRejection(err.Error()) {
				return &ProviderRejected{Provider: provider.Name(), Message: err.Error()}
			}
			return err
		}
		return pipelineFinish()
	}
	return events, finish
}
