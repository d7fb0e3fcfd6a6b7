// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cgen

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/ridgeway-oss/cgen/capability"
	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/shaper"
	"github.com/ridgeway-oss/cgen/stream"
)

type fakeProvider struct {
	name   string
	chunks []stream.Chunk
	err    error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Stream(ctx context.Context, transcript Messages, shaped *shaper.ShapedRequest) (iter.Seq[stream.Chunk], func() error) {
	return func(yield func(stream.Chunk) bool) {
		for _, c := range f.chunks {
			if !yield(c) {
				return
			}
		}
	}, func() error { return f.err }
}

// newTestResolver returns a resolver with no grammar policy; the generate-level tests below never
// exercise a code path that needs a live models/endpoints server.
func newTestResolver(t *testing.T) *capability.Resolver {
	t.Helper()
	return capability.NewResolver(nil)
}

func TestGenerate_StreamsAndValidates(t *testing.T) {
	resolver := newTestResolver(t)
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO"), Capture: strPtrG("answer")}
	p := &fakeProvider{name: "fireworks", chunks: []stream.Chunk{{Deltas: []stream.Delta{{ContentText: "YES"}}}}}
	opts := ProviderOptions{APIBase: "http://127.0.0.1:0", Model: "a/b"}
	events, finish := Generate(context.Background(), resolver, p, root, Messages{NewTextMessage(User, "pick one")}, opts)
	var sawCapture bool
	for e := range events {
		if c, ok := e.(Capture); ok && c.Name == "answer" && c.Value == "YES" {
			sawCapture = true
		}
	}
	if err := finish(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawCapture {
		t.Error("expected the primary capture event")
	}
}

func TestGenerate_NilProviderIsRequestMisuse(t *testing.T) {
	resolver := newTestResolver(t)
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO")}
	_, finish := Generate(context.Background(), resolver, nil, root, Messages{NewTextMessage(User, "hi")}, ProviderOptions{APIBase: "x", Model: "a"})
	if err := finish(); err == nil {
		t.Fatal("expected an error")
	}
}

func TestGenerate_InvalidTranscriptIsRequestMisuse(t *testing.T) {
	resolver := newTestResolver(t)
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO")}
	p := &fakeProvider{name: "fireworks"}
	_, finish := Generate(context.Background(), resolver, p, root, Messages{{Role: "bogus"}}, ProviderOptions{APIBase: "x", Model: "a"})
	err := finish()
	if err == nil {
		t.Fatal("expected an error")
	}
	var misuse *RequestMisuse
	if !errors.As(err, &misuse) {
		t.Fatalf("got %T: %v", err, err)
	}
}

func TestGenerate_ProviderGrammarRejectionIsWrapped(t *testing.T) {
	resolver := newTestResolver(t)
	root := &grammar.Rule{Name: "start", Value: grammar.NewRegex("YES|NO")}
	p := &fakeProvider{name: "together", err: errors.New("the response_format grammar field is unsupported for this model")}
	_, finish := Generate(context.Background(), resolver, p, root, Messages{NewTextMessage(User, "hi")}, ProviderOptions{APIBase: "x", Model: "a"})
	err := finish()
	var rejected *ProviderRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("got %T: %v", err, err)
	}
	if rejected.Provider != "together" {
		t.Errorf("got provider %q", rejected.Provider)
	}
}

func strPtrG(s string) *string { return &s }
