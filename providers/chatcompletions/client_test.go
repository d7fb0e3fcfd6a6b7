// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package chatcompletions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ridgeway-oss/cgen"
	"github.com/ridgeway-oss/cgen/shaper"
)

func TestStream_DecodesSSEChunks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"YES\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{}}],\"usage\":{\"input_tokens\":5,\"output_tokens\":1}}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "", "a/b", "fireworks", nil)
	shaped := &shaper.ShapedRequest{}
	chunks, finish := c.Stream(context.Background(), cgen.Messages{cgen.NewTextMessage(cgen.User, "pick one")}, shaped)

	var text string
	var sawUsage bool
	for chunk := range chunks {
		for _, d := range chunk.Deltas {
			text += d.ContentText
		}
		if chunk.Usage != nil {
			sawUsage = true
			if chunk.Usage.InputTokens != 5 || chunk.Usage.OutputTokens != 1 {
				t.Errorf("got %+v", chunk.Usage)
			}
		}
	}
	if err := finish(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "YES" {
		t.Errorf("got text %q", text)
	}
	if !sawUsage {
		t.Error("expected a usage-bearing chunk")
	}
}

func TestStream_HTTPErrorSurfacesAsStructuredError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"the response_format grammar field is unsupported for this model"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "", "a/b", "fireworks", nil)
	_, finish := c.Stream(context.Background(), cgen.Messages{cgen.NewTextMessage(cgen.User, "pick one")}, &shaper.ShapedRequest{})
	err := finish()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !cgen.IsProviderGrammarRejection(err.Error()) {
		t.Errorf("expected a grammar-rejection-shaped message, got %v", err)
	}
}

func TestNewChatRequest_LowersShapedFields(t *testing.T) {
	effort := "high"
	maxTok := 256
	shaped := &shaper.ShapedRequest{
		GrammarText:     "start: \"YES\" | \"NO\"",
		ReasoningEffort: &effort,
		MaxTokens:       &maxTok,
	}
	req := NewChatRequest("a/b", cgen.Messages{cgen.NewTextMessage(cgen.User, "pick one")}, shaped)
	if req.Model != "a/b" {
		t.Errorf("got model %q", req.Model)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "pick one" {
		t.Errorf("got messages %+v", req.Messages)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Grammar != shaped.GrammarText {
		t.Errorf("got response format %+v", req.ResponseFormat)
	}
	if req.Reasoning == nil || req.Reasoning.Effort != "high" {
		t.Errorf("got reasoning %+v", req.Reasoning)
	}
	if req.MaxTokens == nil || *req.MaxTokens != 256 {
		t.Errorf("got max tokens %v", req.MaxTokens)
	}
	if !req.StreamOptions.IncludeUsage {
		t.Error("expected stream_options.include_usage to be set")
	}
}

func TestNewChatRequest_LowersTools(t *testing.T) {
	shaped := &shaper.ShapedRequest{
		GrammarText: "start: \"YES\" | \"NO\"",
		Tools: []shaper.ToolSpec{
			{Name: "lookup", Description: "look something up", Schema: []byte(`{"type":"object"}`)},
		},
	}
	req := NewChatRequest("a/b", cgen.Messages{cgen.NewTextMessage(cgen.User, "pick one")}, shaped)
	if len(req.Tools) != 1 {
		t.Fatalf("got tools %+v", req.Tools)
	}
	tool := req.Tools[0]
	if tool.Type != "function" || tool.Function.Name != "lookup" || tool.Function.Description != "look something up" {
		t.Errorf("got tool %+v", tool)
	}
	if string(tool.Function.Parameters) != `{"type":"object"}` {
		t.Errorf("got parameters %s", tool.Function.Parameters)
	}
}
