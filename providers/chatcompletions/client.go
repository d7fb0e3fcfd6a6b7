// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package chatcompletions implements the chat-completions upstream contract against an
// OpenRouter-shaped aggregator or a single OpenAI-compatible/Fireworks-shaped vendor: a thin
// ChatRequest/ChatResponse pair, driven over SSE, that a shaper.ShapedRequest is lowered into.
package chatcompletions

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"

	"github.com/maruel/httpjson"
	"github.com/maruel/roundtrippers"

	"github.com/ridgeway-oss/cgen"
	"github.com/ridgeway-oss/cgen/internal/httpx"
	"github.com/ridgeway-oss/cgen/internal/sse"
	"github.com/ridgeway-oss/cgen/shaper"
	"github.com/ridgeway-oss/cgen/stream"
)

// ChatRequest is the outgoing wire body, lowered from a *shaper.ShapedRequest.
type ChatRequest struct {
	Model            string         `json:"model"`
	Messages         []wireMessage  `json:"messages"`
	Stream           bool           `json:"stream"`
	StreamOptions    *streamOptions `json:"stream_options,omitempty"`
	ResponseFormat   *responseFmt   `json:"response_format,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	TopK             *int           `json:"top_k,omitempty"`
	MinP             *float64       `json:"min_p,omitempty"`
	RepetitionPenalty *float64      `json:"repetition_penalty,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	Reasoning        *reasoning     `json:"reasoning,omitempty"`
	Logprobs         bool           `json:"logprobs,omitempty"`
	TopLogprobs      *int           `json:"top_logprobs,omitempty"`
	Provider         *providerBlock `json:"provider,omitempty"`
	Tools            []wireTool     `json:"tools,omitempty"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFmt struct {
	Type    string `json:"type"`
	Grammar string `json:"grammar"`
}

type reasoning struct {
	Effort string `json:"effort"`
}

type providerBlock struct {
	Order             []string `json:"order,omitempty"`
	RequireParameters bool     `json:"require_parameters,omitempty"`
	AllowFallbacks    bool     `json:"allow_fallbacks,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewChatRequest lowers a shaped request plus the caller's transcript into the wire body.
func NewChatRequest(model string, transcript cgen.Messages, shaped *shaper.ShapedRequest) *ChatRequest {
	req := &ChatRequest{
		Model:             model,
		Messages:          make([]wireMessage, len(transcript)),
		Stream:            true,
		StreamOptions:     &streamOptions{IncludeUsage: true},
		ResponseFormat:    &responseFmt{Type: "grammar", Grammar: shaped.GrammarText},
		Temperature:       shaped.Sampling.Temperature,
		TopP:              shaped.Sampling.TopP,
		TopK:              shaped.Sampling.TopK,
		MinP:              shaped.Sampling.MinP,
		RepetitionPenalty: shaped.Sampling.RepetitionPenalty,
		MaxTokens:         shaped.MaxTokens,
		Logprobs:          shaped.EnableLogprobs,
		TopLogprobs:       shaped.TopLogprobs,
		Provider: &providerBlock{
			Order:             shaped.Routing.Order,
			RequireParameters: shaped.Routing.RequireParameters,
			AllowFallbacks:    shaped.Routing.AllowFallbacks,
		},
	}
	if shaped.ReasoningEffort != nil {
		req.Reasoning = &reasoning{Effort: *shaped.ReasoningEffort}
	}
	if len(shaped.Tools) > 0 {
		req.Tools = make([]wireTool, len(shaped.Tools))
		for i, t := range shaped.Tools {
			req.Tools[i] = wireTool{Type: "function", Function: wireFunction{Name: t.Name, Description: t.Description, Parameters: t.Schema}}
		}
	}
	for i := range transcript {
		req.Messages[i] = wireMessage{Role: string(transcript[i].Role), Content: transcript[i].AsText()}
	}
	return req
}

type topLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
	Bytes   []byte  `json:"bytes,omitempty"`
}

type logprobContent struct {
	Token   string       `json:"token"`
	Logprob float64      `json:"logprob"`
	Bytes   []byte       `json:"bytes,omitempty"`
	Top     []topLogprob `json:"top_logprobs,omitempty"`
}

// ChatStreamChunkResponse is one SSE data event's decoded body.
type ChatStreamChunkResponse struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		Logprobs *struct {
			Content []logprobContent `json:"content"`
		} `json:"logprobs"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		InputTokens         int64 `json:"input_tokens"`
		OutputTokens        int64 `json:"output_tokens"`
		InputTokensDetails struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"input_tokens_details"`
	} `json:"usage"`
}

// ToChunk lowers one SSE event into the stream package's provider-agnostic Chunk shape.
func (c *ChatStreamChunkResponse) ToChunk() stream.Chunk {
	var out stream.Chunk
	if len(c.Choices) > 0 {
		delta := c.Choices[0].Delta
		d := stream.Delta{ContentText: delta.Content, ReasoningText: delta.ReasoningContent}
		if c.Choices[0].Logprobs != nil {
			for _, lp := range c.Choices[0].Logprobs.Content {
				v := lp.Logprob
				d.LogProbs = append(d.LogProbs, stream.TokenLogProb{Token: lp.Token, Bytes: lp.Bytes, LogProb: &v})
			}
		}
		out.Deltas = append(out.Deltas, d)
	}
	if c.Usage != nil {
		out.Usage = &stream.UsageReport{
			InputTokens:       c.Usage.InputTokens,
			OutputTokens:      c.Usage.OutputTokens,
			CachedInputTokens: c.Usage.InputTokensDetails.CachedTokens,
		}
	}
	return out
}

// errorResponse is as generic as possible since error responses are highly non-standard across
// OpenAI-compatible vendors.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (e *errorResponse) String() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return "unknown error"
}

// Client implements cgen.Provider against a chat-completions endpoint.
type Client struct {
	base  httpx.Base[*errorResponse]
	url   string
	model string
	name  string
}

// New builds a Client posting to apiBase+"/chat/completions", authenticated with apiKey.
//
// name identifies the provider in ProviderRejected errors (e.g. "openrouter", "fireworks"). wrapper
// optionally wraps the HTTP transport, the way every teacher provider constructor allows.
func New(apiBase, apiKey, model, name string, wrapper func(http.RoundTripper) http.RoundTripper) *Client {
	t := httpx.DefaultTransport
	if apiKey != "" {
		t = &roundtrippers.Header{Header: http.Header{"Authorization": {"Bearer " + apiKey}}, Transport: t}
	}
	if wrapper != nil {
		t = wrapper(t)
	}
	return &Client{
		base: httpx.Base[*errorResponse]{
			Name:       name,
			ClientJSON: httpjson.Client{Lenient: true, Client: &http.Client{Transport: t}},
		},
		url:   apiBase + "/chat/completions",
		model: model,
		name:  name,
	}
}

// Name implements cgen.Provider.
func (c *Client) Name() string { return c.name }

// Stream implements cgen.Provider: it posts the shaped request with stream:true and drives the SSE
// body through ChatStreamChunkResponse into the provider-agnostic Chunk shape.
func (c *Client) Stream(ctx context.Context, transcript cgen.Messages, shaped *shaper.ShapedRequest) (iter.Seq[stream.Chunk], func() error) {
	req := NewChatRequest(c.model, transcript, shaped)
	resp, err := c.base.ClientJSON.Request(ctx, "POST", c.url, nil, req)
	if err != nil {
		return func(func(stream.Chunk) bool) {}, func() error { return fmt.Errorf("chatcompletions: %w", err) }
	}
	if resp.StatusCode != http.StatusOK {
		return func(func(stream.Chunk) bool) {}, func() error { return c.base.DecodeError(c.url, resp) }
	}
	raw, finish := sse.Process[ChatStreamChunkResponse](resp.Body, nil, c.base.ClientJSON.Lenient)
	chunks := func(yield func(stream.Chunk) bool) {
		defer resp.Body.Close()
		for pkt := range raw {
			if !yield(pkt.ToChunk()) {
				return
			}
		}
	}
	return chunks, finish
}

var _ cgen.Provider = (*Client)(nil)
