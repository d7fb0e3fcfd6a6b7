// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package responses implements the "Responses" custom-tool grammar variant: it posts to
// "/responses" with a single `custom` tool whose format is the translated grammar, forces
// tool_choice to that tool, and extracts the generated text from the matching
// "custom_tool_call" output item. Unlike providers/chatcompletions, this upstream contract
// replies in one round trip rather than over SSE.
package responses

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"github.com/maruel/httpjson"
	"github.com/maruel/roundtrippers"

	"github.com/ridgeway-oss/cgen"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
	"github.com/ridgeway-oss/cgen/internal/httpx"
	"github.com/ridgeway-oss/cgen/shaper"
	"github.com/ridgeway-oss/cgen/stream"
)

// toolName is the fixed name of the single custom tool every request forces tool_choice to.
const toolName = "cgen_grammar"

type inputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputItem struct {
	Role    string         `json:"role"`
	Content []inputContent `json:"content"`
}

type toolFormat struct {
	Type       string `json:"type"`
	Syntax     string `json:"syntax"`
	Definition string `json:"definition"`
}

type customTool struct {
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Format      toolFormat `json:"format"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type reasoning struct {
	Effort string `json:"effort"`
}

// Request is the outgoing /responses wire body, lowered from a *shaper.ShapedRequest.
type Request struct {
	Model           string       `json:"model"`
	Input           []inputItem  `json:"input"`
	Tools           []customTool `json:"tools"`
	ToolChoice      toolChoice   `json:"tool_choice"`
	Temperature     *float64     `json:"temperature,omitempty"`
	TopP            *float64     `json:"top_p,omitempty"`
	MaxOutputTokens *int         `json:"max_output_tokens,omitempty"`
	Reasoning       *reasoning   `json:"reasoning,omitempty"`
}

// NewRequest lowers a shaped request plus the caller's transcript into the /responses wire body.
//
// Only temperature and top_p sampling are representable on this path; NewRequest does not lower
// top_k, min_p or repetition_penalty. Stream rejects a shaped request that still carries any of them.
func NewRequest(model string, transcript cgen.Messages, shaped *shaper.ShapedRequest) *Request {
	req := &Request{
		Model: model,
		Input: make([]inputItem, len(transcript)),
		Tools: []customTool{{
			Type:        "custom",
			Name:        toolName,
			Description: "constrained generation",
			Format:      toolFormat{Type: "grammar", Syntax: string(shaped.GrammarDialect), Definition: shaped.GrammarText},
		}},
		ToolChoice:      toolChoice{Type: "custom", Name: toolName},
		Temperature:     shaped.Sampling.Temperature,
		TopP:            shaped.Sampling.TopP,
		MaxOutputTokens: shaped.MaxTokens,
	}
	if shaped.ReasoningEffort != nil {
		req.Reasoning = &reasoning{Effort: *shaped.ReasoningEffort}
	}
	for i := range transcript {
		req.Input[i] = inputItem{Role: string(transcript[i].Role), Content: []inputContent{{Type: "input_text", Text: transcript[i].AsText()}}}
	}
	return req
}

type outputItem struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

// Response is the /responses wire reply.
type Response struct {
	Output []outputItem `json:"output"`
	Usage  *struct {
		InputTokens        int64 `json:"input_tokens"`
		OutputTokens       int64 `json:"output_tokens"`
		InputTokensDetails struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"input_tokens_details"`
	} `json:"usage"`
}

// generatedText extracts the matching custom_tool_call's input text, or an error if none matched.
func (r *Response) generatedText(model string) (string, error) {
	for _, item := range r.Output {
		if item.Type == "custom_tool_call" && item.Name == toolName {
			return item.Input, nil
		}
	}
	return "", fmt.Errorf("responses: model %q returned no matching custom_tool_call output", model)
}

// errorResponse is as generic as possible since error responses are highly non-standard.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *errorResponse) String() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return "unknown error"
}

// Client implements cgen.Provider against the /responses custom-tool grammar variant.
type Client struct {
	base  httpx.Base[*errorResponse]
	url   string
	model string
	name  string
}

// New builds a Client posting to apiBase+"/responses", authenticated with apiKey.
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
		url:   apiBase + "/responses",
		model: model,
		name:  name,
	}
}

// Name implements cgen.Provider.
func (c *Client) Name() string { return c.name }

// Stream implements cgen.Provider. The Responses path replies in a single round trip: Stream performs
// the POST eagerly and returns an iterator over the (at most two) resulting chunks — one carrying the
// generated text, one carrying usage — rather than reading an SSE body incrementally.
func (c *Client) Stream(ctx context.Context, transcript cgen.Messages, shaped *shaper.ShapedRequest) (iter.Seq[stream.Chunk], func() error) {
	if shaped.GrammarDialect == dialect.GBNF {
		err := cgen.NewRequestMisuse(fmt.Errorf("responses: the custom-tool grammar format only accepts %q or %q syntax, not %q", dialect.RegexFragment, dialect.Lark, dialect.GBNF))
		return func(func(stream.Chunk) bool) {}, func() error { return err }
	}
	if s := shaped.Sampling; s.TopK != nil || s.MinP != nil || s.RepetitionPenalty != nil {
		err := cgen.NewRequestMisuse(fmt.Errorf("responses: top_k, min_p and repetition_penalty are not accepted on this path"))
		return func(func(stream.Chunk) bool) {}, func() error { return err }
	}
	req := NewRequest(c.model, transcript, shaped)
	var resp Response
	if err := c.base.DoRequest(ctx, "POST", c.url, req, &resp); err != nil {
		return func(func(stream.Chunk) bool) {}, func() error { return fmt.Errorf("responses: %w", err) }
	}
	text, err := resp.generatedText(c.model)
	if err != nil {
		return func(func(stream.Chunk) bool) {}, func() error { return err }
	}
	chunks := func(yield func(stream.Chunk) bool) {
		if !yield(stream.Chunk{Deltas: []stream.Delta{{ContentText: text}}}) {
			return
		}
		if resp.Usage != nil {
			yield(stream.Chunk{Usage: &stream.UsageReport{
				InputTokens:       resp.Usage.InputTokens,
				OutputTokens:      resp.Usage.OutputTokens,
				CachedInputTokens: resp.Usage.InputTokensDetails.CachedTokens,
			}})
		}
	}
	return chunks, func() error { return nil }
}

var _ cgen.Provider = (*Client)(nil)
