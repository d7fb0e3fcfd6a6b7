// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cgen is a constrained-generation adapter for chat-style LLM providers: it translates a
// grammar node tree into a provider's wire dialect, resolves per-model/per-provider capabilities,
// shapes outgoing requests around what the target actually supports, and turns the provider's raw
// stream into a validated sequence of StreamEvent values.
//
// Check out the providers/chatcompletions and providers/responses packages for the two supported
// wire variants.
package cgen

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the speaker of a Message. This adapter only ever needs the two roles that appear on either
// side of a grammar-constrained exchange.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

// Validate ensures the role is one this adapter understands.
func (r Role) Validate() error {
	switch r {
	case User, Assistant:
		return nil
	default:
		return fmt.Errorf("role %q is not supported", r)
	}
}

// Content is a single block of message content. Only Text is populated; this adapter does not carry
// multi-modal content, tool calls, or reasoning continuity blocks through the transcript it owns — a
// caller that needs those keeps them in its own externally-owned transcript type and only ever hands
// this package plain text turns.
type Content struct {
	Text string
}

// Message is one turn in the transcript handed to Generate.
type Message struct {
	Role     Role
	Contents []Content
}

// NewTextMessage is a shorthand to build a single-block text Message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Contents: []Content{{Text: text}}}
}

// AsText joins the message's text blocks, one per line.
func (m Message) AsText() string {
	parts := make([]string, 0, len(m.Contents))
	for _, c := range m.Contents {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Validate ensures the message is well-formed.
func (m Message) Validate() error {
	var errs []error
	if err := m.Role.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("field Role: %w", err))
	}
	if len(m.Contents) == 0 {
		errs = append(errs, errors.New("at least one content block is required"))
	}
	return errors.Join(errs...)
}

// Messages is the transcript sent to Generate.
type Messages []Message

// Validate ensures every message in the transcript is well-formed.
func (m Messages) Validate() error {
	var errs []error
	for i := range m {
		if err := m[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// RateLimitType distinguishes which quota a RateLimit entry reports on.
type RateLimitType string

const (
	Requests RateLimitType = "requests"
	Tokens   RateLimitType = "tokens"
)

// RateLimitPeriod is the window a RateLimit entry's Limit/Remaining apply over.
type RateLimitPeriod string

const (
	PerMinute RateLimitPeriod = "minute"
	PerDay    RateLimitPeriod = "day"
	PerOther  RateLimitPeriod = "other"
)

// RateLimit describes one quota a provider's response headers can disclose. The provider clients in
// this module do not parse rate-limit headers, and Usage carries no RateLimit values.
type RateLimit struct {
	Type      RateLimitType
	Period    RateLimitPeriod
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Validate ensures the rate limit entry is well-formed.
func (r RateLimit) Validate() error {
	switch r.Type {
	case Requests, Tokens:
	default:
		return fmt.Errorf("unknown limit type %q", r.Type)
	}
	switch r.Period {
	case PerMinute, PerDay, PerOther:
	default:
		return fmt.Errorf("unknown limit period %q", r.Period)
	}
	if r.Limit == 0 {
		return errors.New("limit is 0")
	}
	return nil
}
