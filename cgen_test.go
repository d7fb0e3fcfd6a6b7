// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cgen

import "testing"

func TestRole_Validate(t *testing.T) {
	if err := User.Validate(); err != nil {
		t.Errorf("User should be valid: %v", err)
	}
	if err := Role("system").Validate(); err == nil {
		t.Error("expected an error for an unsupported role")
	}
}

func TestMessage_Validate(t *testing.T) {
	m := NewTextMessage(User, "hello")
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got := m.AsText(); got != "hello" {
		t.Errorf("got %q", got)
	}
	if err := (Message{Role: User}).Validate(); err == nil {
		t.Error("expected an error for a message with no content")
	}
}

func TestMessages_Validate(t *testing.T) {
	msgs := Messages{NewTextMessage(User, "hi"), NewTextMessage(Assistant, "hello")}
	if err := msgs.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := Messages{{Role: "bogus"}}
	if err := bad.Validate(); err == nil {
		t.Error("expected an error")
	}
}

func TestRateLimit_Validate(t *testing.T) {
	ok := RateLimit{Type: Requests, Period: PerMinute, Limit: 60, Remaining: 10}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (RateLimit{Type: "bogus", Period: PerMinute, Limit: 1}).Validate(); err == nil {
		t.Error("expected an error for unknown limit type")
	}
	if err := (RateLimit{Type: Requests, Period: "bogus", Limit: 1}).Validate(); err == nil {
		t.Error("expected an error for unknown limit period")
	}
	if err := (RateLimit{Type: Requests, Period: PerMinute}).Validate(); err == nil {
		t.Error("expected an error when limit is 0")
	}
}

func TestIsProviderGrammarRejection(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"the response_format grammar field is not supported by this model", true},
		{"invalid json_schema: unsupported keyword 'minLength'", true},
		{"rate limit exceeded, try again later", false},
		{"invalid request: messages must not be empty", false},
	}
	for _, c := range cases {
		if got := IsProviderGrammarRejection(c.msg); got != c.want {
			t.Errorf("IsProviderGrammarRejection(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}
