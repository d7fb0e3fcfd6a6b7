// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stopmatch

import "testing"

func TestFeed_NoMatchHoldsBackTrailingWindow(t *testing.T) {
	m, err := New("STOP")
	if err != nil {
		t.Fatal(err)
	}
	// "STOP" has a fixed width of 4, so the trailing 3 bytes are always held back in case they are the
	// start of a future match; the rest is released immediately.
	u := m.Feed("hello world")
	if u.Matched {
		t.Fatal("did not expect a match")
	}
	if u.EmitText != "hello wo" {
		t.Errorf("got %q", u.EmitText)
	}
	u = m.Finish()
	if u.EmitText != "rld" {
		t.Errorf("got %q", u.EmitText)
	}
}

func TestFeed_MatchWithinOneChunk(t *testing.T) {
	m, err := New("STOP")
	if err != nil {
		t.Fatal(err)
	}
	u := m.Feed("helloSTOPworld")
	if !u.Matched {
		t.Fatal("expected a match")
	}
	if u.EmitText != "hello" {
		t.Errorf("got emit %q", u.EmitText)
	}
	if u.StopText != "STOP" {
		t.Errorf("got stop text %q", u.StopText)
	}
}

func TestFeed_MatchStraddlingChunkBoundary(t *testing.T) {
	m, err := New("STOP")
	if err != nil {
		t.Fatal(err)
	}
	u1 := m.Feed("helloST")
	if u1.Matched {
		t.Fatal("should not match yet")
	}
	// The matcher holds back the trailing (width-1) bytes of the buffer since a match could still be
	// forming there; "STOP" has a fixed width of 4, so only the first 4 bytes of "helloST" (len 7) are
	// provably safe.
	if u1.EmitText != "hell" {
		t.Errorf("got emit %q, expected held-back partial match", u1.EmitText)
	}
	u2 := m.Feed("OPworld")
	if !u2.Matched {
		t.Fatal("expected a match after the rest of the pattern arrives")
	}
	if u2.StopText != "STOP" {
		t.Errorf("got stop text %q", u2.StopText)
	}
}

func TestFinish_ReleasesHeldBackText(t *testing.T) {
	m, err := New("STOP")
	if err != nil {
		t.Fatal(err)
	}
	m.Feed("helloST")
	u := m.Finish()
	if u.Matched {
		t.Fatal("did not expect a match")
	}
	if u.EmitText != "oST" {
		t.Errorf("got %q", u.EmitText)
	}
}

func TestFeed_UnboundedPatternHoldsEverythingBack(t *testing.T) {
	m, err := New("a+STOP")
	if err != nil {
		t.Fatal(err)
	}
	u := m.Feed("aaaaaa")
	if u.EmitText != "" {
		t.Errorf("expected nothing emitted yet for an unbounded-width pattern, got %q", u.EmitText)
	}
	u = m.Finish()
	if u.EmitText != "aaaaaa" {
		t.Errorf("got %q", u.EmitText)
	}
}

func TestFeed_AfterMatchIsIdempotent(t *testing.T) {
	m, err := New("STOP")
	if err != nil {
		t.Fatal(err)
	}
	m.Feed("xSTOPy")
	u := m.Feed("more text")
	if !u.Matched || u.StopText != "STOP" {
		t.Fatalf("expected stable matched state, got %+v", u)
	}
	if u.EmitText != "" {
		t.Errorf("expected no further emission once matched, got %q", u.EmitText)
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	if _, err := New("("); err == nil {
		t.Fatal("expected an error for an unparsable pattern")
	}
}
