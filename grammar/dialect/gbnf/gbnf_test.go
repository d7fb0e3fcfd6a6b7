// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gbnf

import (
	"strings"
	"testing"

	"github.com/ridgeway-oss/cgen/grammar"
	"github.com/ridgeway-oss/cgen/grammar/dialect"
)

func TestSerialize_Regex(t *testing.T) {
	out, err := Serialize(grammar.NewRegex("[a-z]+"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[a-z]+") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.HasPrefix(out, "root ::=") {
		t.Errorf("expected an explicit root rule, got: %s", out)
	}
}

func TestSerialize_BoundedRepeatRejectsWideWindow(t *testing.T) {
	_, err := Serialize(grammar.BoundedRepeat(grammar.Literal{Value: "a"}, 0, 20))
	if _, ok := err.(*dialect.UnsupportedFeatureError); !ok {
		t.Fatalf("expected *dialect.UnsupportedFeatureError, got %T: %v", err, err)
	}
}

func TestSerialize_NegatedClassRejected(t *testing.T) {
	_, err := Serialize(grammar.NewRegex("[^a]"))
	if _, ok := err.(*dialect.UnsupportedFeatureError); !ok {
		t.Fatalf("expected *dialect.UnsupportedFeatureError, got %T: %v", err, err)
	}
}
