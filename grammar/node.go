// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package grammar defines the node tree describing a constraint on generated text, shared by every
// wire-dialect translator and by local re-validation of streamed output.
package grammar

import "fmt"

// Node is the sum type every grammar tree is built from. It is implemented by Literal, Regex, Join,
// Select, Repeat, RuleRef, and Rule.
type Node interface {
	isNode()
}

// Literal is a fixed string the generated text must match exactly.
type Literal struct {
	Value string
}

func (Literal) isNode() {}

// Regex is a regular expression fragment. A nil Pattern is the unconstrained-generation sentinel: no
// constraint is applied and the provider is free to generate anything.
type Regex struct {
	Pattern *string
}

func (Regex) isNode() {}

// NewRegex returns a Regex node constraining generation to pattern.
func NewRegex(pattern string) Regex {
	return Regex{Pattern: &pattern}
}

// Unconstrained returns the Regex sentinel node representing free-form generation.
func Unconstrained() Regex {
	return Regex{}
}

// Join is an ordered sequence: every child must match, back to back.
type Join struct {
	Children []Node
}

func (Join) isNode() {}

// Select is an ordered choice: the first alternative that matches wins.
type Select struct {
	Alternatives []Node
}

func (Select) isNode() {}

// Repeat matches Child between Min and Max times (Max nil means unbounded).
type Repeat struct {
	Child Node
	Min   int
	Max   *int // nil means unbounded
}

func (Repeat) isNode() {}

// BoundedRepeat returns a Repeat node with an explicit upper bound.
func BoundedRepeat(child Node, min, max int) Repeat {
	m := max
	return Repeat{Child: child, Min: min, Max: &m}
}

// UnboundedRepeat returns a Repeat node with min occurrences and no upper bound.
func UnboundedRepeat(child Node, min int) Repeat {
	return Repeat{Child: child, Min: min}
}

// RuleRef references a named Rule elsewhere in the tree, enabling cyclic grammars.
type RuleRef struct {
	Target *Rule
}

func (RuleRef) isNode() {}

// Rule names a subtree and carries per-rule generation controls: an optional named capture, whether
// repeated matches append to a list-valued capture, a client-side stop regex, a literal suffix appended
// after the stop match, and sampling overrides.
type Rule struct {
	Name        string
	Value       Node
	Capture     *string
	ListAppend  bool
	Stop        Node // nil if no client-side stop regex
	StopCapture *string
	Suffix      *Literal
	Temperature *float64
	MaxTokens   *int
	Lazy        bool
}

func (*Rule) isNode() {}

// CaptureName returns the rule's capture name, or "" if the rule does not capture.
func (r *Rule) CaptureName() string {
	if r == nil || r.Capture == nil {
		return ""
	}
	return *r.Capture
}

// String renders a compact debug form of a node, useful in error messages.
func String(n Node) string {
	switch v := n.(type) {
	case Literal:
		return fmt.Sprintf("Literal(%q)", v.Value)
	case Regex:
		if v.Pattern == nil {
			return "Regex(*)"
		}
		return fmt.Sprintf("Regex(%q)", *v.Pattern)
	case Join:
		return fmt.Sprintf("Join(%d children)", len(v.Children))
	case Select:
		return fmt.Sprintf("Select(%d alternatives)", len(v.Alternatives))
	case Repeat:
		if v.Max == nil {
			return fmt.Sprintf("Repeat(min=%d, max=∞)", v.Min)
		}
		return fmt.Sprintf("Repeat(min=%d, max=%d)", v.Min, *v.Max)
	case RuleRef:
		if v.Target == nil {
			return "RuleRef(<nil>)"
		}
		return fmt.Sprintf("RuleRef(%s)", v.Target.Name)
	case *Rule:
		return fmt.Sprintf("Rule(%s)", v.Name)
	default:
		return fmt.Sprintf("%T", n)
	}
}
