// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regexcompile compiles a restricted subset of regular expressions into a GBNF expression
// fragment, since GBNF has no native regex syntax. It walks the parsed syntax.Regexp tree produced by
// regexp/syntax rather than interpreting the pattern text directly.
package regexcompile

import (
	"fmt"
	"regexp/syntax"
	"strings"
)

// MaxRepeatWidth bounds a {n,m} quantifier's (m-n) before it is rejected.
const MaxRepeatWidth = 16

// UnsupportedError reports a regex construct regexcompile cannot lower to GBNF.
type UnsupportedError struct {
	Detail string
}

func (e *UnsupportedError) Error() string { return "gbnf regex compiler: " + e.Detail }

// Compile lowers pattern into a GBNF expression fragment (a sequence of GBNF atoms/operators, not a
// named rule definition).
func Compile(pattern string) (string, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", &UnsupportedError{Detail: fmt.Sprintf("invalid regex: %v", err)}
	}
	return compileNode(re)
}

func compileNode(re *syntax.Regexp) (string, error) {
	switch re.Op {
	case syntax.OpLiteral:
		var sb strings.Builder
		for _, r := range re.Rune {
			sb.WriteString(jsonChar(r))
		}
		return sb.String(), nil
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return `[\x00-\x7F]`, nil
	case syntax.OpCharClass:
		return compileCharClass(re.Rune)
	case syntax.OpCapture:
		if len(re.Sub) != 1 {
			return "", &UnsupportedError{Detail: "empty capture group"}
		}
		inner, err := compileNode(re.Sub[0])
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case syntax.OpConcat:
		parts := make([]string, 0, len(re.Sub))
		for _, sub := range re.Sub {
			part, err := compileNode(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return strings.Join(parts, " "), nil
	case syntax.OpAlternate:
		parts := make([]string, 0, len(re.Sub))
		for _, sub := range re.Sub {
			part, err := compileNode(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return "(" + strings.Join(parts, " | ") + ")", nil
	case syntax.OpStar:
		inner, err := compileSubAsAtom(re)
		if err != nil {
			return "", err
		}
		return inner + "*", nil
	case syntax.OpPlus:
		inner, err := compileSubAsAtom(re)
		if err != nil {
			return "", err
		}
		return inner + "+", nil
	case syntax.OpQuest:
		inner, err := compileSubAsAtom(re)
		if err != nil {
			return "", err
		}
		return inner + "?", nil
	case syntax.OpRepeat:
		inner, err := compileSubAsAtom(re)
		if err != nil {
			return "", err
		}
		return compileRepeat(inner, re.Min, re.Max)
	case syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText, syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		// Anchors are no-ops: GBNF matching is always anchored to the full captured span.
		return "", nil
	case syntax.OpEmptyMatch:
		return `""`, nil
	default:
		return "", &UnsupportedError{Detail: fmt.Sprintf("unsupported construct %v", re.Op)}
	}
}

func compileSubAsAtom(re *syntax.Regexp) (string, error) {
	if len(re.Sub) != 1 {
		return "", &UnsupportedError{Detail: "malformed quantifier"}
	}
	inner, err := compileNode(re.Sub[0])
	if err != nil {
		return "", err
	}
	switch re.Sub[0].Op {
	case syntax.OpLiteral:
		if utf8RuneCount(re.Sub[0].Rune) == 1 {
			return inner, nil
		}
		return "(" + inner + ")", nil
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL, syntax.OpCapture:
		return inner, nil
	default:
		return "(" + inner + ")", nil
	}
}

func utf8RuneCount(runes []rune) int { return len(runes) }

func compileRepeat(inner string, min, max int) (string, error) {
	if max == -1 {
		return fmt.Sprintf("%s %s*", repeatCopies(inner, min), inner), nil
	}
	if max-min > MaxRepeatWidth {
		return "", &UnsupportedError{Detail: fmt.Sprintf("repeat width %d exceeds %d", max-min, MaxRepeatWidth)}
	}
	if min == max {
		return repeatCopies(inner, min), nil
	}
	alts := make([]string, 0, max-min+1)
	for n := min; n <= max; n++ {
		alts = append(alts, repeatCopies(inner, n))
	}
	return "(" + strings.Join(alts, " | ") + ")", nil
}

func repeatCopies(inner string, n int) string {
	if n == 0 {
		return `""`
	}
	copies := make([]string, n)
	for i := range copies {
		copies[i] = inner
	}
	return strings.Join(copies, " ")
}

// compileCharClass lowers a regexp/syntax character-class rune pair list (alternating lo,hi bounds)
// into a GBNF [...] class. Negated classes (those covering nearly the full rune space after
// regexp/syntax's negation-expansion) are rejected: GBNF has no negated-class syntax this compiler
// targets.
func compileCharClass(ranges []rune) (string, error) {
	if looksNegated(ranges) {
		return "", &UnsupportedError{Detail: "negated character classes are not supported"}
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		if lo == hi {
			sb.WriteString(escapeClassChar(lo))
		} else {
			sb.WriteString(escapeClassChar(lo))
			sb.WriteByte('-')
			sb.WriteString(escapeClassChar(hi))
		}
	}
	sb.WriteByte(']')
	return sb.String(), nil
}

// looksNegated detects the huge trailing range regexp/syntax produces when a class like [^a] is
// parsed (it expands to the complement, e.g. up to \x{10FFFF}).
func looksNegated(ranges []rune) bool {
	for i := 0; i+1 < len(ranges); i += 2 {
		if ranges[i+1] >= 0x10000 {
			return true
		}
	}
	return false
}

func escapeClassChar(r rune) string {
	switch r {
	case '\\', ']', '^', '-':
		return "\\" + string(r)
	case '\n':
		return "\\n"
	case '\t':
		return "\\t"
	case '\r':
		return "\\r"
	default:
		return string(r)
	}
}

func jsonChar(r rune) string {
	var escaped string
	switch r {
	case '"', '\\':
		escaped = "\\" + string(r)
	case '\n':
		escaped = "\\n"
	case '\t':
		escaped = "\\t"
	case '\r':
		escaped = "\\r"
	default:
		escaped = string(r)
	}
	return "\"" + escaped + "\""
}
