// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ridgeway-oss/cgen/grammar/dialect"
	"github.com/ridgeway-oss/cgen/stream"
)

// UnsupportedFeature is returned synchronously, before any HTTP call, when the grammar a caller
// supplied cannot be represented in the dialect the target model/routing resolved to.
type UnsupportedFeature = dialect.UnsupportedFeatureError

// ValidationFailed is returned by a Generate call's finish function when the provider's generated
// text does not conform to the grammar under local re-validation.
type ValidationFailed = stream.ValidationFailedError

// ProviderRejected wraps a provider's structured error response when it both carries grammar/schema
// context and signals the constraint itself was the problem, rather than an ordinary request failure.
type ProviderRejected struct {
	// Provider is the routing name of the provider that rejected the request.
	Provider string
	// Message is the provider's own error message, verbatim.
	Message string
}

func (e *ProviderRejected) Error() string {
	return fmt.Sprintf("provider %s rejected the grammar-constrained request: %s", e.Provider, e.Message)
}

// grammarContextMarkers and unsupportedMarkers are the case-insensitive substrings ProviderRejected
// looks for in a provider's error body. Both categories must be present; an error that only trips one
// (e.g. a plain "invalid request" with no grammar/schema context) is not a grammar rejection, and
// Generate returns it unchanged.
var grammarContextMarkers = []string{"grammar", "response_format", "json_schema", "guided_", "regex"}
var unsupportedMarkers = []string{"unsupported", "not supported", "invalid", "not allowed"}

// IsProviderGrammarRejection reports whether msg, a provider's structured error message, indicates it
// rejected the request specifically because of the grammar constraint rather than for an unrelated
// reason.
func IsProviderGrammarRejection(msg string) bool {
	lower := strings.ToLower(msg)
	sawContext := false
	for _, m := range grammarContextMarkers {
		if strings.Contains(lower, m) {
			sawContext = true
			break
		}
	}
	if !sawContext {
		return false
	}
	for _, m := range unsupportedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// RequestMisuse reports a caller error caught before any network call: a malformed transcript, an
// invalid ProviderOptions or tool definition, a nil Provider, or a missing grammar root rule.
type RequestMisuse struct {
	Reason string
}

func (e *RequestMisuse) Error() string { return "request misuse: " + e.Reason }

// NewRequestMisuse wraps err, if non-nil, as a *RequestMisuse.
func NewRequestMisuse(err error) error {
	if err == nil {
		return nil
	}
	return &RequestMisuse{Reason: err.Error()}
}

var errNilProvider = errors.New("cgen: Provider must not be nil")
