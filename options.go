// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cgen

import (
	"errors"

	"github.com/ridgeway-oss/cgen/capability"
	"github.com/ridgeway-oss/cgen/shaper"
)

// ProviderOptions configures how Generate reaches a provider and what it may assume about the target
// model. APIBase/APIKey/Model are taken explicitly rather than read from an environment variable, so
// callers stay in control of which account a grammar-constrained call bills against.
type ProviderOptions struct {
	APIBase string
	APIKey  string
	Model   string

	// Routing constrains/orders candidate upstream providers, as OpenRouter's "provider" routing object
	// does. Zero value lets the capability resolver pick freely.
	Routing capability.ProviderRoutingDirective

	// DefaultReasoningEffort is used when a generate call doesn't request one explicitly and the model
	// supports a reasoning-effort parameter.
	DefaultReasoningEffort string

	// Sampling carries the generation knobs whose support varies per model; unsupported ones are
	// dropped silently by the capability-aware shaper rather than rejected.
	Sampling shaper.SamplingParams

	// Tools are ordinary tool definitions attached alongside the grammar constraint; Generate refuses
	// to attach them unless the resolved routing/model declares tool support.
	Tools []ToolDef
}

// Validate ensures the minimum fields required to reach a provider are present.
func (o ProviderOptions) Validate() error {
	var errs []error
	if o.APIBase == "" {
		errs = append(errs, errors.New("field APIBase is required"))
	}
	if o.Model == "" {
		errs = append(errs, errors.New("field Model is required"))
	}
	return errors.Join(errs...)
}
