// Copyright 2025 The Project Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/ridgeway-oss/cgen/shaper"
)

// ReflectedToJSON must be a pointer to a struct that can be serialized as a JSON schema: the argument
// shape a tool expects to receive, described to the provider alongside the grammar constraint.
type ReflectedToJSON any

// ToolDef describes an ordinary tool the model may be offered alongside the grammar constraint.
// Calling the tool (decoding arguments, invoking a callback) is the caller's concern; this adapter
// only negotiates whether the tool can be attached at all and reflects its argument schema.
type ToolDef struct {
	// Name must be unique among all tools attached to one generate call.
	Name string
	// Description must be a model-friendly short description of the tool.
	Description string
	// InputsAs enforces a tool call with a specific JSON structure for arguments.
	InputsAs ReflectedToJSON
}

// Validate ensures the tool definition is well-formed.
func (t ToolDef) Validate() error {
	if t.Name == "" {
		return errors.New("field Name: required")
	}
	if t.Description == "" {
		return errors.New("field Description: required")
	}
	if t.InputsAs != nil {
		if err := validateReflectedToJSON(t.InputsAs); err != nil {
			return fmt.Errorf("field InputsAs: %w", err)
		}
	}
	return nil
}

func validateReflectedToJSON(r ReflectedToJSON) error {
	tp := reflect.TypeOf(r)
	if tp.Kind() == reflect.Ptr {
		tp = tp.Elem()
	}
	if tp.Kind() != reflect.Struct {
		return fmt.Errorf("must be a struct, not %T", r)
	}
	return nil
}

// toSpec reflects t.InputsAs into a JSON schema and lowers t into the shaper package's
// variant-agnostic ToolSpec, which carries no dependency on the schema-reflection library.
func (t ToolDef) toSpec() (shaper.ToolSpec, error) {
	spec := shaper.ToolSpec{Name: t.Name, Description: t.Description}
	if t.InputsAs == nil {
		return spec, nil
	}
	tp := reflect.TypeOf(t.InputsAs)
	if tp.Kind() == reflect.Ptr {
		tp = tp.Elem()
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	schema := r.ReflectFromType(tp)
	raw, err := json.Marshal(schema)
	if err != nil {
		return shaper.ToolSpec{}, fmt.Errorf("tool %q: reflecting input schema: %w", t.Name, err)
	}
	spec.Schema = raw
	return spec, nil
}

// toolSpecs validates and reflects every tool in tools, in order.
func toolSpecs(tools []ToolDef) ([]shaper.ToolSpec, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	specs := make([]shaper.ToolSpec, 0, len(tools))
	for i := range tools {
		if err := tools[i].Validate(); err != nil {
			return nil, fmt.Errorf("tool %d: %w", i, err)
		}
		spec, err := tools[i].toSpec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
