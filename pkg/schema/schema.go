// Package schema validates structured planner/judge output against a
// JSON Schema document, feeding the Iterative Agent Controller's
// VALIDATING state (spec.md §4.6). Grounded on re-cinq-wave's
// internal/contract/jsonschema.go compile-then-validate shape, trimmed
// to the part this module needs: compiling one schema document and
// validating one decoded JSON value against it, without wave's file-path
// loading, error-wrapper detection, or JSON-recovery machinery (out of
// scope here — planner output arrives already decoded, not read off
// disk).
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles one JSON Schema document and validates arbitrary
// decoded values against it.
type Validator struct {
	compiled *jsonschema.Schema
}

// Compile parses schemaJSON (a JSON Schema document) and compiles it.
func Compile(schemaJSON []byte) (*Validator, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse schema document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceURL = "pipelinecore://schema"
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("schema: add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compile schema: %w", err)
	}
	return &Validator{compiled: compiled}, nil
}

// ValidationError aggregates every structural error jsonschema reports
// for one Validate call, so the controller can fold all of them into a
// single SCHEMA_INVALID feedback entry rather than one per field.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("%d schema violations (first: %s)", len(e.Errors), e.Errors[0])
}

// Validate checks instance (already decoded into Go values via
// encoding/json, e.g. from json.Unmarshal into `any`) against the
// compiled schema. A nil error means conformant; a non-nil error is
// always *ValidationError.
func (v *Validator) Validate(instance any) error {
	if err := v.compiled.Validate(instance); err != nil {
		return &ValidationError{Errors: flattenValidationError(err)}
	}
	return nil
}

// ValidateJSON is a convenience wrapper for raw JSON bytes.
func (v *Validator) ValidateJSON(raw []byte) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return &ValidationError{Errors: []string{fmt.Sprintf("invalid JSON: %s", err)}}
	}
	return v.Validate(instance)
}

// flattenValidationError splits jsonschema's multi-line Error() string
// (one line per failing subschema) into separate detail messages,
// matching re-cinq-wave's extractSchemaValidationDetails rather than
// reaching into jsonschema.ValidationError's internal Causes tree.
func flattenValidationError(err error) []string {
	lines := strings.Split(err.Error(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = []string{err.Error()}
	}
	return out
}
