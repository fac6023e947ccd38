// Package entry provides per-entity transformers that reshape a merged
// source-schema payload into one or more canonical target records.
//
// Transformers are pure: no I/O and no shared state, so a single instance can
// serve concurrent pipelines.
package entry

import (
	"fmt"
	"maps"
)

// Record is a single canonical (or raw) row payload.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// Entity is a named record produced by a Transformer, e.g. "user" or
// "login_information".
type Entity struct {
	Name   string
	Record Record
}

// Transformer converts one merged payload into canonical entities. The first
// returned entity is the primary one and is named Name().
type Transformer interface {
	Name() string
	Transform(payload Record) ([]Entity, error)
}

// ValidationError reports a required field that is missing or malformed
// after merge/transform.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: field %q %s", e.Entity, e.Field, e.Reason)
}

func missing(entity, field string) error {
	return &ValidationError{Entity: entity, Field: field, Reason: "is required"}
}

func malformed(entity, field string, v any) error {
	return &ValidationError{Entity: entity, Field: field, Reason: fmt.Sprintf("is malformed (%T)", v)}
}
