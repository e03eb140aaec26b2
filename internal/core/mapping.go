package core

// mapping.go resolves raw file rows into target-field values.
//
// A mapping may come from a saved MappingTemplate, be supplied ad hoc, or
// both (ad-hoc rules override the template's per source column). Rules
// targeting fields outside the closed registry fail resolution up front,
// before any row is touched.

import (
	"fmt"
	"strings"
)

// Resolver applies a validated column mapping to parsed rows.
type Resolver struct {
	mapping ColumnMapping
	specs   map[string]FieldSpec // target field -> spec
}

// NewResolver validates the mapping against the field registry and the
// closed transform set. Returns ErrUnknownField for unrecognized targets.
func NewResolver(mapping ColumnMapping) (*Resolver, error) {
	if len(mapping) == 0 {
		return nil, fmt.Errorf("%w: empty column mapping", ErrBadRequest)
	}

	specs := make(map[string]FieldSpec, len(mapping))
	for column, rule := range mapping {
		if strings.TrimSpace(column) == "" {
			return nil, fmt.Errorf("%w: blank source column", ErrBadRequest)
		}
		spec, ok := LookupField(rule.TargetField)
		if !ok {
			return nil, fmt.Errorf("%w: %q (column %q)", ErrUnknownField, rule.TargetField, column)
		}
		if !validTransform(rule.Transform) {
			return nil, fmt.Errorf("%w: unknown transform %q (column %q)", ErrBadRequest, rule.Transform, column)
		}
		specs[rule.TargetField] = spec
	}
	return &Resolver{mapping: mapping, specs: specs}, nil
}

// MergeMapping overlays ad-hoc rules onto a template's columns. Rules for
// the same source column replace the template's rule.
func MergeMapping(template ColumnMapping, override ColumnMapping) ColumnMapping {
	if len(template) == 0 {
		return override
	}
	merged := make(ColumnMapping, len(template)+len(override))
	for col, rule := range template {
		merged[col] = rule
	}
	for col, rule := range override {
		merged[col] = rule
	}
	return merged
}

// Resolve turns one raw row into target-field values. For each mapped
// column the raw value is taken, the default substituted when the value is
// absent or empty, and the transform applied. Unmapped columns are ignored.
func (r *Resolver) Resolve(row Row) map[string]string {
	out := make(map[string]string, len(r.mapping))
	for column, rule := range r.mapping {
		value, ok := row.Fields[column]
		if !ok || strings.TrimSpace(value) == "" {
			value = rule.DefaultValue
		}
		out[rule.TargetField] = applyTransform(rule.Transform, value)
	}
	return out
}

// Spec returns the field spec for a resolved target field.
func (r *Resolver) Spec(targetField string) (FieldSpec, bool) {
	spec, ok := r.specs[targetField]
	return spec, ok
}

// RequiredFields lists target fields whose rules are flagged required.
func (r *Resolver) RequiredFields() []string {
	var required []string
	for _, rule := range r.mapping {
		if rule.Required {
			required = append(required, rule.TargetField)
		}
	}
	return required
}

func validTransform(t Transform) bool {
	switch t {
	case "", TransformNone, TransformUppercase, TransformLowercase,
		TransformTrim, TransformStripFormatting:
		return true
	}
	return false
}

func applyTransform(t Transform, value string) string {
	switch t {
	case TransformUppercase:
		return strings.ToUpper(value)
	case TransformLowercase:
		return strings.ToLower(value)
	case TransformTrim:
		return strings.TrimSpace(value)
	case TransformStripFormatting:
		return strings.Map(func(r rune) rune {
			if r == ' ' || r == '-' {
				return -1
			}
			return r
		}, value)
	default:
		return value
	}
}
