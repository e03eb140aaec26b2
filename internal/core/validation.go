package core

// validation.go runs the pre-execution structural and duplicate checks for
// one job. It never mutates persisted state: the only side effect the
// caller performs with its output is persisting RowErrors against the job.
//
// Two reports are produced over every parsed row:
//  1. Structural/format report: required fields and per-type format checks
//     (tax identifier checksum, business-registry identifier checksum,
//     email shape, postal-code shape).
//  2. Duplicate report: within-file first-occurrence-wins scan plus a
//     lookup against the persisted store's current key set.

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	postalRe = regexp.MustCompile(`^\d{2}-\d{3}$`)
	digitsRe = regexp.MustCompile(`^\d+$`)
)

// nipWeights are applied to digits 1-9 of a tax identifier; the weighted
// sum modulo 11 must equal digit 10. A modulo result of 10 never matches.
var nipWeights = [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}

// regonWeights are applied to digits 1-8 of a 9-digit business-registry
// identifier; the weighted sum modulo 11 must equal digit 9, where a
// modulo result of 10 counts as checksum digit 0.
var regonWeights = [8]int{8, 9, 2, 3, 4, 5, 6, 7}

// ValidTaxID reports whether v is a structurally valid 10-digit tax
// identifier (NIP) including its checksum digit.
func ValidTaxID(v string) bool {
	if len(v) != 10 || !digitsRe.MatchString(v) {
		return false
	}
	sum := 0
	for i, w := range nipWeights {
		sum += w * int(v[i]-'0')
	}
	return sum%11 == int(v[9]-'0')
}

// ValidBusinessID reports whether v is a valid business-registry
// identifier (REGON): 9 digits with checksum, or 14 digits. The registry
// defines no 14-digit checksum, so 14-digit values are checked for shape
// only.
func ValidBusinessID(v string) bool {
	if !digitsRe.MatchString(v) {
		return false
	}
	switch len(v) {
	case 9:
		sum := 0
		for i, w := range regonWeights {
			sum += w * int(v[i]-'0')
		}
		check := sum % 11
		if check == 10 {
			check = 0
		}
		return check == int(v[8]-'0')
	case 14:
		return true
	}
	return false
}

// Validator runs the validation engine for one job's rows.
type Validator struct {
	resolver *Resolver
	// duplicateKey is the target field used for duplicate detection,
	// e.g. "taxId". Empty disables the duplicate report.
	duplicateKey string
	// existingKeys is the persisted store's current key set for the
	// duplicate key field, built once per job.
	existingKeys map[string]string
}

// NewValidator builds a validator over a resolved mapping. existingKeys
// maps persisted key values to record ids.
func NewValidator(resolver *Resolver, duplicateKey string, existingKeys map[string]string) *Validator {
	return &Validator{
		resolver:     resolver,
		duplicateKey: duplicateKey,
		existingKeys: existingKeys,
	}
}

// Validate checks every row and assembles the report. jobID is stamped
// onto each RowError so the errors can be persisted against the job.
func (v *Validator) Validate(jobID string, rows []Row) ValidationReport {
	report := ValidationReport{TotalRecords: len(rows)}
	seenKeys := make(map[string]bool)

	for _, row := range rows {
		resolved := v.resolver.Resolve(row)
		rowErrs := v.validateRow(jobID, row, resolved)
		report.Errors = append(report.Errors, rowErrs...)
		if len(rowErrs) == 0 {
			report.ValidRecords++
		}

		if v.duplicateKey == "" {
			continue
		}
		key := resolved[v.duplicateKey]
		if key == "" {
			continue
		}
		hit := DuplicateHit{RowNumber: row.Number, Key: key}
		if seenKeys[key] {
			hit.ExistsInFile = true
		}
		seenKeys[key] = true
		if _, ok := v.existingKeys[key]; ok {
			hit.ExistsInDB = true
		}
		if hit.ExistsInFile || hit.ExistsInDB {
			report.Duplicates = append(report.Duplicates, hit)
		}
	}

	report.IsValid = len(report.Errors) == 0
	return report
}

func (v *Validator) validateRow(jobID string, row Row, resolved map[string]string) []RowError {
	var errs []RowError

	for _, field := range v.resolver.RequiredFields() {
		if strings.TrimSpace(resolved[field]) == "" {
			errs = append(errs, RowError{
				JobID:     jobID,
				RowNumber: row.Number,
				Field:     field,
				Kind:      ErrKindRequired,
				Message:   fmt.Sprintf("required field %s is empty", field),
			})
		}
	}

	for field, value := range resolved {
		if value == "" {
			continue
		}
		spec, ok := v.resolver.Spec(field)
		if !ok {
			continue
		}
		if msg := formatError(spec.Type, value); msg != "" {
			errs = append(errs, RowError{
				JobID:     jobID,
				RowNumber: row.Number,
				Field:     field,
				Kind:      ErrKindInvalidFormat,
				Message:   msg,
				RawValue:  value,
			})
		}
	}

	return errs
}

func formatError(t FieldType, value string) string {
	switch t {
	case FieldTaxID:
		if !ValidTaxID(value) {
			return "invalid tax identifier"
		}
	case FieldBusinessID:
		if !ValidBusinessID(value) {
			return "invalid business-registry identifier"
		}
	case FieldEmail:
		if !emailRe.MatchString(value) {
			return "invalid email address"
		}
	case FieldPostal:
		if !postalRe.MatchString(value) {
			return "invalid postal code, expected DD-DDD"
		}
	case FieldStatus:
		if !ValidClientStatus(ClientStatus(strings.ToUpper(value))) {
			return "invalid status value"
		}
	}
	return ""
}
