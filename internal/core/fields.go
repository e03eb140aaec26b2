package core

// fields.go is the closed registry of import/export target fields.
//
// Every mapped column must resolve to a field listed here (or to a
// "custom:<name>" pass-through for dynamically-typed custom fields).
// Unknown targets are rejected at mapping-resolution time rather than
// silently ignored. The registry also carries the per-field accessors the
// import executor, export executor and bulk mutations share.

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType selects the format check applied by the validation engine.
type FieldType int

const (
	FieldText FieldType = iota
	FieldTaxID
	FieldBusinessID
	FieldEmail
	FieldPostal
	FieldStatus
	FieldCustom
)

// FieldSpec describes one recognized target field.
type FieldSpec struct {
	Name string
	Type FieldType
	Get  func(*Client) string
	Set  func(*Client, string) error
}

// CustomFieldPrefix marks a pass-through target for custom fields, e.g.
// "custom:segment".
const CustomFieldPrefix = "custom:"

var fieldRegistry = map[string]FieldSpec{
	"name": {Name: "name", Type: FieldText,
		Get: func(c *Client) string { return c.Name },
		Set: func(c *Client, v string) error { c.Name = v; return nil }},
	"taxId": {Name: "taxId", Type: FieldTaxID,
		Get: func(c *Client) string { return c.TaxID },
		Set: func(c *Client, v string) error { c.TaxID = v; return nil }},
	"businessId": {Name: "businessId", Type: FieldBusinessID,
		Get: func(c *Client) string { return c.BusinessID },
		Set: func(c *Client, v string) error { c.BusinessID = v; return nil }},
	"email": {Name: "email", Type: FieldEmail,
		Get: func(c *Client) string { return c.Email },
		Set: func(c *Client, v string) error { c.Email = v; return nil }},
	"phone": {Name: "phone", Type: FieldText,
		Get: func(c *Client) string { return c.Phone },
		Set: func(c *Client, v string) error { c.Phone = v; return nil }},
	"street": {Name: "street", Type: FieldText,
		Get: func(c *Client) string { return c.Street },
		Set: func(c *Client, v string) error { c.Street = v; return nil }},
	"city": {Name: "city", Type: FieldText,
		Get: func(c *Client) string { return c.City },
		Set: func(c *Client, v string) error { c.City = v; return nil }},
	"postalCode": {Name: "postalCode", Type: FieldPostal,
		Get: func(c *Client) string { return c.PostalCode },
		Set: func(c *Client, v string) error { c.PostalCode = v; return nil }},
	"status": {Name: "status", Type: FieldStatus,
		Get: func(c *Client) string { return string(c.Status) },
		Set: func(c *Client, v string) error {
			if v == "" {
				return nil
			}
			st := ClientStatus(strings.ToUpper(v))
			if !ValidClientStatus(st) {
				return fmt.Errorf("invalid status %q", v)
			}
			c.Status = st
			return nil
		}},
	"managerId": {Name: "managerId", Type: FieldText,
		Get: func(c *Client) string { return c.ManagerID },
		Set: func(c *Client, v string) error { c.ManagerID = v; return nil }},
	"notes": {Name: "notes", Type: FieldText,
		Get: func(c *Client) string { return c.Custom["notes"] },
		Set: func(c *Client, v string) error { setCustom(c, "notes", v); return nil }},
}

// tagsField is addressable by mutations and exports but is not an import
// mapping target; tag assignment belongs to the tagging subsystem.
var tagsField = FieldSpec{Name: "tags", Type: FieldText,
	Get: func(c *Client) string { return strings.Join(c.Tags, ",") },
	Set: func(c *Client, v string) error {
		if v == "" {
			c.Tags = nil
			return nil
		}
		c.Tags = strings.Split(v, ",")
		return nil
	}}

func setCustom(c *Client, key, v string) {
	if c.Custom == nil {
		c.Custom = make(map[string]string)
	}
	c.Custom[key] = v
}

// LookupField resolves a target field name. Custom fields are addressed
// with the "custom:" prefix and always resolve as pass-through text.
func LookupField(name string) (FieldSpec, bool) {
	if strings.HasPrefix(name, CustomFieldPrefix) {
		key := strings.TrimPrefix(name, CustomFieldPrefix)
		if key == "" {
			return FieldSpec{}, false
		}
		return FieldSpec{
			Name: name,
			Type: FieldCustom,
			Get:  func(c *Client) string { return c.Custom[key] },
			Set:  func(c *Client, v string) error { setCustom(c, key, v); return nil },
		}, true
	}
	if name == tagsField.Name {
		return tagsField, true
	}
	spec, ok := fieldRegistry[name]
	return spec, ok
}

// TargetFields returns the importable field names in stable order.
func TargetFields() []string {
	names := make([]string, 0, len(fieldRegistry))
	for name := range fieldRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
