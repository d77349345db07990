// Package validation evaluates template field rules against raw spreadsheet cell values.
// Evaluation is pure: a Verdict depends only on the value and the rule.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind names the value type a field rule expects.
type Kind string

const (
	KindText       Kind = "TEXT"
	KindInteger    Kind = "INTEGER"
	KindFloat      Kind = "FLOAT"
	KindNumber     Kind = "NUMBER"
	KindDate       Kind = "DATE"
	KindDateTime   Kind = "DATETIME"
	KindBoolean    Kind = "BOOLEAN"
	KindEmail      Kind = "EMAIL"
	KindPhone      Kind = "PHONE"
	KindIDCard     Kind = "ID_CARD"
	KindEmployeeID Kind = "EMPLOYEE_ID"
)

var aliases = map[string]Kind{
	"ID":     KindEmployeeID,
	"EMP_ID": KindEmployeeID,
}

// Normalize returns the canonical kind for k, resolving case and legacy aliases.
func (k Kind) Normalize() Kind {
	upper := strings.ToUpper(strings.TrimSpace(string(k)))
	if alias, ok := aliases[upper]; ok {
		return alias
	}
	return Kind(upper)
}

// Known reports whether k (after normalization) is a supported kind.
func (k Kind) Known() bool {
	switch k.Normalize() {
	case KindText, KindInteger, KindFloat, KindNumber,
		KindDate, KindDateTime, KindBoolean,
		KindEmail, KindPhone, KindIDCard, KindEmployeeID:
		return true
	}
	return false
}

// Rule is the declared constraint set for one template field.
// Nil bounds are unconstrained.
type Rule struct {
	Kind      Kind     `json:"kind"`
	Required  bool     `json:"required,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Options   []string `json:"options,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

// Check reports whether the rule definition itself is usable.
// Errors wrap ErrInvalidRule.
func (r Rule) Check() error {
	if !r.Kind.Known() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	if r.MinLength != nil && r.MaxLength != nil && *r.MinLength > *r.MaxLength {
		return fmt.Errorf("%w: min_length %d exceeds max_length %d", ErrInvalidRule, *r.MinLength, *r.MaxLength)
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("%w: min %v exceeds max %v", ErrInvalidRule, *r.Min, *r.Max)
	}
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("%w: pattern: %v", ErrInvalidRule, err)
		}
	}
	return nil
}
