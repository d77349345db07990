package validation

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Failure reasons reported in a Verdict.
const (
	ReasonRequired    = "required"
	ReasonTooShort    = "too short"
	ReasonTooLong     = "too long"
	ReasonNotNumber   = "not a number"
	ReasonNotInteger  = "not an integer"
	ReasonBelowMin    = "below minimum"
	ReasonAboveMax    = "above maximum"
	ReasonFormat      = "format"
	ReasonInvalid     = "invalid"
	ReasonLength      = "length"
	ReasonNotOption   = "not an option"
	ReasonPattern     = "pattern"
	ReasonInvalidRule = "invalid rule"
)

// Verdict is the outcome of validating one value.
// Err is set only when the rule itself could not be evaluated.
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

func pass() Verdict {
	return Verdict{OK: true}
}

func fail(reason string) Verdict {
	return Verdict{Reason: reason}
}

var (
	emailPattern      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern      = regexp.MustCompile(`^1[3-9]\d{9}$`)
	idCard15Pattern   = regexp.MustCompile(`^\d{15}$`)
	idCard18Pattern   = regexp.MustCompile(`^\d{17}[\dXx]$`)
	employeeIDPattern = regexp.MustCompile(`^\d{10}$`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006年1月2日",
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02T15:04:05",
}

var dateTimeAccepted = slices.Concat(dateTimeLayouts, dateLayouts)

var booleanTokens = []string{
	"true", "false",
	"yes", "no",
	"y", "n",
	"1", "0",
	"是", "否",
}

var patterns sync.Map

// Validate applies rule to a raw cell value. Surrounding whitespace is ignored.
// An empty value fails only when the rule is required. Unknown kinds fail closed
// with Err set to ErrInvalidRule.
func Validate(value string, rule Rule) Verdict {
	kind := rule.Kind.Normalize()
	if !kind.Known() {
		return Verdict{Reason: ReasonInvalidRule, Err: ErrInvalidRule}
	}

	value = strings.TrimSpace(value)
	if value == "" {
		if rule.Required {
			return fail(ReasonRequired)
		}
		return pass()
	}

	var v Verdict
	switch kind {
	case KindText:
		v = validateText(value, rule)
	case KindInteger:
		v = validateNumber(value, rule, true)
	case KindFloat, KindNumber:
		v = validateNumber(value, rule, false)
	case KindDate:
		v = validateLayouts(value, dateLayouts)
	case KindDateTime:
		v = validateLayouts(value, dateTimeAccepted)
	case KindBoolean:
		v = validateBoolean(value)
	case KindEmail:
		v = matchOrFail(value, emailPattern)
	case KindPhone:
		v = validateFixedLength(value, 11, phonePattern)
	case KindIDCard:
		v = validateIDCard(value)
	case KindEmployeeID:
		v = validateFixedLength(value, 10, employeeIDPattern)
	}

	if !v.OK {
		return v
	}

	if len(rule.Options) > 0 {
		if v := validateOptions(value, rule.Options); !v.OK {
			return v
		}
	}

	if rule.Pattern != "" {
		return validatePattern(value, rule.Pattern)
	}

	return v
}

func validateText(value string, rule Rule) Verdict {
	n := utf8.RuneCountInString(value)
	if rule.MinLength != nil && n < *rule.MinLength {
		return fail(ReasonTooShort)
	}
	if rule.MaxLength != nil && n > *rule.MaxLength {
		return fail(ReasonTooLong)
	}
	return pass()
}

func validateNumber(value string, rule Rule, integer bool) Verdict {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return fail(ReasonNotNumber)
	}
	if integer && n != math.Trunc(n) {
		return fail(ReasonNotInteger)
	}
	if rule.Min != nil && n < *rule.Min {
		return fail(ReasonBelowMin)
	}
	if rule.Max != nil && n > *rule.Max {
		return fail(ReasonAboveMax)
	}
	return pass()
}

func validateLayouts(value string, layouts []string) Verdict {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, value); err == nil {
			return pass()
		}
	}
	return fail(ReasonFormat)
}

func validateBoolean(value string) Verdict {
	if slices.Contains(booleanTokens, strings.ToLower(value)) {
		return pass()
	}
	return fail(ReasonInvalid)
}

func validateFixedLength(value string, length int, pattern *regexp.Regexp) Verdict {
	if utf8.RuneCountInString(value) != length {
		return fail(ReasonLength)
	}
	return matchOrFail(value, pattern)
}

func validateIDCard(value string) Verdict {
	switch len(value) {
	case 15:
		return matchOrFail(value, idCard15Pattern)
	case 18:
		return matchOrFail(value, idCard18Pattern)
	}
	return fail(ReasonLength)
}

func validateOptions(value string, options []string) Verdict {
	allowed := make([]string, 0, len(options))
	for _, o := range options {
		allowed = append(allowed, strings.TrimSpace(o))
	}

	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '，'
	})
	for _, p := range parts {
		if !slices.Contains(allowed, strings.TrimSpace(p)) {
			return fail(ReasonNotOption)
		}
	}
	return pass()
}

// validatePattern requires the whole value to match.
func validatePattern(value, pattern string) Verdict {
	re, err := compiled(pattern)
	if err != nil {
		return Verdict{Reason: ReasonInvalidRule, Err: ErrInvalidRule}
	}
	if !re.MatchString(value) {
		return fail(ReasonPattern)
	}
	return pass()
}

func compiled(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, err
	}
	patterns.Store(pattern, re)
	return re, nil
}

func matchOrFail(value string, re *regexp.Regexp) Verdict {
	if re.MatchString(value) {
		return pass()
	}
	return fail(ReasonInvalid)
}
