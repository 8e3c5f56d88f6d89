package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Validator checks one raw decoded value. Implementations are immutable and
// safe for concurrent use.
type Validator interface {
	Validate(input any) Result
}

// StringRule validates length-bounded strings, optionally against a pattern.
type StringRule struct {
	min        int
	max        int
	pattern    *regexp.Regexp
	patternMsg string
}

// String returns a validator for strings whose rune length lies in
// [min, max], bounds inclusive.
func String(min, max int) *StringRule {
	return &StringRule{min: min, max: max}
}

// StringMatch returns a length-bounded string validator that additionally
// requires the value to match pattern. msg is the failure message reported
// when the pattern does not match; the expression is compiled once here.
func StringMatch(min, max int, pattern, msg string) *StringRule {
	return &StringRule{
		min:        min,
		max:        max,
		pattern:    regexp.MustCompile(pattern),
		patternMsg: msg,
	}
}

// Validate implements Validator.
func (r *StringRule) Validate(input any) Result {
	s, ok := input.(string)
	if !ok {
		return fail("must be a string")
	}
	n := utf8.RuneCountInString(s)
	if n < r.min {
		return fail(fmt.Sprintf("must be at least %d characters", r.min))
	}
	if n > r.max {
		return fail(fmt.Sprintf("must not exceed %d characters", r.max))
	}
	if r.pattern != nil && !r.pattern.MatchString(s) {
		return fail(r.patternMsg)
	}
	return Result{Value: s}
}

// NumberRule validates bounded numbers. Numeric strings and json.Number
// inputs are coerced; when integer is set the value must be integral and the
// coerced value is an int64, otherwise a float64.
type NumberRule struct {
	min     float64
	max     float64
	integer bool
}

// Number returns a validator for numbers in [min, max], bounds inclusive.
func Number(min, max float64) *NumberRule {
	return &NumberRule{min: min, max: max}
}

// Int returns a validator for integers in [min, max], bounds inclusive.
func Int(min, max int64) *NumberRule {
	return &NumberRule{min: float64(min), max: float64(max), integer: true}
}

// Validate implements Validator.
func (r *NumberRule) Validate(input any) Result {
	v, ok := toFloat(input)
	if !ok {
		return fail("must be a number")
	}
	if r.integer && math.Trunc(v) != v {
		return fail("must be an integer")
	}
	if v < r.min {
		return fail("must be at least " + r.formatBound(r.min))
	}
	if v > r.max {
		return fail("must not exceed " + r.formatBound(r.max))
	}
	if r.integer {
		return Result{Value: int64(v)}
	}
	return Result{Value: v}
}

func (r *NumberRule) formatBound(b float64) string {
	if r.integer {
		return strconv.FormatInt(int64(b), 10)
	}
	return strconv.FormatFloat(b, 'f', -1, 64)
}

// toFloat widens every supported numeric representation to float64.
func toFloat(input any) (float64, bool) {
	switch v := input.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// BoolRule validates booleans strictly; no string coercion.
type BoolRule struct{}

// Bool returns a validator accepting exactly true or false.
func Bool() *BoolRule {
	return &BoolRule{}
}

// Validate implements Validator.
func (r *BoolRule) Validate(input any) Result {
	b, ok := input.(bool)
	if !ok {
		return fail("must be a boolean")
	}
	return Result{Value: b}
}

// EnumRule validates string membership in a fixed value set.
type EnumRule struct {
	values  []string
	message string
}

// Enum returns a validator accepting exactly the given strings. The failure
// message enumerates the permitted set in declaration order.
func Enum(values ...string) *EnumRule {
	return &EnumRule{
		values:  values,
		message: "must be one of " + strings.Join(values, ", "),
	}
}

// Validate implements Validator.
func (r *EnumRule) Validate(input any) Result {
	s, ok := input.(string)
	if !ok {
		return fail(r.message)
	}
	for _, v := range r.values {
		if s == v {
			return Result{Value: s}
		}
	}
	return fail(r.message)
}

// Values returns the permitted set in declaration order.
func (r *EnumRule) Values() []string {
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

// ArrayRule validates bounded homogeneous lists.
type ArrayRule struct {
	item Validator
	min  int
	max  int
}

// Array returns a validator for lists whose length lies in [min, max] and
// whose every element satisfies item.
func Array(item Validator, min, max int) *ArrayRule {
	return &ArrayRule{item: item, min: min, max: max}
}

// Validate implements Validator.
func (r *ArrayRule) Validate(input any) Result {
	items, ok := toSlice(input)
	if !ok {
		return fail("must be an array")
	}
	if len(items) < r.min {
		return fail(fmt.Sprintf("must contain at least %d items", r.min))
	}
	if len(items) > r.max {
		return fail(fmt.Sprintf("must contain at most %d items", r.max))
	}
	out := make([]any, 0, len(items))
	var errs []FieldError
	var warns []Warning
	for i, item := range items {
		res := r.item.Validate(item)
		idx := "[" + strconv.Itoa(i) + "]"
		errs = append(errs, prefixErrors(idx, res.Errors)...)
		warns = append(warns, prefixWarnings(idx, res.Warnings)...)
		if len(res.Errors) == 0 {
			out = append(out, res.Value)
		}
	}
	if len(errs) > 0 {
		return Result{Errors: errs, Warnings: warns}
	}
	return Result{Value: out, Warnings: warns}
}

func toSlice(input any) ([]any, bool) {
	switch v := input.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// MapRule validates bounded maps of string keys to string values. Keys are
// checked in sorted order so reports are deterministic.
type MapRule struct {
	maxEntries int
	maxKey     int
	maxVal     int
}

// StringMap returns a validator for string-to-string maps with at most
// maxEntries entries, key lengths in [1, maxKey] and value lengths in
// [1, maxVal].
func StringMap(maxEntries, maxKey, maxVal int) *MapRule {
	return &MapRule{maxEntries: maxEntries, maxKey: maxKey, maxVal: maxVal}
}

// Validate implements Validator.
func (r *MapRule) Validate(input any) Result {
	m, ok := input.(map[string]any)
	if !ok {
		if mm, isTyped := input.(map[string]string); isTyped {
			m = make(map[string]any, len(mm))
			for k, v := range mm {
				m[k] = v
			}
		} else {
			return fail("must be an object")
		}
	}
	if len(m) > r.maxEntries {
		return fail(fmt.Sprintf("must contain at most %d entries", r.maxEntries))
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(m))
	var errs []FieldError
	for _, k := range keys {
		if k == "" {
			errs = append(errs, FieldError{Message: "keys must not be empty"})
			continue
		}
		if utf8.RuneCountInString(k) > r.maxKey {
			errs = append(errs, FieldError{Path: k, Message: fmt.Sprintf("key must not exceed %d characters", r.maxKey)})
			continue
		}
		s, isStr := m[k].(string)
		if !isStr {
			errs = append(errs, FieldError{Path: k, Message: "must be a string"})
			continue
		}
		n := utf8.RuneCountInString(s)
		if n < 1 {
			errs = append(errs, FieldError{Path: k, Message: "must be at least 1 characters"})
			continue
		}
		if n > r.maxVal {
			errs = append(errs, FieldError{Path: k, Message: fmt.Sprintf("must not exceed %d characters", r.maxVal)})
			continue
		}
		out[k] = s
	}
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{Value: out}
}

func fail(msg string) Result {
	return Result{Errors: []FieldError{{Message: msg}}}
}
