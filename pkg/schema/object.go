package schema

// Field declares one object member. Fields are evaluated in declaration
// order, which fixes the order of reported errors.
type Field struct {
	// Name is the key in the input document.
	Name string
	// Rule validates the field value when present.
	Rule Validator
	// Required fields produce an error when absent or null.
	Required bool
	// Default is materialized into the result value when an optional field
	// is absent. It is emitted as-is; constructors are responsible for
	// providing defaults that satisfy Rule.
	Default any
	// Deprecated, when non-empty, makes presence of the field emit an
	// advisory warning with this note. The field still validates normally.
	Deprecated string
}

// ObjectRule validates a fixed, ordered field set. Unknown keys are
// preserved untouched in the result value so that a composed schema layered
// on top of this one can validate them later.
type ObjectRule struct {
	fields []Field
	index  map[string]int
}

// Object returns a validator for the given fields. Declaration order is
// preserved for error reporting and for Concat merging.
func Object(fields ...Field) *ObjectRule {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f.Name] = i
	}
	return &ObjectRule{fields: fields, index: idx}
}

// Validate implements Validator.
func (r *ObjectRule) Validate(input any) Result {
	m, ok := input.(map[string]any)
	if !ok {
		return fail("must be an object")
	}

	out := make(map[string]any, len(m))
	declared := make(map[string]bool, len(r.fields))
	var errs []FieldError
	var warns []Warning

	for _, f := range r.fields {
		declared[f.Name] = true
		v, present := m[f.Name]
		if v == nil {
			present = false
		}
		if !present {
			if f.Required {
				errs = append(errs, FieldError{Path: f.Name, Message: "is required"})
				continue
			}
			if f.Default != nil {
				out[f.Name] = copyDefault(f.Default)
			}
			continue
		}
		if f.Deprecated != "" {
			warns = append(warns, Warning{Path: f.Name, Message: "is deprecated: " + f.Deprecated})
		}
		res := f.Rule.Validate(v)
		errs = append(errs, prefixErrors(f.Name, res.Errors)...)
		warns = append(warns, prefixWarnings(f.Name, res.Warnings)...)
		if len(res.Errors) == 0 {
			out[f.Name] = res.Value
		}
	}

	// Unknown keys pass through so a later layer can pick them up.
	for k, v := range m {
		if !declared[k] {
			out[k] = v
		}
	}

	if len(errs) > 0 {
		return Result{Errors: errs, Warnings: warns}
	}
	return Result{Value: out, Warnings: warns}
}

// copyDefault deep-copies container defaults so that callers mutating one
// result's Value never see the change reflected in another result, or in the
// schema's own Default.
func copyDefault(v any) any {
	switch d := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(d))
		for k, e := range d {
			out[k] = copyDefault(e)
		}
		return out
	case []any:
		out := make([]any, len(d))
		for i, e := range d {
			out[i] = copyDefault(e)
		}
		return out
	default:
		return v
	}
}

// Fields returns the declared fields in order.
func (r *ObjectRule) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Concat merges two object schemas. Fields keep the position of their first
// appearance; where both schemas declare the same name the overlay's field
// wins entirely, including its Required flag and Default. The operation is
// associative, so base.platform.final layering can be built up pairwise.
func Concat(base, overlay *ObjectRule) *ObjectRule {
	merged := make([]Field, len(base.fields))
	copy(merged, base.fields)
	for _, f := range overlay.fields {
		if i, ok := base.index[f.Name]; ok {
			merged[i] = f
			continue
		}
		merged = append(merged, f)
	}
	return Object(merged...)
}
