package schema

import "strings"

// FieldError describes one violated constraint. Path is the dotted location
// of the offending field relative to the schema that produced the result;
// Message is the constraint text without the path.
type FieldError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// String renders the full error text, e.g.
// "nginx.workerConnections must not exceed 65535".
func (e FieldError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + " " + e.Message
}

// Warning is a non-fatal advisory attached to an otherwise acceptable field,
// such as a deprecated-but-accepted key. Warnings never block validation.
type Warning struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// String renders the full warning text.
func (w Warning) String() string {
	if w.Path == "" {
		return w.Message
	}
	return w.Path + " " + w.Message
}

// Result is the outcome of one validation pass. Value carries the coerced
// input with defaults materialized and is populated only when Errors is
// empty. Errors follow schema declaration order.
type Result struct {
	Value    any          `json:"value,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
	Warnings []Warning    `json:"warnings,omitempty"`
}

// OK reports whether the input validated with zero errors.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Messages returns the rendered error strings in report order.
func (r Result) Messages() []string {
	if len(r.Errors) == 0 {
		return nil
	}
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}
	return out
}

// joinPath prefixes a child path with its parent field name. Bracketed
// element paths attach without a dot so that list errors render as
// "extensions[2]" rather than "extensions.[2]".
func joinPath(name, child string) string {
	if child == "" {
		return name
	}
	if strings.HasPrefix(child, "[") {
		return name + child
	}
	return name + "." + child
}

// prefixErrors rebases child errors under the given field name.
func prefixErrors(name string, errs []FieldError) []FieldError {
	for i := range errs {
		errs[i].Path = joinPath(name, errs[i].Path)
	}
	return errs
}

// prefixWarnings rebases child warnings under the given field name.
func prefixWarnings(name string, warns []Warning) []Warning {
	for i := range warns {
		warns[i].Path = joinPath(name, warns[i].Path)
	}
	return warns
}
