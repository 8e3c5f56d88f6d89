package schema

// AlternativesRule accepts an input that cleanly validates against one of a
// fixed list of alternatives, tried in declaration order. The first clean
// match wins and evaluation stops. When every alternative fails the rule
// reports exactly one synthetic error carrying the configured message; the
// per-branch errors are discarded rather than merged, since a union of
// mutually contradictory branch reports reads as noise to the caller.
type AlternativesRule struct {
	message string
	alts    []Validator
}

// Alternatives returns a first-match union validator. message is the single
// synthetic error reported when no alternative accepts the input.
func Alternatives(message string, alts ...Validator) *AlternativesRule {
	return &AlternativesRule{message: message, alts: alts}
}

// Validate implements Validator.
func (r *AlternativesRule) Validate(input any) Result {
	for _, alt := range r.alts {
		res := alt.Validate(input)
		if len(res.Errors) == 0 {
			return res
		}
	}
	return fail(r.message)
}
