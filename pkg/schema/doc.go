// Package schema provides the typed validation combinators that power kiln's
// configuration engine.
//
// The package is a pure validation core: combinators perform no I/O, hold no
// global state, and are safe for concurrent reuse once constructed. A schema
// is an immutable tree of validators assembled from a closed set of
// constructors; there is no reflection and no dynamic rule registration.
//
// # Combinators
//
// The closed set of validator constructors:
//
//	String(min, max)                      - length-bounded string
//	StringMatch(min, max, pattern, msg)   - string with a compiled pattern
//	Number(min, max)                      - bounded number (coerces numeric strings)
//	Int(min, max)                         - bounded integer
//	Bool()                                - strict boolean, no coercion
//	Enum(values...)                       - string membership in a fixed set
//	Array(item, min, max)                 - bounded homogeneous list
//	StringMap(maxEntries, maxKey, maxVal) - bounded map of string to string
//	Object(fields...)                     - ordered field set with defaults
//	Alternatives(msg, alts...)            - first-match union with a synthetic error
//
// # Results
//
// Validate returns a Result carrying the coerced value, the field errors, and
// any advisory warnings:
//
//	res := schema.Object(
//	    schema.Field{Name: "workerConnections", Rule: schema.Int(1, 65535), Required: true},
//	).Validate(input)
//	if !res.OK() {
//	    for _, fe := range res.Errors {
//	        fmt.Println(fe.String())
//	    }
//	}
//
// Result.Value is populated only when Errors is empty. Errors are reported in
// schema declaration order and name the offending field with a dotted path
// ("nginx.options.rateLimit.window"); list elements use bracketed indexes
// ("extensions[2]"). Warnings never block validation; they carry advisories
// such as deprecated-but-accepted fields.
//
// # Composition
//
// Concat merges two object schemas into one, preserving declaration order and
// letting the overlay win on conflicting field names. This is the layering
// primitive used by the configuration engine: a platform schema is the base
// schema concatenated with platform fields, so validating the composed schema
// re-checks every base constraint on the same input.
//
// # Coercion and defaults
//
// Number validators coerce numeric strings ("1024") and json.Number values;
// everything else is checked strictly. Object fields may declare a Default
// that is materialized into the result value when the field is absent.
// Unknown keys are preserved untouched so that layered validation can pass a
// full document through an earlier layer's schema.
package schema
