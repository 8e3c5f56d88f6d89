package policy

import (
	"time"

	"github.com/phpkiln/phpkiln/pkg/config"
)

// Severity grades how strongly a violation counts against a build.
type Severity string

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"

	// SeverityWarning surfaces in the result but never blocks a build.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the build.
	SeverityError Severity = "error"

	// SeverityCritical blocks the build and flags a severe posture problem.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation at this severity closes the gate.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego policy evaluated against a composed build configuration.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy source. Its deny set produces the
	// violations.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry
	// their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, e.g. the source file
	// the policy was loaded from.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyViolation is a single finding against the configuration.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Path is the configuration path the finding refers to, e.g.
	// "security.nonRoot".
	Path string `json:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// PolicyResult is the outcome of one gate evaluation.
type PolicyResult struct {
	// Allowed is false when any violation carries error or critical
	// severity.
	Allowed bool `json:"allowed"`

	// Violations lists all findings, blocking and advisory alike.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings report policies that could not be evaluated. They never
	// block the build.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that ran, sorted.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that force the gate closed.
func (r *PolicyResult) Blocking() []PolicyViolation {
	var out []PolicyViolation
	for _, v := range r.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// Advisory returns the violations that surface without blocking.
func (r *PolicyResult) Advisory() []PolicyViolation {
	var out []PolicyViolation
	for _, v := range r.Violations {
		if !v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// PolicyInput is the document handed to Rego evaluation. The JSON field
// names are the paths policies address: the composed configuration appears
// under input.config, the evaluation context under input.context.
type PolicyInput struct {
	// Config is the fully composed build configuration.
	Config *config.FinalConfig `json:"config"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context,omitempty"`
}

// PolicyContext carries the circumstances of an evaluation so policies can
// make environment-aware decisions.
type PolicyContext struct {
	// Environment is the deployment environment the image targets, e.g.
	// "production" or "development".
	Environment string `json:"environment,omitempty"`

	// Operation is what the caller is about to do, e.g. "build" or
	// "validate".
	Operation string `json:"operation,omitempty"`

	// ImageRef is the image reference about to be built, when known.
	ImageRef string `json:"image_ref,omitempty"`

	// DryRun indicates the evaluation will not result in a real build.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// PolicyBundle is a versioned collection of policies distributed as one
// JSON document.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
