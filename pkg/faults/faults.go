package faults

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Kind groups failures by the subsystem boundary they crossed.
type Kind string

const (
	// KindValidation marks configuration validation failures. They are
	// always terminal for the input: retrying the same document cannot
	// succeed.
	KindValidation Kind = "validation"
	// KindRender marks template rendering failures.
	KindRender Kind = "render"
	// KindBuild marks image build failures.
	KindBuild Kind = "build"
	// KindPush marks registry push failures.
	KindPush Kind = "push"
	// KindPolicy marks policy gate denials.
	KindPolicy Kind = "policy"
	// KindNetwork marks connectivity failures to build hosts.
	KindNetwork Kind = "network"
	// KindRegistry marks registry availability or auth failures.
	KindRegistry Kind = "registry"
	// KindIO marks local filesystem failures.
	KindIO Kind = "io"
	// KindInternal marks bugs and unclassifiable failures.
	KindInternal Kind = "internal"
)

// Severity grades how bad a failure is for the pipeline run.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Strategy tags the recovery approach a caller should take.
type Strategy string

const (
	// StrategyNone means no recovery is applicable.
	StrategyNone Strategy = "none"
	// StrategyFixedRetry means retry after a constant delay.
	StrategyFixedRetry Strategy = "fixed"
	// StrategyLinear means retry with linearly growing delays.
	StrategyLinear Strategy = "linear"
	// StrategyExponential means retry with exponentially growing delays.
	StrategyExponential Strategy = "exponential"
	// StrategyManual means a human has to change something first.
	StrategyManual Strategy = "manual"
)

// Failure is the typed failure object handed to the classifier.
type Failure struct {
	// Kind selects the classification row.
	Kind Kind
	// Op names the operation that failed, e.g. "build.amd64" or
	// "validate.base".
	Op string
	// Path is the configuration field path for validation failures.
	Path string
	// Message is the human-readable description.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if f.Op != "" {
		return f.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches failures by kind, so errors.Is(err, &Failure{Kind: KindPush})
// reports whether err is a push failure.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// WithPath returns a copy carrying the configuration field path.
func (f *Failure) WithPath(path string) *Failure {
	c := *f
	c.Path = path
	return &c
}

// WithCause returns a copy carrying the underlying error.
func (f *Failure) WithCause(err error) *Failure {
	c := *f
	c.Err = err
	return &c
}

// NewFailure constructs a Failure for the given kind and operation.
func NewFailure(kind Kind, op, message string) *Failure {
	return &Failure{Kind: kind, Op: op, Message: message}
}

// Classification is the classifier verdict for one failure.
type Classification struct {
	Kind       Kind     `json:"kind"`
	Severity   Severity `json:"severity"`
	Retryable  bool     `json:"retryable"`
	Strategy   Strategy `json:"strategy"`
	Suggestion string   `json:"suggestion"`
}

// Classify maps a failure to its classification. The table is fixed:
// classification depends only on the failure kind and, for build and I/O
// failures, on whether the underlying error looks transient.
func Classify(f Failure) Classification {
	c := Classification{Kind: f.Kind}
	switch f.Kind {
	case KindValidation:
		c.Severity = SeverityError
		c.Strategy = StrategyManual
		c.Suggestion = "correct the reported configuration fields and revalidate"
	case KindPolicy:
		c.Severity = SeverityError
		c.Strategy = StrategyManual
		c.Suggestion = "adjust the configuration or the violated policy"
	case KindRender:
		c.Severity = SeverityError
		c.Strategy = StrategyManual
		c.Suggestion = "inspect the configuration values driving the template"
	case KindNetwork:
		c.Severity = SeverityWarning
		c.Retryable = true
		c.Strategy = StrategyExponential
		c.Suggestion = "check connectivity to the build host or registry"
	case KindRegistry:
		c.Severity = SeverityWarning
		c.Retryable = true
		c.Strategy = StrategyExponential
		c.Suggestion = "verify registry availability and credentials"
	case KindPush:
		c.Severity = SeverityWarning
		c.Retryable = true
		c.Strategy = StrategyLinear
		c.Suggestion = "retry once the registry accepts writes"
	case KindBuild:
		if isTransient(f.Err) {
			c.Severity = SeverityWarning
			c.Retryable = true
			c.Strategy = StrategyFixedRetry
			c.Suggestion = "retry the build step"
		} else {
			c.Severity = SeverityError
			c.Strategy = StrategyManual
			c.Suggestion = "inspect the build log for the failing instruction"
		}
	case KindIO:
		if isTransient(f.Err) {
			c.Severity = SeverityWarning
			c.Retryable = true
			c.Strategy = StrategyFixedRetry
			c.Suggestion = "retry after the transient I/O condition clears"
		} else {
			c.Severity = SeverityError
			c.Strategy = StrategyManual
			c.Suggestion = "check disk space and file permissions"
		}
	default:
		c.Severity = SeverityCritical
		c.Strategy = StrategyNone
		c.Suggestion = "unexpected failure; inspect logs and report"
	}
	return c
}

// Retryable reports whether err is a Failure whose classification permits a
// retry.
func Retryable(err error) bool {
	var f *Failure
	if !errors.As(err, &f) {
		return false
	}
	return Classify(*f).Retryable
}

// maxDelay caps every computed retry delay.
const maxDelay = time.Minute

// Delay computes the wait before the given 1-based retry attempt. Manual and
// none strategies yield zero. Exponential delays carry up to 25% jitter to
// spread concurrent retries.
func Delay(strategy Strategy, attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch strategy {
	case StrategyFixedRetry:
		d = base
	case StrategyLinear:
		d = base * time.Duration(attempt)
	case StrategyExponential:
		d = base * time.Duration(1<<uint(attempt-1))
	default:
		return 0
	}
	if strategy == StrategyExponential {
		d += time.Duration(rand.Float64() * float64(d) * 0.25)
	}
	// Jitter is capped too.
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// isTransient inspects the cause chain for signals that a retry may help.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}
