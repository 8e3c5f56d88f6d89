package config

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/phpkiln/phpkiln/pkg/faults"
	"github.com/phpkiln/phpkiln/pkg/schema"
	"github.com/phpkiln/phpkiln/pkg/telemetry"
)

// Engine runs the layered validation pipeline: base, then platform, then
// final. Each layer is a superset of the previous one, so a later layer
// re-checks every earlier constraint on the same document. The engine is a
// pure core: it performs no I/O and never returns a Go error for malformed
// input, only a populated schema.Result.
type Engine struct {
	logger     zerolog.Logger
	classifier *faults.Classifier
	metrics    *telemetry.Metrics
	events     *telemetry.EventPublisher
	failFast   bool

	base     *schema.ObjectRule
	platform *schema.ObjectRule
	final    *schema.ObjectRule
}

// Options tune engine behavior.
type Options struct {
	// FailFast truncates each layer's report to the first error. The
	// default aggregates every violated field.
	FailFast bool

	// Classifier, when set, receives every validation failure as a typed
	// faults.Failure. Warnings are not classified.
	Classifier *faults.Classifier

	// Metrics, when set, counts every layer run and its error total.
	Metrics *telemetry.Metrics

	// Events, when set, receives a validation.failed event per failing
	// layer.
	Events *telemetry.EventPublisher
}

// NewEngine constructs an engine with the composed domain schemas.
func NewEngine(logger zerolog.Logger, opts Options) *Engine {
	return &Engine{
		logger:     logger.With().Str("component", "config-engine").Logger(),
		classifier: opts.Classifier,
		metrics:    opts.Metrics,
		events:     opts.Events,
		failFast:   opts.FailFast,
		base:       BaseSchema(),
		platform:   PlatformSchema(),
		final:      FinalSchema(),
	}
}

// ValidateBase validates the platform-independent layer. The typed config is
// nil whenever the result carries errors.
func (e *Engine) ValidateBase(input any) (*BaseConfig, schema.Result) {
	res := e.run("base", e.base, input)
	if !res.OK() {
		return nil, res
	}
	var cfg BaseConfig
	if fe := e.decodeLayer("base", res.Value, &cfg); fe != nil {
		res.Errors = append(res.Errors, *fe)
		res.Value = nil
		return nil, res
	}
	res.Warnings = append(res.Warnings, phpAdvisories(cfg.PHP.Version)...)
	return &cfg, res
}

// ValidatePlatform merges the base-validated document with the raw platform
// payload and validates the composed platform schema, re-checking the base
// constraints in the same pass.
func (e *Engine) ValidatePlatform(base, overlay map[string]any) (*PlatformConfig, schema.Result) {
	res := e.run("platform", e.platform, MergeLayers(base, overlay))
	if !res.OK() {
		return nil, res
	}
	var cfg PlatformConfig
	if fe := e.decodeLayer("platform", res.Value, &cfg); fe != nil {
		res.Errors = append(res.Errors, *fe)
		res.Value = nil
		return nil, res
	}
	res.Warnings = append(res.Warnings, phpAdvisories(cfg.PHP.Version)...)
	return &cfg, res
}

// ValidateFinal merges the platform-validated document with the raw build
// payload and validates the full composed schema.
func (e *Engine) ValidateFinal(platform, overlay map[string]any) (*FinalConfig, schema.Result) {
	res := e.run("final", e.final, MergeLayers(platform, overlay))
	if !res.OK() {
		return nil, res
	}
	var cfg FinalConfig
	if fe := e.decodeLayer("final", res.Value, &cfg); fe != nil {
		res.Errors = append(res.Errors, *fe)
		res.Value = nil
		return nil, res
	}
	res.Warnings = append(res.Warnings, phpAdvisories(cfg.PHP.Version)...)
	return &cfg, res
}

// ValidateConfig runs all three layers in strict order over one complete
// document, halting at the first failing layer. The returned result belongs
// to the failing layer, or to the final layer when everything validates.
func (e *Engine) ValidateConfig(doc map[string]any) (*FinalConfig, schema.Result) {
	if res := e.run("base", e.base, doc); !res.OK() {
		return nil, res
	}
	if res := e.run("platform", e.platform, doc); !res.OK() {
		return nil, res
	}
	return e.ValidateFinal(doc, nil)
}

// ValidateLayers runs the same strict-order pipeline but reports each layer
// separately for the CLI. The typed config is non-nil only when every layer
// validated.
func (e *Engine) ValidateLayers(doc map[string]any) ([]ValidationReport, *FinalConfig) {
	var reports []ValidationReport

	layers := []struct {
		name string
		rule *schema.ObjectRule
	}{
		{"base", e.base},
		{"platform", e.platform},
		{"final", e.final},
	}

	var cfg *FinalConfig
	for _, layer := range layers {
		start := time.Now()
		var res schema.Result
		if layer.name == "final" {
			cfg, res = e.ValidateFinal(doc, nil)
		} else {
			res = e.run(layer.name, layer.rule, doc)
		}
		reports = append(reports, ValidationReport{
			Layer:       layer.name,
			Valid:       res.OK(),
			Errors:      res.Messages(),
			Warnings:    warningStrings(res.Warnings),
			Duration:    time.Since(start),
			EvaluatedAt: start.UTC(),
		})
		if !res.OK() {
			return reports, nil
		}
	}
	return reports, cfg
}

// MergeLayers shallowly merges overlay keys over base keys, overlay winning
// conflicts. Layer payloads contribute distinct top-level domains, so a
// top-level merge is all composition needs. A nil overlay returns a copy of
// base.
func MergeLayers(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// run validates one layer, truncates for fail-fast mode and feeds the
// classifier.
func (e *Engine) run(layer string, rule *schema.ObjectRule, input any) schema.Result {
	start := time.Now()
	res := rule.Validate(input)
	if e.failFast && len(res.Errors) > 1 {
		res.Errors = res.Errors[:1]
	}
	if e.classifier != nil {
		for _, fe := range res.Errors {
			e.classifier.Record(faults.Failure{
				Kind:    faults.KindValidation,
				Op:      "validate." + layer,
				Path:    fe.Path,
				Message: fe.Message,
			})
		}
	}
	if e.metrics != nil {
		e.metrics.RecordValidation(layer, res.OK(), len(res.Errors))
	}
	if e.events != nil && !res.OK() {
		_ = e.events.PublishValidationFailed(layer, len(res.Errors))
	}
	e.logger.Debug().
		Str("layer", layer).
		Bool("valid", res.OK()).
		Int("errors", len(res.Errors)).
		Int("warnings", len(res.Warnings)).
		Dur("duration", time.Since(start)).
		Msg("Validation layer evaluated")
	return res
}

// decodeLayer materializes the coerced value map into a typed struct via a
// JSON round trip. A failure here is a bug, not bad input; it is classified
// as internal and surfaced as a synthetic field error so the engine keeps
// its no-Go-error contract.
func (e *Engine) decodeLayer(layer string, value, out any) *schema.FieldError {
	raw, err := json.Marshal(value)
	if err == nil {
		err = json.Unmarshal(raw, out)
	}
	if err == nil {
		return nil
	}
	e.logger.Error().Err(err).Str("layer", layer).Msg("Failed to decode validated value")
	if e.classifier != nil {
		e.classifier.Record(faults.Failure{
			Kind: faults.KindInternal,
			Op:   "decode." + layer,
			Err:  err,
		})
	}
	return &schema.FieldError{Message: "cannot be decoded into a typed configuration"}
}

// phpAdvisories returns the end-of-life warning for accepted but unpatched
// PHP series.
func phpAdvisories(version string) []schema.Warning {
	if !EOLPHPVersions[version] {
		return nil
	}
	return []schema.Warning{{
		Path:    "php.version",
		Message: "series " + version + " no longer receives security fixes; upgrade to a supported release",
	}}
}

func warningStrings(warns []schema.Warning) []string {
	if len(warns) == 0 {
		return nil
	}
	out := make([]string, len(warns))
	for i, w := range warns {
		out[i] = w.String()
	}
	return out
}
