// Package config composes and validates kiln build configurations.
//
// # Overview
//
// The config package turns a small set of user selections (PHP version,
// platform family, target architecture) into a fully-specified, internally
// consistent build configuration, or into a structured set of validation
// failures. Composition is layered: the platform-independent base, then one
// of two mutually exclusive platform family overlays, then the architecture
// and image build parameters. Each layer's schema is the previous layer's
// schema concatenated with the layer's own fields, so validating a later
// layer re-checks every earlier constraint on the same document.
//
// # Features
//
//   - Domain schemas built from the typed combinators in pkg/schema
//   - Three-layer composition with declaration-ordered error reporting
//   - Mutually exclusive Alpine/Ubuntu platform payloads with a single
//     synthetic error when neither family matches
//   - JSON, YAML and CUE document loading
//   - Tool settings validated with struct tags
//   - Starlark matrix scripts expanding one document into many variants
//
// # Components
//
// Engine: runs the layered pipeline. ValidateBase, ValidatePlatform and
// ValidateFinal validate one layer each; ValidateConfig runs all three in
// strict order over a complete document. Every validation failure is handed
// to an injected faults.Classifier as a typed failure.
//
// Loader: reads build documents (.json, .yaml, .cue) into raw maps and the
// optional kiln settings file into a Settings struct.
//
// MatrixEvaluator: sandboxed Starlark execution producing build Variants.
//
// # Usage Example
//
//	loader := config.NewLoader(logger)
//	doc, err := loader.LoadDocument("app.kiln.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := config.NewEngine(logger, config.Options{
//	    Classifier: faults.NewClassifier(100),
//	})
//	cfg, res := engine.ValidateConfig(doc)
//	if !res.OK() {
//	    for _, msg := range res.Messages() {
//	        fmt.Println(msg)
//	    }
//	    os.Exit(1)
//	}
//	fmt.Println(cfg.PHP.Version, cfg.Platform, cfg.Architecture)
//
// # Validation Contract
//
// The engine is a pure core: no I/O, no build tool invocation, no template
// rendering, no concurrency within a single validation pass. It never
// returns a Go error for malformed input; the outcome is always a populated
// schema.Result. Errors follow schema declaration order and name the
// offending field with a dotted path ("nginx.options.rateLimit.window").
// The typed configuration is non-nil exactly when the result has zero
// errors. Warnings are advisories (deprecated fields, end-of-life PHP
// series) and never block composition.
//
// # Matrix Scripts
//
// Starlark execution is sandboxed: no filesystem or network access, print
// suppressed, wall-clock bounded. The supported version and platform sets
// are predeclared, so a full matrix is one comprehension:
//
//	variants = [
//	    {"phpVersion": v, "platform": p, "architecture": "amd64"}
//	    for v in php_versions
//	    for p in platforms
//	]
//
// # Thread Safety
//
// Engine, Loader and MatrixEvaluator are safe for concurrent use.
package config
