// Package telemetry provides observability instrumentation for kiln.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus) and event publishing into a
// unified system for monitoring builds.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for build insights
//  4. Event Publishing - Event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("builder")
//	logger = logger.WithBuildID("build-123").WithImageRef("phpkiln/app:8.3-alpine")
//	logger.Info("Starting image build")
//	logger.WithError(err).Error("Build failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into build flow and timing:
//
//	ctx, span := tel.Tracer.StartJobSpan(ctx, jobID, imageRef, "build")
//	defer span.End()
//
//	span.SetAttributes(
//	    attribute.String("platform", "alpine"),
//	    attribute.String("architecture", "arm64"),
//	)
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (CI and collectors), Stdout (development),
// none (testing).
//
// # Metrics
//
// Prometheus metrics track build behavior and performance:
//
//	tel.Metrics.RecordBuildStarted("cli")
//	tel.Metrics.RecordBuildCompleted("succeeded", duration)
//	tel.Metrics.RecordJobExecution("build", "succeeded", "alpine", duration)
//	tel.Metrics.RecordExecutorCall("local", "build", duration)
//	tel.Metrics.RecordError("network")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics) when
// enabled.
//
// # Event Publishing
//
// The event system provides publishing with optional buffering and filtering:
//
//	tel.Events.PublishBuildStarted(buildID, "cli", len(jobs))
//	tel.Events.PublishJobCompleted(buildID, jobID, imageRef, duration)
//	tel.Events.PublishImagePushed(buildID, imageRef, digest)
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByBuildID,
// FilterByImageRef.
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	ic := telemetry.StartOperation(ctx, "config.validate",
//	    attribute.String("layer", "final"))
//	defer ic.End(err)
//
//	// Build context
//	ctx = telemetry.WithBuildContext(ctx, buildID, "cli", len(jobs))
//	defer telemetry.EndBuildContext(ctx, buildID, status, err)
//
//	// Job context
//	ctx = telemetry.WithJobContext(ctx, buildID, jobID, imageRef, "build")
//	defer telemetry.EndJobContext(ctx, buildID, jobID, imageRef, "build", platform, status, err)
//
//	// Executor commands
//	err := telemetry.RecordExecutorOperation(ctx, "local", "build", func() error {
//	    return executor.Run(ctx, cmd)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose console logging, stdout traces)
//	cfg := telemetry.DevelopmentConfig()
//
//	// CI (JSON logs, OTLP traces, metrics endpoint, async events)
//	cfg := telemetry.CIConfig()
//
// The default configuration keeps tracing and the metrics endpoint off,
// which suits one-shot CLI invocations.
//
// # Graceful Shutdown
//
// Always shut down telemetry to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - kiln_builds_started_total{trigger}
//   - kiln_builds_completed_total{status}
//   - kiln_build_duration_seconds{status}
//   - kiln_jobs_executed_total{stage,status}
//   - kiln_job_duration_seconds{stage,platform}
//   - kiln_job_retries_total{stage,kind}
//   - kiln_validation_runs_total{layer,outcome}
//   - kiln_executor_calls_total{executor,operation}
//   - kiln_errors_by_kind_total{kind}
//   - kiln_policy_violations_total{policy,severity}
//   - kiln_active_builds
//
// # Security Considerations
//
//   - Never log credentials, registry tokens or SSH key material
//   - Use secure connections (TLS) for trace exporters outside development
//   - Limit metrics endpoint access via network policies
package telemetry
