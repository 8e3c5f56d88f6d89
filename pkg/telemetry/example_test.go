package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/phpkiln/phpkiln/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("kiln started")

	// Output varies, no output specified
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("builder")

	logger = logger.
		WithBuildID("build-123").
		WithImageRef("phpkiln/app:8.3-alpine")

	logger.Debug("Rendering build context")
	logger.Info("Image built")

	err := fmt.Errorf("registry timeout")
	logger.WithError(err).Error("Push failed")

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordBuildStarted("cli")

	start := time.Now()
	time.Sleep(10 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordBuildCompleted("succeeded", duration)
	tel.Metrics.RecordJobExecution("build", "succeeded", "alpine", duration)
	tel.Metrics.RecordExecutorCall("local", "build", duration)
	tel.Metrics.RecordError("network")
	tel.Metrics.RecordValidation("final", true, 0)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s\n", event.Type)
	}, telemetry.FilterByType(telemetry.EventTypeImagePushed))

	tel.Events.PublishBuildStarted("build-123", "cli", 2)
	tel.Events.PublishImagePushed("build-123", "phpkiln/app:8.3-alpine", "sha256:abc")

	// Output: Event: image.pushed
}

// Example_buildInstrumentation demonstrates instrumenting a complete build.
func Example_buildInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	buildID := "build-123"
	ctx = telemetry.WithBuildContext(ctx, buildID, "cli", 1)

	runJob(ctx, buildID)

	telemetry.EndBuildContext(ctx, buildID, "succeeded", nil)

	fmt.Println("Build instrumentation complete")
	// Output: Build instrumentation complete
}

func runJob(ctx context.Context, buildID string) {
	jobID := "job-1"
	imageRef := "phpkiln/app:8.3-alpine"

	ctx = telemetry.WithJobContext(ctx, buildID, jobID, imageRef, "build")

	logger := telemetry.FromContext(ctx)
	logger.Info("Executing build job")

	time.Sleep(10 * time.Millisecond)

	telemetry.EndJobContext(ctx, buildID, jobID, imageRef, "build", "alpine", "succeeded", nil)
}

// Example_executorInstrumentation demonstrates instrumenting executor calls.
func Example_executorInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	err := telemetry.RecordExecutorOperation(ctx, "local", "build", func() error {
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Executor operation completed successfully")
	}

	// Output: Executor operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "config.validate",
		attribute.String("document", "build.yaml"),
	)
	defer ic.End(nil)

	ic.Logger.Info("Validating build document")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	tel.Events.PublishBuildStarted("build-123", "cli", 1)
	tel.Events.PublishJobRetried("build-123", "job-1", 1, 5*time.Second, "registry timeout")
	tel.Events.PublishBuildFailed("build-123", "push failed")

	// Output:
	// Important event: job.retried
	// Important event: build.failed
}

// Example_ciConfiguration demonstrates a CI-ready configuration.
func Example_ciConfiguration() {
	cfg := telemetry.CIConfig()

	cfg.ServiceVersion = "1.2.3"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.Insecure = false

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("CI configuration validated")
	// Output: CI configuration validated
}
