package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for kiln.
type Metrics struct {
	config MetricsConfig

	// Build metrics
	buildsStarted   *prometheus.CounterVec
	buildsCompleted *prometheus.CounterVec
	buildDuration   *prometheus.HistogramVec

	// Job metrics
	jobsExecuted *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobRetries   *prometheus.CounterVec

	// Validation metrics
	validationRuns   *prometheus.CounterVec
	validationErrors *prometheus.CounterVec

	// Executor metrics
	executorCalls    *prometheus.CounterVec
	executorDuration *prometheus.HistogramVec
	executorErrors   *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// System metrics
	activeBuilds prometheus.Gauge
	queuedJobs   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance; every recorder checks for nil vectors
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		buildsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_started_total",
				Help:      "Total number of image builds started",
			},
			[]string{"trigger"},
		),
		buildsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_completed_total",
				Help:      "Total number of image builds completed",
			},
			[]string{"status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of image builds in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		jobsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_executed_total",
				Help:      "Total number of build jobs executed",
			},
			[]string{"stage", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of build jobs in seconds",
				Buckets:   buckets,
			},
			[]string{"stage", "platform"},
		),
		jobRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_retries_total",
				Help:      "Total number of job retries scheduled",
			},
			[]string{"stage", "kind"},
		),

		validationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_runs_total",
				Help:      "Total number of validation layer evaluations",
			},
			[]string{"layer", "outcome"},
		),
		validationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_errors_total",
				Help:      "Total number of field errors reported by validation",
			},
			[]string{"layer"},
		),

		executorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_calls_total",
				Help:      "Total number of executor commands run",
			},
			[]string{"executor", "operation"},
		),
		executorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "executor_call_duration_seconds",
				Help:      "Duration of executor commands in seconds",
				Buckets:   buckets,
			},
			[]string{"executor", "operation"},
		),
		executorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_errors_total",
				Help:      "Total number of executor command failures",
			},
			[]string{"executor", "operation"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of classified failures by kind",
			},
			[]string{"kind"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),

		activeBuilds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_builds",
				Help:      "Current number of active builds",
			},
		),
		queuedJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_jobs",
				Help:      "Current number of queued build jobs",
			},
		),
	}

	registry.MustRegister(
		m.buildsStarted,
		m.buildsCompleted,
		m.buildDuration,
		m.jobsExecuted,
		m.jobDuration,
		m.jobRetries,
		m.validationRuns,
		m.validationErrors,
		m.executorCalls,
		m.executorDuration,
		m.executorErrors,
		m.errorsByKind,
		m.policyViolations,
		m.activeBuilds,
		m.queuedJobs,
	)

	return m, nil
}

// Build Metrics

// RecordBuildStarted increments the counter for started builds.
func (m *Metrics) RecordBuildStarted(trigger string) {
	if m.buildsStarted == nil {
		return
	}
	m.buildsStarted.WithLabelValues(trigger).Inc()
	m.activeBuilds.Inc()
}

// RecordBuildCompleted records a completed build with its status and duration.
func (m *Metrics) RecordBuildCompleted(status string, duration time.Duration) {
	if m.buildsCompleted == nil {
		return
	}
	m.buildsCompleted.WithLabelValues(status).Inc()
	m.buildDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeBuilds.Dec()
}

// Job Metrics

// RecordJobExecution records the execution of one build job stage.
func (m *Metrics) RecordJobExecution(stage, status, platform string, duration time.Duration) {
	if m.jobsExecuted == nil {
		return
	}
	m.jobsExecuted.WithLabelValues(stage, status).Inc()
	m.jobDuration.WithLabelValues(stage, platform).Observe(duration.Seconds())
}

// RecordJobRetry records a scheduled retry for a job stage.
func (m *Metrics) RecordJobRetry(stage, kind string) {
	if m.jobRetries == nil {
		return
	}
	m.jobRetries.WithLabelValues(stage, kind).Inc()
}

// Validation Metrics

// RecordValidation records one validation layer evaluation.
func (m *Metrics) RecordValidation(layer string, valid bool, errorCount int) {
	if m.validationRuns == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	m.validationRuns.WithLabelValues(layer, outcome).Inc()
	if errorCount > 0 {
		m.validationErrors.WithLabelValues(layer).Add(float64(errorCount))
	}
}

// Executor Metrics

// RecordExecutorCall records an executor command with its duration.
func (m *Metrics) RecordExecutorCall(executor, operation string, duration time.Duration) {
	if m.executorCalls == nil {
		return
	}
	m.executorCalls.WithLabelValues(executor, operation).Inc()
	m.executorDuration.WithLabelValues(executor, operation).Observe(duration.Seconds())
}

// RecordExecutorError records an executor command failure.
func (m *Metrics) RecordExecutorError(executor, operation string) {
	if m.executorErrors == nil {
		return
	}
	m.executorErrors.WithLabelValues(executor, operation).Inc()
}

// Error Metrics

// RecordError records a classified failure by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Policy Metrics

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// System Metrics

// SetQueuedJobs sets the current number of queued build jobs.
func (m *Metrics) SetQueuedJobs(count float64) {
	if m.queuedJobs == nil {
		return
	}
	m.queuedJobs.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
