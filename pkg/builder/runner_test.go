package builder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/phpkiln/phpkiln/pkg/config"
	"github.com/phpkiln/phpkiln/pkg/faults"
	"github.com/phpkiln/phpkiln/pkg/stores"
	"github.com/phpkiln/phpkiln/pkg/telemetry"
)

// fakeExecutor fails the first failures calls with the configured stderr,
// then succeeds with a digest on stdout.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []Command
	failures int
	stderr   string
	err      error
}

func (f *fakeExecutor) Name() string { return "fake" }

func (f *fakeExecutor) Run(ctx context.Context, cmd Command) (CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return CommandResult{ExitCode: -1}, fmt.Errorf("docker: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, cmd)
	if f.failures > 0 {
		f.failures--
		err := f.err
		if err == nil {
			err = errors.New("docker: exit status 1")
		}
		return CommandResult{ExitCode: 1, Stderr: f.stderr}, err
	}
	return CommandResult{Stdout: "sha256:" + strings.Repeat("ab", 32) + "\n"}, nil
}

func (f *fakeExecutor) Close() error { return nil }

func (f *fakeExecutor) calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.commands))
	copy(out, f.commands)
	return out
}

func newTestRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	r, err := NewRunner(zerolog.New(nil).Level(zerolog.Disabled), cfg)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r
}

func testPlan(t *testing.T, opts PlanOptions) *BuildPlan {
	t.Helper()
	if opts.Repository == "" {
		opts.Repository = "phpkiln/app"
	}
	plan, err := Plan(planConfig(), opts)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	return plan
}

func TestNewRunnerRequiresExecutor(t *testing.T) {
	_, err := NewRunner(zerolog.New(nil).Level(zerolog.Disabled), RunnerConfig{})
	if err == nil {
		t.Fatal("expected error for missing executor")
	}
}

func TestRunnerExecutesPlan(t *testing.T) {
	fake := &fakeExecutor{}
	runner := newTestRunner(t, RunnerConfig{Executor: fake})

	result, err := runner.Run(context.Background(), testPlan(t, PlanOptions{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.BuildID == "" {
		t.Error("expected a build ID")
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Errorf("expected 1 succeeded, got %d succeeded %d failed", result.Succeeded, result.Failed)
	}
	if result.Jobs[0].Status != stores.BuildStatusSucceeded {
		t.Errorf("expected succeeded status, got %s", result.Jobs[0].Status)
	}
	if result.Jobs[0].Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Jobs[0].Attempts)
	}

	calls := fake.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 executor call, got %d", len(calls))
	}
	if !strings.Contains(calls[0].String(), "buildx build") {
		t.Errorf("expected a buildx build command, got %s", calls[0].String())
	}
}

func TestRunnerEmptyPlan(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Executor: &fakeExecutor{}})

	if _, err := runner.Run(context.Background(), nil); err == nil {
		t.Error("expected error for nil plan")
	}
	if _, err := runner.Run(context.Background(), &BuildPlan{}); err == nil {
		t.Error("expected error for empty plan")
	}
}

func TestRunnerRetriesTransientFailure(t *testing.T) {
	fake := &fakeExecutor{failures: 2, stderr: "dial tcp 10.0.0.5:443: connection refused"}
	classifier := faults.NewClassifier(10)
	runner := newTestRunner(t, RunnerConfig{
		Executor:   fake,
		Classifier: classifier,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	result, err := runner.Run(context.Background(), testPlan(t, PlanOptions{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Jobs[0].Status != stores.BuildStatusSucceeded {
		t.Errorf("expected succeeded after retries, got %s", result.Jobs[0].Status)
	}
	if result.Jobs[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Jobs[0].Attempts)
	}
	if got := classifier.CountByKind(faults.KindNetwork); got != 2 {
		t.Errorf("expected 2 recorded network failures, got %d", got)
	}
}

func TestRunnerDoesNotRetryBuildFailure(t *testing.T) {
	fake := &fakeExecutor{failures: 1, stderr: "Dockerfile:7 unknown instruction: FORM"}
	classifier := faults.NewClassifier(10)
	runner := newTestRunner(t, RunnerConfig{
		Executor:   fake,
		Classifier: classifier,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	result, err := runner.Run(context.Background(), testPlan(t, PlanOptions{}))
	if err == nil {
		t.Fatal("expected error for failed build")
	}
	if !strings.Contains(err.Error(), "1 of 1 builds failed") {
		t.Errorf("unexpected error message: %v", err)
	}

	job := result.Jobs[0]
	if job.Status != stores.BuildStatusFailed {
		t.Errorf("expected failed status, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("expected a single attempt for a broken Dockerfile, got %d", job.Attempts)
	}
	if !strings.Contains(job.Output, "unknown instruction") {
		t.Errorf("expected failure output tail, got %q", job.Output)
	}
	if got := classifier.CountByKind(faults.KindBuild); got != 1 {
		t.Errorf("expected 1 recorded build failure, got %d", got)
	}
}

func TestRunnerRetriesExhausted(t *testing.T) {
	fake := &fakeExecutor{failures: 5, stderr: "i/o timeout"}
	runner := newTestRunner(t, RunnerConfig{
		Executor:   fake,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	result, err := runner.Run(context.Background(), testPlan(t, PlanOptions{}))
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if result.Jobs[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Jobs[0].Attempts)
	}
	if result.Jobs[0].Status != stores.BuildStatusFailed {
		t.Errorf("expected failed status, got %s", result.Jobs[0].Status)
	}
}

func TestRunnerManifestAfterBuilds(t *testing.T) {
	fake := &fakeExecutor{}
	runner := newTestRunner(t, RunnerConfig{Executor: fake, Parallel: 4})

	plan := testPlan(t, PlanOptions{Push: true, AllPlatforms: true})
	result, err := runner.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Manifest == nil {
		t.Fatal("expected a manifest result")
	}
	if result.Manifest.Status != stores.BuildStatusSucceeded {
		t.Errorf("expected manifest to succeed, got %s", result.Manifest.Status)
	}

	calls := fake.calls()
	if len(calls) != len(plan.Builds)+1 {
		t.Fatalf("expected %d executor calls, got %d", len(plan.Builds)+1, len(calls))
	}
	last := calls[len(calls)-1].String()
	if !strings.Contains(last, "imagetools create") {
		t.Errorf("expected the manifest command to run last, got %s", last)
	}
	for _, call := range calls[:len(calls)-1] {
		if strings.Contains(call.String(), "imagetools") {
			t.Errorf("manifest command ran before builds finished: %s", call.String())
		}
	}
}

func TestRunnerManifestSkippedOnFailure(t *testing.T) {
	fake := &fakeExecutor{failures: 1, stderr: "unknown instruction: FORM"}
	runner := newTestRunner(t, RunnerConfig{Executor: fake, RetryDelay: time.Millisecond})

	plan := testPlan(t, PlanOptions{Push: true, AllPlatforms: true})
	result, err := runner.Run(context.Background(), plan)
	if err == nil {
		t.Fatal("expected error when a build fails")
	}

	if result.Manifest != nil {
		t.Error("expected manifest to be skipped after a build failure")
	}
	if result.Failed != 1 {
		t.Errorf("expected 1 failed job, got %d", result.Failed)
	}
	for _, call := range fake.calls() {
		if strings.Contains(call.String(), "imagetools") {
			t.Errorf("manifest command ran despite build failure: %s", call.String())
		}
	}
}

func TestRunnerDryRun(t *testing.T) {
	fake := &fakeExecutor{}
	runner := newTestRunner(t, RunnerConfig{Executor: fake, DryRun: true})

	plan := testPlan(t, PlanOptions{Push: true, AllPlatforms: true})
	result, err := runner.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fake.calls()) != 0 {
		t.Errorf("expected no executor calls in dry run, got %d", len(fake.calls()))
	}
	if result.Succeeded != len(plan.Builds) {
		t.Errorf("expected all jobs to succeed, got %d of %d", result.Succeeded, len(plan.Builds))
	}
	if result.Manifest == nil || result.Manifest.Status != stores.BuildStatusSucceeded {
		t.Error("expected dry-run manifest to succeed")
	}
}

func TestRunnerCancelledContext(t *testing.T) {
	fake := &fakeExecutor{}
	runner := newTestRunner(t, RunnerConfig{Executor: fake})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runner.Run(ctx, testPlan(t, PlanOptions{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Jobs[0].Status != stores.BuildStatusCancelled {
		t.Errorf("expected cancelled status, got %s", result.Jobs[0].Status)
	}
}

func TestRunnerJobResultsInPlanOrder(t *testing.T) {
	fake := &fakeExecutor{}
	runner := newTestRunner(t, RunnerConfig{Executor: fake, Parallel: 4})

	plan := testPlan(t, PlanOptions{AllPlatforms: true})
	result, err := runner.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Jobs) != len(config.SupportedArchitectures) {
		t.Fatalf("expected %d job results, got %d", len(config.SupportedArchitectures), len(result.Jobs))
	}
	for i, arch := range config.SupportedArchitectures {
		if result.Jobs[i].Job.Architecture != arch {
			t.Errorf("result %d: expected architecture %s, got %s", i, arch, result.Jobs[i].Job.Architecture)
		}
	}
}

func TestRunnerRecordsHistory(t *testing.T) {
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "kiln.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	digest := strings.Repeat("a", 64)
	fake := &fakeExecutor{failures: 1, stderr: "dial tcp: connection refused"}
	runner := newTestRunner(t, RunnerConfig{
		Executor:   fake,
		Store:      store,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})

	_, err = runner.Run(ctx, testPlan(t, PlanOptions{ConfigDigest: digest}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	builds, err := store.ListBuilds(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListBuilds() error = %v", err)
	}
	if len(builds) != 1 {
		t.Fatalf("expected 1 build record, got %d", len(builds))
	}

	record := builds[0]
	if record.Status != stores.BuildStatusSucceeded {
		t.Errorf("expected succeeded record, got %s", record.Status)
	}
	if record.ImageRef != "phpkiln/app:8.3-alpine" {
		t.Errorf("unexpected image ref %s", record.ImageRef)
	}
	if record.ConfigDigest != digest {
		t.Errorf("expected config digest on the record, got %q", record.ConfigDigest)
	}
	if record.Attempts != 1 {
		t.Errorf("expected 1 recorded retry, got %d", record.Attempts)
	}
	if record.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
	if record.Error != nil {
		t.Errorf("expected no error on succeeded record, got %q", *record.Error)
	}

	events, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 run event, got %d", len(events))
	}
	if events[0].Level != stores.EventLevelInfo {
		t.Errorf("expected info run event, got %s", events[0].Level)
	}
	if !strings.Contains(events[0].Message, "succeeded") {
		t.Errorf("unexpected run event message %q", events[0].Message)
	}
	if events[0].BuildID != nil {
		t.Error("expected run-level event without a build reference")
	}
}

func TestRunnerPublishesEvents(t *testing.T) {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var seen []string
	events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}, nil)

	fake := &fakeExecutor{}
	runner := newTestRunner(t, RunnerConfig{Executor: fake, Events: events})

	if _, err := runner.Run(context.Background(), testPlan(t, PlanOptions{Push: true})); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		telemetry.EventTypeBuildStarted,
		telemetry.EventTypeJobStarted,
		telemetry.EventTypeJobCompleted,
		telemetry.EventTypeImagePushed,
		telemetry.EventTypeBuildCompleted,
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(seen), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestRunnerPublishesBuildFailed(t *testing.T) {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var failures []telemetry.Event
	events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		failures = append(failures, e)
		mu.Unlock()
	}, telemetry.FilterByType(telemetry.EventTypeBuildFailed))

	fake := &fakeExecutor{failures: 1, stderr: "Dockerfile:7 unknown instruction: FORM"}
	runner := newTestRunner(t, RunnerConfig{
		Executor:   fake,
		Events:     events,
		RetryDelay: time.Millisecond,
	})

	if _, err := runner.Run(context.Background(), testPlan(t, PlanOptions{})); err == nil {
		t.Fatal("expected error for failed build")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 {
		t.Fatalf("expected one build failure event, got %d", len(failures))
	}
	if !strings.Contains(failures[0].Message, "1 of 1 builds failed") {
		t.Errorf("unexpected failure message %q", failures[0].Message)
	}
	if lvl := failures[0].Level; lvl != telemetry.EventLevelError {
		t.Errorf("failure event level = %s, want %s", lvl, telemetry.EventLevelError)
	}
}

func TestClassifyCommandFailure(t *testing.T) {
	tests := []struct {
		name   string
		stage  string
		stderr string
		want   faults.Kind
	}{
		{"auth required", StageBuild, "unauthorized: authentication required", faults.KindRegistry},
		{"access denied", StageBuild, "denied: access denied to repository", faults.KindRegistry},
		{"connection refused", StageBuild, "dial tcp 10.0.0.5:443: connection refused", faults.KindNetwork},
		{"dns failure", StageBuild, `lookup registry.example.com: no such host`, faults.KindNetwork},
		{"tls timeout", StageBuild, "net/http: TLS handshake timeout", faults.KindNetwork},
		{"push failure", StageBuild, "failed to push phpkiln/app:8.3-alpine", faults.KindPush},
		{"dockerfile error", StageBuild, "Dockerfile:7 unknown instruction: FORM", faults.KindBuild},
		{"manifest default", StageManifest, "something went wrong", faults.KindPush},
		{"build default", StageBuild, "", faults.KindBuild},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyCommandFailure(tt.stage, tt.stderr); got != tt.want {
				t.Errorf("classifyCommandFailure(%q, %q) = %s, want %s", tt.stage, tt.stderr, got, tt.want)
			}
		})
	}
}

func TestTailLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter than limit", "one\ntwo", 4, "one\ntwo"},
		{"truncates to last lines", "one\ntwo\nthree\nfour", 2, "three\nfour"},
		{"drops blank lines", "one\n\n\ntwo\n", 2, "one\ntwo"},
		{"empty input", "", 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tailLines(tt.in, tt.n); got != tt.want {
				t.Errorf("tailLines(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestImageDigest(t *testing.T) {
	digest := "sha256:" + strings.Repeat("ab", 32)
	out := "pushing manifest for phpkiln/app:8.3-alpine@" + digest + " done"

	if got := imageDigest(out); got != digest {
		t.Errorf("imageDigest() = %q, want %q", got, digest)
	}
	if got := imageDigest("no digest here"); got != "" {
		t.Errorf("expected empty digest, got %q", got)
	}
}
