package builder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phpkiln/phpkiln/pkg/faults"
	"github.com/phpkiln/phpkiln/pkg/stores"
	"github.com/phpkiln/phpkiln/pkg/telemetry"
)

// RunnerConfig wires the runner's collaborators. Executor is required;
// events, metrics and store degrade to no-ops when nil.
type RunnerConfig struct {
	Executor   Executor
	Classifier *faults.Classifier
	Events     *telemetry.EventPublisher
	Metrics    *telemetry.Metrics
	Store      stores.Store

	// Parallel bounds concurrent build jobs. Defaults to 2.
	Parallel int

	// MaxRetries bounds retries per job beyond the first attempt.
	MaxRetries int

	// RetryDelay is the base backoff delay. Defaults to 2s.
	RetryDelay time.Duration

	// DryRun logs commands without executing them.
	DryRun bool

	// Trigger labels what started the run, e.g. "cli" or "matrix".
	Trigger string
}

// Runner executes build plans with bounded parallelism and classified
// retries.
type Runner struct {
	logger zerolog.Logger
	cfg    RunnerConfig
}

// NewRunner validates the configuration and returns a Runner.
func NewRunner(logger zerolog.Logger, cfg RunnerConfig) (*Runner, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("runner: executor is required")
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Classifier == nil {
		cfg.Classifier = faults.NewClassifier(0)
	}
	if cfg.Trigger == "" {
		cfg.Trigger = "cli"
	}

	return &Runner{
		logger: logger.With().Str("component", "builder").Logger(),
		cfg:    cfg,
	}, nil
}

// JobResult is the outcome of one build job.
type JobResult struct {
	Job      BuildJob
	Status   stores.BuildStatus
	Attempts int
	Duration time.Duration

	// Output holds the tail of the command output on failure.
	Output string
	Err    error
}

// ManifestResult is the outcome of the manifest job.
type ManifestResult struct {
	ImageRef string
	Status   stores.BuildStatus
	Attempts int
	Duration time.Duration
	Err      error
}

// RunResult summarizes a plan execution.
type RunResult struct {
	BuildID   string
	Jobs      []JobResult
	Manifest  *ManifestResult
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Run drains the plan through the worker pool, then runs the manifest job
// once every build succeeded. The returned error is non-nil when any job
// failed or the context was cancelled; the result is populated either way.
func (r *Runner) Run(ctx context.Context, plan *BuildPlan) (*RunResult, error) {
	if plan == nil || len(plan.Builds) == 0 {
		return nil, fmt.Errorf("runner: empty build plan")
	}

	buildID := uuid.New().String()
	started := time.Now()

	r.logger.Info().
		Str("build_id", buildID).
		Int("jobs", len(plan.Builds)).
		Int("parallel", r.cfg.Parallel).
		Bool("dry_run", r.cfg.DryRun).
		Msg("starting build run")

	if r.cfg.Events != nil {
		_ = r.cfg.Events.PublishBuildStarted(buildID, r.cfg.Trigger, len(plan.Builds))
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordBuildStarted(r.cfg.Trigger)
		r.cfg.Metrics.SetQueuedJobs(float64(len(plan.Builds)))
	}

	workers := r.cfg.Parallel
	if len(plan.Builds) < workers {
		workers = len(plan.Builds)
	}

	queue := make(chan BuildJob, len(plan.Builds))
	for _, job := range plan.Builds {
		queue <- job
	}
	close(queue)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []JobResult
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for job := range queue {
				res := r.executeJob(ctx, buildID, job)

				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if r.cfg.Metrics != nil {
					r.cfg.Metrics.SetQueuedJobs(float64(len(queue)))
				}

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}

	wg.Wait()

	// Workers append in completion order; report in plan order.
	order := make(map[string]int, len(plan.Builds))
	for i, j := range plan.Builds {
		order[j.ID] = i
	}
	sort.Slice(results, func(a, b int) bool {
		return order[results[a].Job.ID] < order[results[b].Job.ID]
	})

	result := &RunResult{BuildID: buildID, Jobs: results}
	for _, jr := range results {
		if jr.Status == stores.BuildStatusSucceeded {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	// Jobs never dequeued after cancellation count as failed.
	result.Failed += len(plan.Builds) - len(results)

	if plan.Manifest != nil {
		if result.Failed == 0 && ctx.Err() == nil {
			mr := r.executeManifest(ctx, buildID, *plan.Manifest)
			result.Manifest = &mr
		} else {
			r.logger.Warn().
				Str("build_id", buildID).
				Str("image_ref", plan.Manifest.ImageRef).
				Msg("skipping manifest, not all builds succeeded")
		}
	}

	result.Duration = time.Since(started)

	runFailed := result.Failed > 0 ||
		(plan.Manifest != nil && (result.Manifest == nil || result.Manifest.Err != nil))

	status := "succeeded"
	if runFailed {
		status = "failed"
	}

	if r.cfg.Events != nil {
		if runFailed {
			reason := fmt.Sprintf("%d of %d builds failed", result.Failed, len(plan.Builds))
			if result.Failed == 0 {
				reason = "manifest creation failed for " + plan.Manifest.ImageRef
			}
			_ = r.cfg.Events.PublishBuildFailed(buildID, reason)
		}
		_ = r.cfg.Events.PublishBuildCompleted(buildID, status, result.Duration)
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordBuildCompleted(status, result.Duration)
		r.cfg.Metrics.SetQueuedJobs(0)
	}
	r.appendRunEvent(buildID, status, result)

	r.logger.Info().
		Str("build_id", buildID).
		Str("status", status).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("build run finished")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("%d of %d builds failed", result.Failed, len(plan.Builds))
	}
	if runFailed {
		return result, fmt.Errorf("manifest creation failed for %s", plan.Manifest.ImageRef)
	}
	return result, nil
}

// executeJob runs one build job to a terminal status, recording history,
// events and metrics along the way.
func (r *Runner) executeJob(ctx context.Context, buildID string, job BuildJob) JobResult {
	logger := r.logger.With().
		Str("build_id", buildID).
		Str("job_id", job.ID).
		Str("image_ref", job.ImageRef).
		Str("architecture", job.Architecture).
		Logger()

	started := time.Now()
	r.recordBuildStart(job, started, logger)

	if r.cfg.Events != nil {
		_ = r.cfg.Events.PublishJobStarted(buildID, job.ID, job.ImageRef, StageBuild)
	}

	op := "build." + archTag(job.Architecture)
	attempts, out, err := r.runWithRetry(ctx, logger, buildID, job.ID, StageBuild, op, job.Command())

	res := JobResult{Job: job, Attempts: attempts, Duration: time.Since(started)}
	switch {
	case err == nil:
		res.Status = stores.BuildStatusSucceeded
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = stores.BuildStatusCancelled
		res.Err = err
	default:
		res.Status = stores.BuildStatusFailed
		res.Err = err
		res.Output = tailLines(out.Stderr, 20)
	}

	r.finishJob(buildID, job, &res, out, logger)
	return res
}

// runWithRetry executes cmd until it succeeds, the classifier rules the
// failure out, retries are exhausted or the context ends. It returns the
// attempt count along with the last output and error.
func (r *Runner) runWithRetry(
	ctx context.Context,
	logger zerolog.Logger,
	buildID, jobID, stage, op string,
	cmd Command,
) (int, CommandResult, error) {
	var (
		attempts int
		lastOut  CommandResult
		lastErr  error
	)

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		attempts = attempt + 1

		if r.cfg.DryRun {
			logger.Info().Str("command", cmd.String()).Msg("dry run, skipping execution")
			return attempts, CommandResult{}, nil
		}

		out, err := r.cfg.Executor.Run(ctx, cmd)
		lastOut, lastErr = out, err
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordExecutorCall(r.cfg.Executor.Name(), stage, out.Duration)
		}
		if err == nil {
			return attempts, out, nil
		}
		if ctx.Err() != nil {
			return attempts, out, ctx.Err()
		}

		kind := classifyCommandFailure(stage, out.Stderr)
		failure := faults.Failure{
			Kind:    kind,
			Op:      op,
			Message: tailLines(out.Stderr, 4),
			Err:     err,
		}
		cls := r.cfg.Classifier.Record(failure)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordError(string(kind))
			r.cfg.Metrics.RecordExecutorError(r.cfg.Executor.Name(), stage)
		}

		if !cls.Retryable || attempt >= r.cfg.MaxRetries {
			return attempts, out, err
		}

		delay := faults.Delay(cls.Strategy, attempts, r.cfg.RetryDelay)
		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("delay", delay).
			Str("kind", string(kind)).
			Str("strategy", string(cls.Strategy)).
			Msg("command failed, retrying")

		if r.cfg.Events != nil {
			_ = r.cfg.Events.PublishJobRetried(buildID, jobID, attempts, delay, failure.Message)
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordJobRetry(stage, string(kind))
		}
		if r.cfg.Store != nil && stage == StageBuild {
			r.withStoreContext(func(sctx context.Context) {
				if err := r.cfg.Store.IncrementBuildAttempts(sctx, jobID); err != nil {
					logger.Warn().Err(err).Msg("failed to record retry")
				}
			})
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempts, out, ctx.Err()
		}
	}

	return attempts, lastOut, lastErr
}

// executeManifest runs the manifest job with the same retry machinery as
// builds. Manifest failures classify as push failures.
func (r *Runner) executeManifest(ctx context.Context, buildID string, job ManifestJob) ManifestResult {
	logger := r.logger.With().
		Str("build_id", buildID).
		Str("job_id", job.ID).
		Str("image_ref", job.ImageRef).
		Logger()

	started := time.Now()

	if r.cfg.Events != nil {
		_ = r.cfg.Events.PublishJobStarted(buildID, job.ID, job.ImageRef, StageManifest)
	}
	logger.Info().Int("sources", len(job.Sources)).Msg("creating manifest list")

	attempts, out, err := r.runWithRetry(ctx, logger, buildID, job.ID, StageManifest, "manifest.create", job.Command())

	res := ManifestResult{ImageRef: job.ImageRef, Attempts: attempts, Duration: time.Since(started)}
	switch {
	case err == nil:
		res.Status = stores.BuildStatusSucceeded
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = stores.BuildStatusCancelled
		res.Err = err
	default:
		res.Status = stores.BuildStatusFailed
		res.Err = err
	}

	if res.Status == stores.BuildStatusSucceeded {
		if r.cfg.Events != nil {
			_ = r.cfg.Events.PublishJobCompleted(buildID, job.ID, job.ImageRef, res.Duration)
			if !r.cfg.DryRun {
				_ = r.cfg.Events.PublishImagePushed(buildID, job.ImageRef, imageDigest(out.Stdout+out.Stderr))
			}
		}
		logger.Info().Dur("duration", res.Duration).Msg("manifest created")
	} else if res.Status == stores.BuildStatusFailed {
		if r.cfg.Events != nil {
			_ = r.cfg.Events.PublishJobFailed(buildID, job.ID, job.ImageRef, res.Err.Error())
		}
		logger.Error().Err(res.Err).Int("attempts", res.Attempts).Msg("manifest creation failed")
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordJobExecution(StageManifest, string(res.Status), "multi", res.Duration)
	}

	return res
}

// recordBuildStart creates the history record for a job.
func (r *Runner) recordBuildStart(job BuildJob, started time.Time, logger zerolog.Logger) {
	if r.cfg.Store == nil {
		return
	}
	record := &stores.BuildRecord{
		ID:           job.ID,
		ImageRef:     job.ImageRef,
		PHPVersion:   job.PHPVersion,
		Platform:     job.Platform,
		Architecture: job.Architecture,
		Status:       stores.BuildStatusRunning,
		ConfigDigest: job.ConfigDigest,
		StartedAt:    started,
		CreatedAt:    started,
		UpdatedAt:    started,
	}
	r.withStoreContext(func(sctx context.Context) {
		if err := r.cfg.Store.CreateBuild(sctx, record); err != nil {
			logger.Warn().Err(err).Msg("failed to record build start")
		}
	})
}

// finishJob records the terminal status of a job in the store, events and
// metrics.
func (r *Runner) finishJob(buildID string, job BuildJob, res *JobResult, out CommandResult, logger zerolog.Logger) {
	if r.cfg.Store != nil {
		var errMsg *string
		if res.Err != nil {
			m := res.Err.Error()
			errMsg = &m
		}
		r.withStoreContext(func(sctx context.Context) {
			if err := r.cfg.Store.UpdateBuildStatus(sctx, job.ID, res.Status, errMsg); err != nil {
				logger.Warn().Err(err).Msg("failed to record build status")
			}
		})
	}

	switch res.Status {
	case stores.BuildStatusSucceeded:
		if r.cfg.Events != nil {
			_ = r.cfg.Events.PublishJobCompleted(buildID, job.ID, job.ImageRef, res.Duration)
			if job.Push && !r.cfg.DryRun {
				_ = r.cfg.Events.PublishImagePushed(buildID, job.ImageRef, imageDigest(out.Stdout+out.Stderr))
			}
		}
		logger.Info().Dur("duration", res.Duration).Int("attempts", res.Attempts).Msg("image built")
	case stores.BuildStatusFailed:
		if r.cfg.Events != nil {
			_ = r.cfg.Events.PublishJobFailed(buildID, job.ID, job.ImageRef, res.Err.Error())
		}
		logger.Error().Err(res.Err).Int("attempts", res.Attempts).Msg("image build failed")
	case stores.BuildStatusCancelled:
		logger.Warn().Msg("image build cancelled")
	}

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordJobExecution(StageBuild, string(res.Status), job.Platform, res.Duration)
	}
}

// appendRunEvent writes one run-level summary line to the history store.
func (r *Runner) appendRunEvent(buildID, status string, result *RunResult) {
	if r.cfg.Store == nil {
		return
	}
	level := stores.EventLevelInfo
	if status != "succeeded" {
		level = stores.EventLevelError
	}
	event := &stores.BuildEvent{
		Level: level,
		Message: fmt.Sprintf("build run %s %s: %d succeeded, %d failed",
			buildID, status, result.Succeeded, result.Failed),
		Timestamp: time.Now(),
	}
	r.withStoreContext(func(sctx context.Context) {
		if err := r.cfg.Store.AppendEvent(sctx, event); err != nil {
			r.logger.Warn().Err(err).Msg("failed to append run event")
		}
	})
}

// withStoreContext runs a store write with its own deadline, detached from
// the run context so terminal statuses land even after cancellation.
func (r *Runner) withStoreContext(fn func(ctx context.Context)) {
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fn(sctx)
}

// classifyCommandFailure maps a buildx failure onto a failure kind using
// the captured stderr. Registry auth and connectivity problems retry in
// ways a failing Dockerfile instruction must not.
func classifyCommandFailure(stage, stderr string) faults.Kind {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "unauthorized") ||
		strings.Contains(s, "access denied") ||
		strings.Contains(s, "authentication required"):
		return faults.KindRegistry
	case strings.Contains(s, "no such host") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "i/o timeout") ||
		strings.Contains(s, "tls handshake timeout"):
		return faults.KindNetwork
	case strings.Contains(s, "failed to push"):
		return faults.KindPush
	}
	if stage == StageManifest {
		return faults.KindPush
	}
	return faults.KindBuild
}

var digestPattern = regexp.MustCompile(`sha256:[a-f0-9]{64}`)

// imageDigest extracts the first image digest from buildx output.
func imageDigest(output string) string {
	return digestPattern.FindString(output)
}

// tailLines returns the last n non-empty lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, "\n")
}
