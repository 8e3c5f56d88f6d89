package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Command is one external command an Executor can run.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the caller's.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
}

// String renders the command for logs and dry runs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// CommandResult carries the captured outcome of one command execution.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs build commands somewhere: the local docker daemon or a
// remote build host.
type Executor interface {
	// Name identifies the executor in logs, metrics and events.
	Name() string
	// Run executes the command and returns its captured output. A non-zero
	// exit returns both the result and an error.
	Run(ctx context.Context, cmd Command) (CommandResult, error)
	// Close releases any held connections.
	Close() error
}

// LocalExecutor runs commands on the local machine through os/exec.
type LocalExecutor struct {
	logger zerolog.Logger
}

// NewLocalExecutor returns an Executor for the local docker daemon.
func NewLocalExecutor(logger zerolog.Logger) *LocalExecutor {
	return &LocalExecutor{
		logger: logger.With().Str("component", "executor").Str("executor", "local").Logger(),
	}
}

// Name implements Executor.
func (e *LocalExecutor) Name() string { return "local" }

// Run executes cmd locally, capturing stdout and stderr.
func (e *LocalExecutor) Run(ctx context.Context, cmd Command) (CommandResult, error) {
	e.logger.Debug().Str("command", cmd.String()).Msg("executing command")

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	result := CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
		}
		return result, fmt.Errorf("%s: %w", cmd.Name, err)
	}

	return result, nil
}

// Close implements Executor. The local executor holds no connections.
func (e *LocalExecutor) Close() error { return nil }
