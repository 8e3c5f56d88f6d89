package builder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testExecutor() *LocalExecutor {
	return NewLocalExecutor(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLocalExecutorRun(t *testing.T) {
	exec := testExecutor()

	result, err := exec.Run(context.Background(), Command{Name: "echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("expected stdout hello, got %q", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if result.Duration <= 0 {
		t.Error("expected a positive duration")
	}
}

func TestLocalExecutorEnv(t *testing.T) {
	exec := testExecutor()

	result, err := exec.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $KILN_TEST_VALUE"},
		Env:  []string{"KILN_TEST_VALUE=42"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "42" {
		t.Errorf("expected injected environment value, got %q", result.Stdout)
	}
}

func TestLocalExecutorExitCode(t *testing.T) {
	exec := testExecutor()

	result, err := exec.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stderr) != "oops" {
		t.Errorf("expected captured stderr, got %q", result.Stderr)
	}
}

func TestLocalExecutorContextTimeout(t *testing.T) {
	exec := testExecutor()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := exec.Run(ctx, Command{Name: "sleep", Args: []string{"5"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestLocalExecutorMissingBinary(t *testing.T) {
	exec := testExecutor()

	result, err := exec.Run(context.Background(), Command{Name: "kiln-no-such-binary"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if result.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", result.ExitCode)
	}
}

func TestLocalExecutorName(t *testing.T) {
	exec := testExecutor()
	if exec.Name() != "local" {
		t.Errorf("expected name local, got %s", exec.Name())
	}
	if err := exec.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "docker", Args: []string{"buildx", "build", "--tag", "phpkiln/app:8.3-alpine", "."}}
	want := "docker buildx build --tag phpkiln/app:8.3-alpine ."
	if got := cmd.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
