package cluster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/osval-do/USOP/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	runner := NewExecRunner(testLogger())

	res, err := runner.Run(context.Background(), Command{Args: []string{"sh", "-c", "echo out; echo err >&2"}})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("unexpected output stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

func TestExecRunnerReportsNonZeroExitWithoutError(t *testing.T) {
	runner := NewExecRunner(testLogger())

	res, err := runner.Run(context.Background(), Command{Args: []string{"sh", "-c", "echo timeout >&2; exit 3"}})
	if err != nil {
		t.Fatalf("expected nil error for non-zero exit, got %v", err)
	}
	if res.ExitCode != 3 || res.Success() {
		t.Fatalf("expected exit code 3, got %+v", res)
	}
	if strings.TrimSpace(res.Stderr) != "timeout" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
}

func TestExecRunnerFeedsStdin(t *testing.T) {
	runner := NewExecRunner(testLogger())

	res, err := runner.Run(context.Background(), Command{Args: []string{"cat"}, Stdin: []byte("replicas: 2\n")})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Stdout != "replicas: 2\n" {
		t.Fatalf("expected stdin to be echoed, got %q", res.Stdout)
	}
}

func TestExecRunnerKillsOnTimeout(t *testing.T) {
	runner := NewExecRunner(testLogger())

	start := time.Now()
	res, err := runner.Run(context.Background(), Command{Args: []string{"sleep", "5"}, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("expected timeout to be reported in result, got %v", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Fatalf("expected timed out result, got %+v", res)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("process was not killed promptly")
	}
}

func TestExecRunnerKillsForkedChildrenOnTimeout(t *testing.T) {
	runner := NewExecRunner(testLogger())

	// the shell forks sleep and keeps the output pipes open through it.
	start := time.Now()
	res, err := runner.Run(context.Background(), Command{Args: []string{"sh", "-c", "sleep 5; true"}, Timeout: 200 * time.Millisecond})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("expected timeout to be reported in result, got %v", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Fatalf("expected timed out result, got %+v", res)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("Run returned after %s, forked child outlived the timeout", elapsed)
	}
}

func TestExecRunnerRejectsEmptyCommand(t *testing.T) {
	runner := NewExecRunner(testLogger())
	if _, err := runner.Run(context.Background(), Command{}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestExecRunnerMissingBinaryIsError(t *testing.T) {
	runner := NewExecRunner(testLogger())
	if _, err := runner.Run(context.Background(), Command{Args: []string{"usop-definitely-missing-binary"}}); err == nil {
		t.Fatal("expected start failure to be returned as error")
	}
}

func TestNewSelectsRunner(t *testing.T) {
	runner, err := New(config.DeployConfig{Runner: "exec"}, testLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, ok := runner.(*ExecRunner); !ok {
		t.Fatalf("expected ExecRunner, got %T", runner)
	}
	if _, err := New(config.DeployConfig{Runner: "docker"}, testLogger()); err == nil {
		t.Fatal("expected docker runner without container name to fail")
	}
	if _, err := New(config.DeployConfig{Runner: "ssh"}, testLogger()); err == nil {
		t.Fatal("expected unknown runner to fail")
	}
}
