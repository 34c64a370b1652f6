package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// killGrace bounds how long Run waits for output pipes after the process group is killed.
const killGrace = 2 * time.Second

// ExecRunner runs commands as local child processes.
type ExecRunner struct {
	logger *slog.Logger
	env    []string
}

// NewExecRunner returns a runner using os/exec. extraEnv is appended to the process environment.
func NewExecRunner(logger *slog.Logger, extraEnv ...string) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger.With("component", "runner"), env: extraEnv}
}

// Run executes cmd, killing it and every process it started when its timeout or ctx expires.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Args) == 0 || cmd.Args[0] == "" {
		return Result{}, ErrEmptyCommand
	}
	runCtx, cancel := context.WithTimeout(ctx, effectiveTimeout(cmd))
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Args[0], cmd.Args[1:]...)
	proc.Env = append(os.Environ(), r.env...)
	// wrappers such as "microk8s helm" fork the real binary; the whole group goes on timeout.
	killProcessGroup(proc)
	proc.WaitDelay = killGrace
	if len(cmd.Stdin) > 0 {
		proc.Stdin = bytes.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	start := time.Now()
	err := proc.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runCtx.Err() != nil && ctx.Err() == nil {
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("command timed out", "command", cmd.String(), "timeout", effectiveTimeout(cmd))
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, fmt.Errorf("run %s: %w", cmd.Args[0], err)
	}
	result.ExitCode = proc.ProcessState.ExitCode()
	return result, nil
}
