package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// dockerKillGrace is how long the host waits past the command timeout for the in-container
// timeout to fire and report back.
const dockerKillGrace = 5 * time.Second

// DockerRunner executes commands inside a long-lived toolbox container holding the
// orchestration CLI and its cluster credentials.
type DockerRunner struct {
	client    *client.Client
	container string
	logger    *slog.Logger
}

// NewDockerRunner connects to the Docker daemon. An empty host uses the environment defaults.
func NewDockerRunner(host, containerName string, logger *slog.Logger) (*DockerRunner, error) {
	containerName = strings.TrimSpace(containerName)
	if containerName == "" {
		return nil, errors.New("cluster: runner container name required")
	}
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerRunner{client: inner, container: containerName, logger: logger.With("component", "runner")}, nil
}

// Ping validates connectivity to the Docker daemon and that the toolbox container is running.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	inspect, err := r.client.ContainerInspect(ctx, r.container)
	if err != nil {
		return fmt.Errorf("inspect runner container: %w", err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil || !inspect.State.Running {
		return fmt.Errorf("runner container %s is not running", r.container)
	}
	return nil
}

// Run executes cmd via docker exec. The exec API cannot signal a process, so the command runs
// under timeout(1) in the container, which must provide it (coreutils or busybox).
func (r *DockerRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Args) == 0 || cmd.Args[0] == "" {
		return Result{}, ErrEmptyCommand
	}
	timeout := effectiveTimeout(cmd)
	runCtx, cancel := context.WithTimeout(ctx, timeout+dockerKillGrace)
	defer cancel()

	start := time.Now()
	exec, err := r.client.ContainerExecCreate(runCtx, r.container, container.ExecOptions{
		Cmd:          withContainerTimeout(cmd.Args, timeout),
		AttachStdin:  len(cmd.Stdin) > 0,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("exec create: %w", err)
	}

	resp, err := r.client.ContainerExecAttach(runCtx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("exec attach: %w", err)
	}
	defer resp.Close()

	if len(cmd.Stdin) > 0 {
		if _, err := resp.Conn.Write(cmd.Stdin); err != nil {
			return Result{}, fmt.Errorf("exec write stdin: %w", err)
		}
		if err := resp.CloseWrite(); err != nil {
			return Result{}, fmt.Errorf("exec close stdin: %w", err)
		}
	}

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil {
			return Result{}, fmt.Errorf("exec read output: %w", err)
		}
	case <-runCtx.Done():
		resp.Close()
		<-copyDone
		result := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		// the container did not answer; its timeout(1) still kills the command.
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("command timed out", "command", cmd.String(), "timeout", timeout)
		return result, nil
	}

	inspect, err := r.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return Result{}, fmt.Errorf("exec inspect: %w", err)
	}
	result := Result{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if killedByTimeout(result.ExitCode, result.Duration, timeout) {
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("command timed out", "command", cmd.String(), "timeout", timeout)
	}
	return result, nil
}

// withContainerTimeout prefixes args with timeout(1) sending SIGKILL after d, rounded up to whole seconds.
func withContainerTimeout(args []string, d time.Duration) []string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	out := make([]string, 0, len(args)+4)
	out = append(out, "timeout", "-s", "KILL", strconv.Itoa(secs))
	return append(out, args...)
}

// killedByTimeout reports whether an exit status came from timeout(1) killing the command.
func killedByTimeout(exitCode int, elapsed, timeout time.Duration) bool {
	if elapsed < timeout {
		return false
	}
	return exitCode == 124 || exitCode == 137
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.client.Close()
}
