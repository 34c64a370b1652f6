package cluster

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTimeout bounds a command that does not carry its own timeout.
const DefaultTimeout = 10 * time.Minute

// ErrEmptyCommand is returned when a command has no program to run.
var ErrEmptyCommand = errors.New("cluster: empty command")

// Command is one invocation of the orchestration tool.
type Command struct {
	Args    []string
	Stdin   []byte
	Timeout time.Duration
}

// String renders the argv for logs.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result captures the outcome of a finished (or killed) process. Output is never interpreted here.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Success reports a zero exit status that was not caused by a timeout.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Runner executes orchestration commands.
//
// A non-zero exit is reported through Result with a nil error. The error return is reserved
// for failures to start or supervise the process.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

func effectiveTimeout(cmd Command) time.Duration {
	if cmd.Timeout > 0 {
		return cmd.Timeout
	}
	return DefaultTimeout
}
