package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthorizationDenied is returned when billing refuses a deploy or upgrade. No command is issued.
	ErrAuthorizationDenied = errors.New("lifecycle: authorization denied")
	// ErrOrchestrationFailure matches every OrchestrationError.
	ErrOrchestrationFailure = errors.New("lifecycle: orchestration failure")
	// ErrInvalidRecord is returned when a record lacks what a command needs.
	ErrInvalidRecord = errors.New("lifecycle: invalid service record")
	// ErrBackupsDisabled is returned by backup when no object store is configured.
	ErrBackupsDisabled = errors.New("lifecycle: backup storage not configured")
)

// OrchestrationError reports an external command that exited non-zero, timed out or could not run.
type OrchestrationError struct {
	Transition string
	ExitCode   int
	Stderr     string
	TimedOut   bool
	Err        error
}

func (e *OrchestrationError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("lifecycle: %s timed out", e.Transition)
	case e.Err != nil:
		return fmt.Sprintf("lifecycle: %s failed: %v", e.Transition, e.Err)
	default:
		return fmt.Sprintf("lifecycle: %s exited with code %d: %s", e.Transition, e.ExitCode, e.Stderr)
	}
}

// Is lets errors.Is match ErrOrchestrationFailure.
func (e *OrchestrationError) Is(target error) bool {
	return target == ErrOrchestrationFailure
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}
