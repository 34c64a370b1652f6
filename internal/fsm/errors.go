package fsm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTransition matches errors for transition names that were never registered.
	ErrUnknownTransition = errors.New("fsm: unknown transition")
	// ErrIllegalTransition matches errors for transitions fired from a disallowed state.
	ErrIllegalTransition = errors.New("fsm: illegal transition")
	// ErrDuplicateTransition is returned when a name is registered twice.
	ErrDuplicateTransition = errors.New("fsm: transition already registered")
)

// UnknownTransitionError reports a transition name missing from the table.
type UnknownTransitionError struct {
	Transition string
}

func (e *UnknownTransitionError) Error() string {
	return fmt.Sprintf("fsm: unknown transition %q", e.Transition)
}

// Is lets errors.Is match ErrUnknownTransition.
func (e *UnknownTransitionError) Is(target error) bool {
	return target == ErrUnknownTransition
}

// IllegalTransitionError reports that the current state is not a source of the transition.
type IllegalTransitionError struct {
	Transition string
	State      string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("fsm: transition %q not allowed from state %s", e.Transition, e.State)
}

// Is lets errors.Is match ErrIllegalTransition.
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
