package domain

import "time"

// TransitionRecord is an audit entry written after a committed lifecycle transition.
type TransitionRecord struct {
	ID         int64
	ServiceID  string
	Transition string
	Source     ServiceStatus
	Target     ServiceStatus
	CreatedAt  time.Time
}
