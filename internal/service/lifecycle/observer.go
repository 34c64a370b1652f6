package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/repository"
)

// Event describes a committed transition.
type Event struct {
	Service    *domain.Service
	Transition string
	Source     domain.ServiceStatus
	Target     domain.ServiceStatus
	At         time.Time
}

// Observer is notified synchronously after every commit. It cannot fail the transition.
type Observer interface {
	Observe(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, event Event) {
	f(ctx, event)
}

// LogObserver writes one line per commit.
type LogObserver struct {
	Logger *slog.Logger
}

// Observe logs the event.
func (o LogObserver) Observe(_ context.Context, event Event) {
	o.Logger.Info("service status changed",
		"service_id", event.Service.ExtID,
		"transition", event.Transition,
		"from", string(event.Source),
		"to", string(event.Target),
	)
}

// AuditObserver appends every commit to the transition history.
type AuditObserver struct {
	Store  repository.TransitionRepository
	Logger *slog.Logger
}

// Observe records the event. Failures are logged because the state change is already committed.
func (o AuditObserver) Observe(ctx context.Context, event Event) {
	record := &domain.TransitionRecord{
		ServiceID:  event.Service.ID,
		Transition: event.Transition,
		Source:     event.Source,
		Target:     event.Target,
		CreatedAt:  event.At,
	}
	if err := o.Store.AppendTransition(ctx, record); err != nil {
		o.Logger.Error("append transition history",
			"service_id", event.Service.ExtID,
			"transition", event.Transition,
			"error", err,
		)
	}
}
