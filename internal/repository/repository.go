package repository

import (
	"context"

	"github.com/osval-do/USOP/internal/domain"
)

// ServiceRepository persists service records.
type ServiceRepository interface {
	CreateService(ctx context.Context, svc *domain.Service) error
	GetService(ctx context.Context, id string) (*domain.Service, error)
	GetServiceByExtID(ctx context.Context, extID string) (*domain.Service, error)
	ListServices(ctx context.Context, limit int) ([]domain.Service, error)
	SaveService(ctx context.Context, svc *domain.Service) error
}

// TransitionRepository stores the audit trail of committed lifecycle transitions.
type TransitionRepository interface {
	AppendTransition(ctx context.Context, record *domain.TransitionRecord) error
	ListTransitions(ctx context.Context, serviceID string, limit int) ([]domain.TransitionRecord, error)
}
