// Package memory keeps service records in process memory. It backs tests and
// single-node development runs where no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/repository"
)

// Repository is a mutex guarded in-memory store.
type Repository struct {
	mu          sync.RWMutex
	services    map[string]*domain.Service
	byExtID     map[string]string
	transitions map[string][]domain.TransitionRecord
	nextID      int64
	now         func() time.Time
}

var (
	_ repository.ServiceRepository    = (*Repository)(nil)
	_ repository.TransitionRepository = (*Repository)(nil)
)

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		services:    make(map[string]*domain.Service),
		byExtID:     make(map[string]string),
		transitions: make(map[string][]domain.TransitionRecord),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateService stores a new record.
func (r *Repository) CreateService(_ context.Context, svc *domain.Service) error {
	if svc == nil || svc.ID == "" || svc.ExtID == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[svc.ID]; exists {
		return repository.ErrConflict
	}
	if _, exists := r.byExtID[svc.ExtID]; exists {
		return repository.ErrConflict
	}
	now := r.now()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	r.services[svc.ID] = svc.Clone()
	r.byExtID[svc.ExtID] = svc.ID
	return nil
}

// GetService fetches a record by storage id.
func (r *Repository) GetService(_ context.Context, id string) (*domain.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return svc.Clone(), nil
}

// GetServiceByExtID fetches a record by external id.
func (r *Repository) GetServiceByExtID(ctx context.Context, extID string) (*domain.Service, error) {
	r.mu.RLock()
	id, ok := r.byExtID[extID]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetService(ctx, id)
}

// ListServices returns records ordered by name.
func (r *Repository) ListServices(_ context.Context, limit int) ([]domain.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, *svc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveService overwrites the mutable fields of an existing record.
func (r *Repository) SaveService(_ context.Context, svc *domain.Service) error {
	if svc == nil {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.services[svc.ID]
	if !ok {
		return repository.ErrNotFound
	}
	updated := svc.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = r.now()
	r.services[svc.ID] = updated
	svc.UpdatedAt = updated.UpdatedAt
	return nil
}

// AppendTransition records a committed transition.
func (r *Repository) AppendTransition(_ context.Context, record *domain.TransitionRecord) error {
	if record == nil || record.ServiceID == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	record.ID = r.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}
	r.transitions[record.ServiceID] = append(r.transitions[record.ServiceID], *record)
	return nil
}

// ListTransitions returns the newest transitions first.
func (r *Repository) ListTransitions(_ context.Context, serviceID string, limit int) ([]domain.TransitionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.transitions[serviceID]
	out := make([]domain.TransitionRecord, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
