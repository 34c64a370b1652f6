package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/fsm"
	"github.com/osval-do/USOP/internal/lock"
	"github.com/osval-do/USOP/internal/repository"
	"github.com/osval-do/USOP/internal/runtime/kubernetes"
)

// PodLister reports the pods of a release.
type PodLister interface {
	ReleasePods(ctx context.Context, namespace, release string) ([]kubernetes.PodStatus, error)
}

// ErrInspectionDisabled is returned by Resources when no cluster inspector is configured.
var ErrInspectionDisabled = errors.New("lifecycle: cluster inspection disabled")

// CreateRequest holds the fields accepted for a new service.
type CreateRequest struct {
	ExtID    string
	Name     string
	Region   *domain.Region
	Org      *domain.Org
	Template domain.TemplateRef
	Settings map[string]any
	Blocked  bool
}

// Manager serializes transitions per record and builds a fresh controller for each call.
type Manager struct {
	deps    *Dependencies
	factory Factory
	locker  lock.Locker
	history repository.TransitionRepository
	pods    PodLister
	graph   *fsm.Machine[domain.ServiceStatus]
	log     *slog.Logger
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithHistory enables transition history reads.
func WithHistory(history repository.TransitionRepository) ManagerOption {
	return func(m *Manager) { m.history = history }
}

// WithPods enables release pod inspection.
func WithPods(pods PodLister) ManagerOption {
	return func(m *Manager) { m.pods = pods }
}

// NewManager wires a Manager. A nil locker falls back to an in-process lock.
func NewManager(deps *Dependencies, factory Factory, locker lock.Locker, opts ...ManagerOption) *Manager {
	if locker == nil {
		locker = lock.NewMemory()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		deps:    deps,
		factory: factory,
		locker:  locker,
		graph:   NewMachine(),
		log:     log.With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new record in NEW. Missing ids are generated.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Service, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(req.Template.Chart) == "" {
		return nil, fmt.Errorf("%w: chart is required", ErrInvalidRecord)
	}
	extID := strings.TrimSpace(req.ExtID)
	if extID == "" {
		extID = uuid.NewString()
	}
	svc := &domain.Service{
		ID:       uuid.NewString(),
		ExtID:    extID,
		PID:      releaseName(name),
		Name:     name,
		Status:   domain.StatusNew,
		Blocked:  req.Blocked,
		Region:   req.Region,
		Org:      req.Org,
		Template: req.Template,
		Settings: req.Settings,
	}
	if err := m.deps.Store.CreateService(ctx, svc); err != nil {
		return nil, err
	}
	m.log.Info("service created", "service_id", svc.ExtID, "release", svc.PID)
	return svc, nil
}

// Get loads a record by external id.
func (m *Manager) Get(ctx context.Context, extID string) (*domain.Service, error) {
	return m.deps.Store.GetServiceByExtID(ctx, extID)
}

// List returns stored records.
func (m *Manager) List(ctx context.Context, limit int) ([]domain.Service, error) {
	return m.deps.Store.ListServices(ctx, limit)
}

// Status reads the committed state. It takes no lock.
func (m *Manager) Status(ctx context.Context, extID string) (domain.ServiceStatus, error) {
	svc, err := m.deps.Store.GetServiceByExtID(ctx, extID)
	if err != nil {
		return "", err
	}
	return m.factory(m.deps, svc).Status(), nil
}

// Fire runs transition against the record under its lock and returns the record as committed.
func (m *Manager) Fire(ctx context.Context, extID, transition string) (*domain.Service, error) {
	transition = strings.ToLower(strings.TrimSpace(transition))
	if _, ok := m.graph.Lookup(transition); !ok {
		err := &fsm.UnknownTransitionError{Transition: transition}
		m.deps.Metrics.observeTransition(transition, err)
		return nil, err
	}

	release, err := m.locker.Acquire(ctx, lockKey(extID))
	if err != nil {
		return nil, fmt.Errorf("lock service %s: %w", extID, err)
	}
	defer release()

	svc, err := m.deps.Store.GetServiceByExtID(ctx, extID)
	if err != nil {
		return nil, err
	}
	log := m.log.With("service_id", extID, "transition", transition, "from", string(svc.Status))

	ctrl := m.factory(m.deps, svc)
	err = dispatch(ctrl, transition)(ctx)
	m.deps.Metrics.observeTransition(transition, err)
	if err != nil {
		log.Warn("transition failed", "status", string(ctrl.Status()), "error", err)
		return svc, err
	}
	log.Info("transition committed", "to", string(ctrl.Status()))
	return svc, nil
}

// Available lists the transitions that may fire from the record's current state.
func (m *Manager) Available(ctx context.Context, extID string) ([]string, error) {
	svc, err := m.deps.Store.GetServiceByExtID(ctx, extID)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, t := range m.graph.Transitions() {
		if t.Sources.Allows(svc.Status) {
			names = append(names, t.Name)
		}
	}
	return names, nil
}

// History returns committed transitions of the record, newest first.
func (m *Manager) History(ctx context.Context, extID string, limit int) ([]domain.TransitionRecord, error) {
	svc, err := m.deps.Store.GetServiceByExtID(ctx, extID)
	if err != nil {
		return nil, err
	}
	if m.history == nil {
		return nil, nil
	}
	return m.history.ListTransitions(ctx, svc.ID, limit)
}

// Resources lists the pods of the record's release.
func (m *Manager) Resources(ctx context.Context, extID string) ([]kubernetes.PodStatus, error) {
	svc, err := m.deps.Store.GetServiceByExtID(ctx, extID)
	if err != nil {
		return nil, err
	}
	if m.pods == nil {
		return nil, ErrInspectionDisabled
	}
	return m.pods.ReleasePods(ctx, svc.Namespace(m.deps.Config.DefaultNamespace), svc.PID)
}

// Backups lists the stored backup keys of the record.
func (m *Manager) Backups(ctx context.Context, extID string) ([]string, error) {
	svc, err := m.deps.Store.GetServiceByExtID(ctx, extID)
	if err != nil {
		return nil, err
	}
	if m.deps.Backups == nil {
		return nil, ErrBackupsDisabled
	}
	return m.deps.Backups.List(ctx, "backups/"+svc.ExtID+"/")
}

// Transitions returns the full transition table.
func (m *Manager) Transitions() []fsm.Transition[domain.ServiceStatus] {
	return m.graph.Transitions()
}

func dispatch(ctrl ServiceController, transition string) func(context.Context) error {
	switch transition {
	case TransitionDeploy:
		return ctrl.Deploy
	case TransitionMarkForUpgrade:
		return ctrl.MarkForUpgrade
	case TransitionBeginUpgrade:
		return ctrl.BeginUpgrade
	case TransitionUpgrade:
		return ctrl.Upgrade
	case TransitionStop:
		return ctrl.Stop
	case TransitionRestart:
		return ctrl.Restart
	case TransitionRollback:
		return ctrl.Rollback
	case TransitionBackup:
		return ctrl.Backup
	case TransitionDestroy:
		return ctrl.Destroy
	}
	return func(context.Context) error {
		return &fsm.UnknownTransitionError{Transition: transition}
	}
}

func lockKey(extID string) string {
	return "service:" + extID
}

// releaseName derives a Helm release name: lowercase DNS label characters with a short unique suffix.
func releaseName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	base := strings.Trim(b.String(), "-")
	if len(base) > 40 {
		base = strings.TrimRight(base[:40], "-")
	}
	if base == "" {
		base = "svc"
	}
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
