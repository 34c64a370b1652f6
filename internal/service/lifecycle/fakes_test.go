package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/osval-do/USOP/internal/billing"
	"github.com/osval-do/USOP/internal/cluster"
	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/objectstore"
	"github.com/osval-do/USOP/internal/repository/memory"
	"github.com/osval-do/USOP/pkg/config"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []cluster.Command
	results []cluster.Result
	err     error
	delay   time.Duration
}

func (f *fakeRunner) Run(_ context.Context, cmd cluster.Command) (cluster.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if f.err != nil {
		return cluster.Result{ExitCode: -1}, f.err
	}
	if len(f.results) == 0 {
		return cluster.Result{Duration: time.Millisecond}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeVolumes struct {
	calls     int
	namespace string
	release   string
	err       error
}

func (f *fakeVolumes) DeleteReleaseVolumes(_ context.Context, namespace, release string) (int, error) {
	f.calls++
	f.namespace = namespace
	f.release = release
	return 1, f.err
}

type recordingObserver struct {
	events []Event
}

func (r *recordingObserver) Observe(_ context.Context, event Event) {
	r.events = append(r.events, event)
}

type failingStore struct {
	*memory.Repository
}

func (failingStore) SaveService(context.Context, *domain.Service) error {
	return errors.New("database unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.DeployConfig {
	return config.DeployConfig{
		DefaultNamespace: "usop-default",
		HelmCommand:      []string{"helm"},
		CommandTimeout:   time.Minute,
	}
}

func newService(status domain.ServiceStatus) *domain.Service {
	return &domain.Service{
		ID:       "svc-id",
		ExtID:    "svc-ext",
		PID:      "pg-1a2b3c4d",
		Name:     "pg",
		Status:   status,
		Template: domain.TemplateRef{Name: "postgres", Chart: "bitnami/postgresql", Version: "12.1.0"},
	}
}

type harness struct {
	store    *memory.Repository
	runner   *fakeRunner
	observer *recordingObserver
	backups  *objectstore.Memory
	deps     *Dependencies
}

func newHarness(svc *domain.Service) *harness {
	h := &harness{
		store:    memory.New(),
		runner:   &fakeRunner{},
		observer: &recordingObserver{},
		backups:  objectstore.NewMemory(),
	}
	if svc != nil {
		if err := h.store.CreateService(context.Background(), svc); err != nil {
			panic(err)
		}
	}
	h.deps = &Dependencies{
		Store:     h.store,
		Runner:    h.runner,
		Billing:   billing.AllowAll{},
		Config:    testConfig(),
		Backups:   h.backups,
		Observers: []Observer{h.observer},
		Logger:    discardLogger(),
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	return h
}

func (h *harness) stored(id string) domain.ServiceStatus {
	svc, err := h.store.GetService(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return svc.Status
}
