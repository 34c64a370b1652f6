package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/fsm"
	"github.com/osval-do/USOP/internal/lock"
	"github.com/osval-do/USOP/internal/repository"
	"github.com/osval-do/USOP/internal/runtime/kubernetes"
)

type fakePods struct {
	namespace, release string
}

func (f *fakePods) ReleasePods(_ context.Context, namespace, release string) ([]kubernetes.PodStatus, error) {
	f.namespace, f.release = namespace, release
	return []kubernetes.PodStatus{{Name: release + "-0", Phase: "Running", Ready: true}}, nil
}

func helmFactory(t *testing.T) Factory {
	t.Helper()
	factory, err := NewRegistry().Resolve(ControllerHelm)
	if err != nil {
		t.Fatalf("resolve controller: %v", err)
	}
	return factory
}

func newTestManager(t *testing.T, svc *domain.Service, opts ...ManagerOption) (*Manager, *harness) {
	t.Helper()
	h := newHarness(svc)
	h.deps.Observers = append(h.deps.Observers, AuditObserver{Store: h.store, Logger: discardLogger()})
	opts = append([]ManagerOption{WithHistory(h.store)}, opts...)
	return NewManager(h.deps, helmFactory(t), lock.NewMemory(), opts...), h
}

func TestManagerFireCommitsAndRecordsHistory(t *testing.T) {
	mgr, h := newTestManager(t, newService(domain.StatusNew))
	ctx := context.Background()

	svc, err := mgr.Fire(ctx, "svc-ext", " Deploy ")
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if svc.Status != domain.StatusRunning {
		t.Fatalf("expected RUNNING, got %s", svc.Status)
	}
	if _, err := mgr.Fire(ctx, "svc-ext", TransitionStop); err != nil {
		t.Fatalf("Fire stop: %v", err)
	}

	status, err := mgr.Status(ctx, "svc-ext")
	if err != nil || status != domain.StatusStopped {
		t.Fatalf("Status = %s (%v)", status, err)
	}
	history, err := mgr.History(ctx, "svc-ext", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Transition != TransitionStop || history[1].Transition != TransitionDeploy {
		t.Fatalf("unexpected history %+v", history)
	}
	if h.runner.count() != 2 {
		t.Fatalf("expected 2 commands, got %d", h.runner.count())
	}
}

func TestManagerUnknownTransition(t *testing.T) {
	mgr, h := newTestManager(t, newService(domain.StatusNew))

	_, err := mgr.Fire(context.Background(), "svc-ext", "explode")
	if !errors.Is(err, fsm.ErrUnknownTransition) {
		t.Fatalf("expected unknown transition, got %v", err)
	}
	if h.runner.count() != 0 {
		t.Fatal("runner must not be called")
	}
}

func TestManagerMissingService(t *testing.T) {
	mgr, _ := newTestManager(t, nil)

	if _, err := mgr.Fire(context.Background(), "nope", TransitionDeploy); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := mgr.Status(context.Background(), "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestManagerSerializesTransitionsPerRecord(t *testing.T) {
	mgr, h := newTestManager(t, newService(domain.StatusNew))
	h.runner.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Fire(context.Background(), "svc-ext", TransitionDeploy)
		}(i)
	}
	wg.Wait()

	succeeded, illegal := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, fsm.ErrIllegalTransition):
			illegal++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || illegal != 4 {
		t.Fatalf("expected 1 success and 4 illegal, got %d and %d", succeeded, illegal)
	}
	if h.runner.count() != 1 {
		t.Fatalf("expected exactly one deploy command, got %d", h.runner.count())
	}
}

func TestManagerLockTimeout(t *testing.T) {
	locker := lock.NewMemory()
	h := newHarness(newService(domain.StatusNew))
	mgr := NewManager(h.deps, helmFactory(t), locker)

	release, err := locker.Acquire(context.Background(), lockKey("svc-ext"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mgr.Fire(ctx, "svc-ext", TransitionDeploy); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if h.runner.count() != 0 {
		t.Fatal("runner must not be called without the lock")
	}
}

func TestManagerAvailable(t *testing.T) {
	mgr, _ := newTestManager(t, newService(domain.StatusRunning))

	names, err := mgr.Available(context.Background(), "svc-ext")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	want := []string{TransitionBackup, TransitionBeginUpgrade, TransitionDestroy, TransitionMarkForUpgrade, TransitionRestart, TransitionRollback, TransitionStop}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("got %v, want %v", names, want)
	}
}

func TestManagerCreate(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	svc, err := mgr.Create(ctx, CreateRequest{
		ExtID:    "ext-9",
		Name:     "Orders DB!",
		Template: domain.TemplateRef{Chart: "bitnami/postgresql"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if svc.Status != domain.StatusNew || svc.ExtID != "ext-9" {
		t.Fatalf("unexpected service %+v", svc)
	}
	if !strings.HasPrefix(svc.PID, "orders-db-") || len(svc.PID) != len("orders-db-")+8 {
		t.Fatalf("unexpected release name %q", svc.PID)
	}
	if _, err := mgr.Get(ctx, "ext-9"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := mgr.Create(ctx, CreateRequest{Name: "x"}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected invalid record without chart, got %v", err)
	}
	if _, err := mgr.Create(ctx, CreateRequest{ExtID: "ext-9", Name: "again", Template: domain.TemplateRef{Chart: "c"}}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestManagerResourcesAndBackups(t *testing.T) {
	pods := &fakePods{}
	svc := newService(domain.StatusRunning)
	svc.Region = &domain.Region{Name: "eu", Namespace: "eu-west"}
	mgr, h := newTestManager(t, svc, WithPods(pods))
	ctx := context.Background()

	list, err := mgr.Resources(ctx, "svc-ext")
	if err != nil {
		t.Fatalf("Resources: %v", err)
	}
	if len(list) != 1 || pods.namespace != "eu-west" || pods.release != svc.PID {
		t.Fatalf("unexpected lookup %+v %+v", list, pods)
	}

	h.runner.results = nil
	if _, err := mgr.Fire(ctx, "svc-ext", TransitionBackup); err != nil {
		t.Fatalf("backup: %v", err)
	}
	keys, err := mgr.Backups(ctx, "svc-ext")
	if err != nil || len(keys) != 1 {
		t.Fatalf("Backups = %v (%v)", keys, err)
	}

	bare, _ := newTestManager(t, newService(domain.StatusRunning))
	if _, err := bare.Resources(ctx, "svc-ext"); !errors.Is(err, ErrInspectionDisabled) {
		t.Fatalf("expected ErrInspectionDisabled, got %v", err)
	}
}

func TestManagerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mgr, h := newTestManager(t, newService(domain.StatusNew))
	h.deps.Metrics = NewMetrics(reg)
	ctx := context.Background()

	if _, err := mgr.Fire(ctx, "svc-ext", TransitionDeploy); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	_, _ = mgr.Fire(ctx, "svc-ext", TransitionDeploy)

	committed := testutil.ToFloat64(h.deps.Metrics.transitions.WithLabelValues(TransitionDeploy, OutcomeCommitted))
	illegal := testutil.ToFloat64(h.deps.Metrics.transitions.WithLabelValues(TransitionDeploy, OutcomeIllegal))
	if committed != 1 || illegal != 1 {
		t.Fatalf("unexpected counters committed=%v illegal=%v", committed, illegal)
	}

	again := NewMetrics(reg)
	if again.transitions != h.deps.Metrics.transitions {
		t.Fatal("expected registered collector to be reused")
	}
}
