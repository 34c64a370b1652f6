package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/repository"
)

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := New()
	svc := &domain.Service{ID: "id-1", ExtID: "ext-1", PID: "pid-1", Name: "db", Status: domain.StatusNew}

	if err := repo.CreateService(ctx, svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	if err := repo.CreateService(ctx, svc); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict on duplicate, got %v", err)
	}

	loaded, err := repo.GetServiceByExtID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("GetServiceByExtID: %v", err)
	}
	loaded.Status = domain.StatusRunning

	again, _ := repo.GetService(ctx, "id-1")
	if again.Status != domain.StatusNew {
		t.Fatal("mutating a loaded record must not change the store before SaveService")
	}

	if err := repo.SaveService(ctx, loaded); err != nil {
		t.Fatalf("SaveService: %v", err)
	}
	again, _ = repo.GetService(ctx, "id-1")
	if again.Status != domain.StatusRunning {
		t.Fatalf("expected saved status, got %s", again.Status)
	}

	if _, err := repo.GetService(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.SaveService(ctx, &domain.Service{ID: "missing"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on save, got %v", err)
	}
}

func TestRepositoryTransitionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := New()
	for _, name := range []string{"deploy", "stop", "destroy"} {
		if err := repo.AppendTransition(ctx, &domain.TransitionRecord{ServiceID: "id-1", Transition: name}); err != nil {
			t.Fatalf("AppendTransition: %v", err)
		}
	}

	history, err := repo.ListTransitions(ctx, "id-1", 2)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(history) != 2 || history[0].Transition != "destroy" || history[1].Transition != "stop" {
		t.Fatalf("unexpected history %+v", history)
	}
}
