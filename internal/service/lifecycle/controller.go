package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/osval-do/USOP/internal/billing"
	"github.com/osval-do/USOP/internal/cluster"
	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/fsm"
	"github.com/osval-do/USOP/internal/objectstore"
	"github.com/osval-do/USOP/internal/repository"
	"github.com/osval-do/USOP/pkg/config"
)

// ServiceController drives one service record through its lifecycle.
type ServiceController interface {
	Deploy(ctx context.Context) error
	MarkForUpgrade(ctx context.Context) error
	BeginUpgrade(ctx context.Context) error
	Upgrade(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Rollback(ctx context.Context) error
	Backup(ctx context.Context) error
	Destroy(ctx context.Context) error
	Status() domain.ServiceStatus
}

// VolumeCleaner removes storage a release leaves behind after uninstall.
type VolumeCleaner interface {
	DeleteReleaseVolumes(ctx context.Context, namespace, release string) (int, error)
}

// Dependencies are the collaborators shared by every controller.
type Dependencies struct {
	Store     repository.ServiceRepository
	Runner    cluster.Runner
	Billing   billing.Authority
	Config    config.DeployConfig
	Backups   objectstore.Store
	Volumes   VolumeCleaner
	Observers []Observer
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Controller runs Helm commands for a single record. It is built per call and holds no other state.
type Controller struct {
	deps     *Dependencies
	record   *domain.Service
	machine  *fsm.Machine[domain.ServiceStatus]
	commands Commands
	log      *slog.Logger
}

var _ ServiceController = (*Controller)(nil)

// NewController wraps svc. State changes are saved through deps.Store and svc is updated after each commit.
func NewController(deps *Dependencies, svc *domain.Service) *Controller {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		deps:     deps,
		record:   svc,
		commands: NewCommands(deps.Config),
		log:      log.With("service_id", svc.ExtID, "release", svc.PID),
	}
	c.machine = NewMachine(c.commit)
	return c
}

// Status returns the committed state of the record.
func (c *Controller) Status() domain.ServiceStatus {
	return c.record.Status
}

// Deploy installs the release. Billing must authorize first.
func (c *Controller) Deploy(ctx context.Context) error {
	return c.fire(ctx, TransitionDeploy, func(ctx context.Context) error {
		if err := c.authorize(ctx, TransitionDeploy); err != nil {
			return err
		}
		cmd, err := c.commands.Deploy(c.record)
		if err != nil {
			return err
		}
		_, err = c.run(ctx, TransitionDeploy, cmd)
		return err
	})
}

// MarkForUpgrade flags a running service as needing a chart upgrade.
func (c *Controller) MarkForUpgrade(ctx context.Context) error {
	return c.fire(ctx, TransitionMarkForUpgrade, nil)
}

// BeginUpgrade moves the service into UPGRADING so Upgrade may run.
func (c *Controller) BeginUpgrade(ctx context.Context) error {
	return c.fire(ctx, TransitionBeginUpgrade, nil)
}

// Upgrade applies the chart again while keeping the values already on the release.
func (c *Controller) Upgrade(ctx context.Context) error {
	return c.fire(ctx, TransitionUpgrade, func(ctx context.Context) error {
		if err := c.authorize(ctx, TransitionUpgrade); err != nil {
			return err
		}
		cmd, err := c.commands.Upgrade(c.record)
		if err != nil {
			return err
		}
		_, err = c.run(ctx, TransitionUpgrade, cmd)
		return err
	})
}

// Stop uninstalls the release. Storage created outside the chart is kept.
func (c *Controller) Stop(ctx context.Context) error {
	return c.fire(ctx, TransitionStop, func(ctx context.Context) error {
		cmd, err := c.commands.Stop(c.record)
		if err != nil {
			return err
		}
		_, err = c.run(ctx, TransitionStop, cmd)
		return err
	})
}

// Restart stops and deploys again. Billing is checked before anything is stopped.
// Each step commits on its own, so a failed deploy leaves the record STOPPED.
func (c *Controller) Restart(ctx context.Context) error {
	return c.fire(ctx, TransitionRestart, func(ctx context.Context) error {
		if err := c.authorize(ctx, TransitionRestart); err != nil {
			return err
		}
		if err := c.Stop(ctx); err != nil {
			return err
		}
		return c.Deploy(ctx)
	})
}

// Rollback returns the release to its previous revision.
func (c *Controller) Rollback(ctx context.Context) error {
	return c.fire(ctx, TransitionRollback, func(ctx context.Context) error {
		cmd, err := c.commands.Rollback(c.record)
		if err != nil {
			return err
		}
		_, err = c.run(ctx, TransitionRollback, cmd)
		return err
	})
}

// Backup stores the computed values of the release in the object store.
func (c *Controller) Backup(ctx context.Context) error {
	return c.fire(ctx, TransitionBackup, func(ctx context.Context) error {
		if c.deps.Backups == nil {
			return ErrBackupsDisabled
		}
		cmd, err := c.commands.Backup(c.record)
		if err != nil {
			return err
		}
		res, err := c.run(ctx, TransitionBackup, cmd)
		if err != nil {
			return err
		}
		key := objectstore.BackupKey(c.record.ExtID, c.deps.now())
		if err := c.deps.Backups.Put(ctx, key, []byte(res.Stdout), "application/yaml"); err != nil {
			return fmt.Errorf("store backup: %w", err)
		}
		c.log.Info("backup stored", "key", key, "bytes", len(res.Stdout))
		return nil
	})
}

// Destroy uninstalls the release from any state and drops its volume claims.
func (c *Controller) Destroy(ctx context.Context) error {
	return c.fire(ctx, TransitionDestroy, func(ctx context.Context) error {
		cmd, err := c.commands.Destroy(c.record)
		if err != nil {
			return err
		}
		if _, err := c.run(ctx, TransitionDestroy, cmd); err != nil {
			return err
		}
		if c.deps.Volumes == nil || c.deps.Config.DryRun {
			return nil
		}
		namespace := c.record.Namespace(c.deps.Config.DefaultNamespace)
		deleted, err := c.deps.Volumes.DeleteReleaseVolumes(ctx, namespace, c.record.PID)
		if err != nil {
			return &OrchestrationError{Transition: TransitionDestroy, ExitCode: -1, Err: err}
		}
		if deleted > 0 {
			c.log.Info("release volumes removed", "namespace", namespace, "count", deleted)
		}
		return nil
	})
}

func (c *Controller) fire(ctx context.Context, transition string, action fsm.Action) error {
	_, err := c.machine.Fire(ctx, transition, c.record.Status, action)
	return err
}

func (c *Controller) authorize(ctx context.Context, transition string) error {
	if c.deps.Billing != nil && !c.deps.Billing.CanDeploy(ctx, c.record) {
		c.log.Warn("billing denied transition", "transition", transition)
		return fmt.Errorf("%w: %s on %s", ErrAuthorizationDenied, transition, c.record.ExtID)
	}
	return nil
}

// run executes cmd and turns every unsuccessful outcome into an OrchestrationError.
func (c *Controller) run(ctx context.Context, transition string, cmd cluster.Command) (cluster.Result, error) {
	c.log.Debug("running command", "transition", transition, "command", cmd.String())
	res, err := c.deps.Runner.Run(ctx, cmd)
	c.deps.Metrics.observeCommand(transition, res.Duration)
	if err != nil {
		return res, &OrchestrationError{Transition: transition, ExitCode: -1, Err: err}
	}
	if res.TimedOut || res.ExitCode != 0 {
		c.log.Error("command failed",
			"transition", transition,
			"exit_code", res.ExitCode,
			"timed_out", res.TimedOut,
			"stderr", res.Stderr,
		)
		return res, &OrchestrationError{
			Transition: transition,
			ExitCode:   res.ExitCode,
			Stderr:     res.Stderr,
			TimedOut:   res.TimedOut,
		}
	}
	return res, nil
}

// commit persists the target state before the record is changed, then notifies observers.
func (c *Controller) commit(ctx context.Context, ev fsm.Event[domain.ServiceStatus]) error {
	next := c.record.Clone()
	next.Status = ev.Target
	if err := c.deps.Store.SaveService(ctx, next); err != nil {
		return fmt.Errorf("commit %s: %w", ev.Transition, err)
	}
	c.record.Status = ev.Target
	c.record.UpdatedAt = next.UpdatedAt

	event := Event{
		Service:    c.record.Clone(),
		Transition: ev.Transition,
		Source:     ev.Source,
		Target:     ev.Target,
		At:         c.deps.now(),
	}
	for _, obs := range c.deps.Observers {
		obs.Observe(ctx, event)
	}
	return nil
}
