package lifecycle

import (
	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/fsm"
)

// Transition names accepted by Manager.Fire.
const (
	TransitionDeploy         = "deploy"
	TransitionMarkForUpgrade = "mark_for_upgrade"
	TransitionBeginUpgrade   = "begin_upgrade"
	TransitionUpgrade        = "upgrade"
	TransitionStop           = "stop"
	TransitionRestart        = "restart"
	TransitionRollback       = "rollback"
	TransitionBackup         = "backup"
	TransitionDestroy        = "destroy"
)

// NewMachine returns the service transition table with the given hooks attached.
func NewMachine(hooks ...fsm.Hook[domain.ServiceStatus]) *fsm.Machine[domain.ServiceStatus] {
	opts := make([]fsm.Option[domain.ServiceStatus], 0, len(hooks))
	for _, hook := range hooks {
		opts = append(opts, fsm.WithHook(hook))
	}
	m := fsm.New(opts...)

	from := fsm.From[domain.ServiceStatus]
	m.MustRegister(TransitionDeploy, from(domain.StatusNew, domain.StatusStopped), domain.StatusRunning)
	m.MustRegister(TransitionMarkForUpgrade, from(domain.StatusRunning), domain.StatusToUpgrade)
	m.MustRegister(TransitionBeginUpgrade, from(domain.StatusRunning, domain.StatusToUpgrade), domain.StatusUpgrading)
	m.MustRegister(TransitionUpgrade, from(domain.StatusUpgrading), domain.StatusRunning)
	m.MustRegister(TransitionStop, from(domain.StatusRunning), domain.StatusStopped)
	m.MustRegister(TransitionRestart, from(domain.StatusRunning), domain.StatusRunning)
	m.MustRegister(TransitionRollback, from(domain.StatusRunning), domain.StatusRunning)
	m.MustRegister(TransitionBackup, from(domain.StatusRunning), domain.StatusRunning)
	m.MustRegister(TransitionDestroy, fsm.FromAny[domain.ServiceStatus](), domain.StatusDestroyed)
	return m
}
