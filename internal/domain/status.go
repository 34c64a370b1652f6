package domain

import "fmt"

// ServiceStatus is the lifecycle state of a service instance.
type ServiceStatus string

// Declared service states. Only a subset are transition endpoints today; the rest are
// reserved markers for intermediate and failure phases.
const (
	// StatusNew means the service has not been deployed yet.
	StatusNew ServiceStatus = "NEW"
	// StatusDeploying means the service is being deployed in its target region.
	StatusDeploying ServiceStatus = "DEPLOYING"
	// StatusDeployingFailed means the deployment failed.
	StatusDeployingFailed ServiceStatus = "DEPLOYING_FAILED"
	// StatusRunning means the service is currently running.
	StatusRunning ServiceStatus = "RUNNING"
	// StatusStopping means the service is being stopped.
	StatusStopping ServiceStatus = "STOPPING"
	// StatusStopped means the service uses no CPU or memory. Storage is retained.
	StatusStopped ServiceStatus = "STOPPED"
	// StatusToUpgrade means the service runs but is marked for a chart upgrade.
	StatusToUpgrade ServiceStatus = "TO_UPGRADE"
	// StatusUpgrading means the service is being upgraded.
	StatusUpgrading ServiceStatus = "UPGRADING"
	// StatusUpgradingFailed means the upgrade failed.
	StatusUpgradingFailed ServiceStatus = "UPGRADING_FAILED"
	// StatusResuming means the service is being resumed from a stopped state.
	StatusResuming ServiceStatus = "RESUMING"
	// StatusClearing means the service is being cleared from the platform.
	StatusClearing ServiceStatus = "CLEARING"
	// StatusDestroyed means the service has been cleared from the platform.
	StatusDestroyed ServiceStatus = "DESTROYED"
	// StatusBackingUp means storage is being backed up while the service keeps running.
	StatusBackingUp ServiceStatus = "BACKING_UP"
)

var allStatuses = []ServiceStatus{
	StatusNew,
	StatusDeploying,
	StatusDeployingFailed,
	StatusRunning,
	StatusStopping,
	StatusStopped,
	StatusToUpgrade,
	StatusUpgrading,
	StatusUpgradingFailed,
	StatusResuming,
	StatusClearing,
	StatusDestroyed,
	StatusBackingUp,
}

// AllStatuses returns every declared status in declaration order.
func AllStatuses() []ServiceStatus {
	out := make([]ServiceStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is a declared status.
func (s ServiceStatus) Valid() bool {
	for _, candidate := range allStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

func (s ServiceStatus) String() string {
	return string(s)
}

// ParseServiceStatus converts a stored value back into a ServiceStatus.
func ParseServiceStatus(raw string) (ServiceStatus, error) {
	status := ServiceStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("unknown service status %q", raw)
	}
	return status, nil
}
