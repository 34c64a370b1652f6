package cluster

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/osval-do/USOP/pkg/config"
)

// New selects the runner implementation named by cfg.Runner.
func New(cfg config.DeployConfig, logger *slog.Logger) (Runner, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Runner)) {
	case "", "exec":
		return NewExecRunner(logger), nil
	case "docker":
		return NewDockerRunner(cfg.DockerHost, cfg.RunnerContainer, logger)
	default:
		return nil, fmt.Errorf("cluster: unknown command runner %q", cfg.Runner)
	}
}
