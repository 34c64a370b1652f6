package lifecycle

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/osval-do/USOP/internal/cluster"
	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/pkg/config"
)

const defaultHelmCommand = "helm"

// Commands builds Helm invocations for a record. Output depends only on the record and the config.
type Commands struct {
	cfg config.DeployConfig
}

// NewCommands returns a builder for cfg.
func NewCommands(cfg config.DeployConfig) Commands {
	return Commands{cfg: cfg}
}

// Deploy installs the release, or upgrades it in place when it already exists.
func (b Commands) Deploy(svc *domain.Service) (cluster.Command, error) {
	if err := b.requireChart(svc); err != nil {
		return cluster.Command{}, err
	}
	values, err := encodeValues(svc.Settings)
	if err != nil {
		return cluster.Command{}, err
	}

	args := b.verb("upgrade", "--install", "--atomic")
	args = append(args, svc.PID, svc.Template.Chart)
	args = appendVersion(args, svc.Template.Version)
	if values != nil {
		args = append(args, "--values", "-")
	}
	return b.command(svc, args, values), nil
}

// Upgrade keeps the values already applied to the release.
func (b Commands) Upgrade(svc *domain.Service) (cluster.Command, error) {
	if err := b.requireChart(svc); err != nil {
		return cluster.Command{}, err
	}
	args := b.verb("upgrade", "--install", "--reuse-values", "--atomic")
	args = append(args, svc.PID, svc.Template.Chart)
	args = appendVersion(args, svc.Template.Version)
	return b.command(svc, args, nil), nil
}

// Stop deletes the release and waits for its workloads to go away.
func (b Commands) Stop(svc *domain.Service) (cluster.Command, error) {
	if err := requirePID(svc); err != nil {
		return cluster.Command{}, err
	}
	args := append(b.verb("uninstall", "--wait"), svc.PID)
	return b.command(svc, args, nil), nil
}

// Rollback returns the release to its previous revision.
func (b Commands) Rollback(svc *domain.Service) (cluster.Command, error) {
	if err := requirePID(svc); err != nil {
		return cluster.Command{}, err
	}
	args := append(b.verb("rollback", "--wait"), svc.PID, "0")
	return b.command(svc, args, nil), nil
}

// Destroy deletes the release and succeeds when it is already gone.
func (b Commands) Destroy(svc *domain.Service) (cluster.Command, error) {
	if err := requirePID(svc); err != nil {
		return cluster.Command{}, err
	}
	args := append(b.verb("uninstall", "--ignore-not-found", "--wait"), svc.PID)
	return b.command(svc, args, nil), nil
}

// Backup prints every computed value of the release as YAML.
func (b Commands) Backup(svc *domain.Service) (cluster.Command, error) {
	if err := requirePID(svc); err != nil {
		return cluster.Command{}, err
	}
	args := b.base()
	args = append(args, "get", "values", "--all", "--output", "yaml")
	if b.cfg.Debug {
		args = append(args, "--debug")
	}
	args = append(args, svc.PID)
	return b.command(svc, args, nil), nil
}

func (b Commands) base() []string {
	prefix := b.cfg.HelmCommand
	if len(prefix) == 0 {
		prefix = []string{defaultHelmCommand}
	}
	return append([]string(nil), prefix...)
}

func (b Commands) verb(words ...string) []string {
	args := append(b.base(), words...)
	if b.cfg.Debug {
		args = append(args, "--debug")
	}
	if b.cfg.DryRun {
		args = append(args, "--dry-run")
	}
	return args
}

func (b Commands) command(svc *domain.Service, args []string, stdin []byte) cluster.Command {
	args = append(args, "--namespace", svc.Namespace(b.cfg.DefaultNamespace))
	return cluster.Command{Args: args, Stdin: stdin, Timeout: b.cfg.CommandTimeout}
}

func (b Commands) requireChart(svc *domain.Service) error {
	if err := requirePID(svc); err != nil {
		return err
	}
	if strings.TrimSpace(svc.Template.Chart) == "" {
		return fmt.Errorf("%w: service %s has no chart", ErrInvalidRecord, svc.ExtID)
	}
	return nil
}

func requirePID(svc *domain.Service) error {
	if svc == nil || strings.TrimSpace(svc.PID) == "" {
		return fmt.Errorf("%w: missing release id", ErrInvalidRecord)
	}
	return nil
}

func appendVersion(args []string, version string) []string {
	if v := strings.TrimSpace(version); v != "" {
		return append(args, "--version", v)
	}
	return args
}

// encodeValues renders settings as a Helm values document. yaml.v3 sorts map keys.
func encodeValues(settings map[string]any) ([]byte, error) {
	if len(settings) == 0 {
		return nil, nil
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: encode settings: %v", ErrInvalidRecord, err)
	}
	return out, nil
}
