package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	apiclient "github.com/osval-do/USOP/pkg/api/client"
)

var buildVersion = "dev"

// shorthand transitions accepted as top-level commands.
var transitionAliases = map[string]bool{
	"deploy":           true,
	"stop":             true,
	"restart":          true,
	"rollback":         true,
	"upgrade":          true,
	"mark_for_upgrade": true,
	"begin_upgrade":    true,
	"backup":           true,
	"destroy":          true,
}

type globalOptions struct {
	api     string
	output  string
	timeout time.Duration
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch {
	case cmd == "list":
		err = commandList(args)
	case cmd == "get":
		err = commandGet(args)
	case cmd == "create":
		err = commandCreate(args)
	case cmd == "status":
		err = commandStatus(args)
	case cmd == "fire":
		err = commandFire(args, "")
	case transitionAliases[cmd]:
		err = commandFire(args, cmd)
	case cmd == "transitions":
		err = commandTransitions(args)
	case cmd == "resources":
		err = commandResources(args)
	case cmd == "backups":
		err = commandBackups(args)
	case cmd == "version" || cmd == "--version" || cmd == "-v":
		printVersion()
		return
	case cmd == "help" || cmd == "-h" || cmd == "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		var apiErr apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.ExitCode != nil {
			fmt.Fprintf(os.Stderr, "error: %v (exit code %d)\n", err, *apiErr.ExitCode)
			if apiErr.Stderr != "" {
				fmt.Fprintln(os.Stderr, strings.TrimSpace(apiErr.Stderr))
			}
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newFlagSet(name string, opts *globalOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	fs.StringVar(&opts.api, "api", "", "API base URL (default $USOP_API or http://localhost:8000)")
	fs.StringVarP(&opts.output, "output", "o", "", "Output format: table or json (default table on a terminal)")
	fs.DurationVar(&opts.timeout, "timeout", 15*time.Minute, "Request timeout")
	return fs
}

func (o *globalOptions) client() (*apiclient.Client, error) {
	base := strings.TrimSpace(o.api)
	if base == "" {
		base = strings.TrimSpace(os.Getenv("USOP_API"))
	}
	if base == "" {
		base = "http://localhost:8000"
	}
	return apiclient.New(base)
}

func (o *globalOptions) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.timeout)
}

func (o *globalOptions) wantJSON() bool {
	switch strings.ToLower(o.output) {
	case "json":
		return true
	case "table":
		return false
	}
	return !term.IsTerminal(int(os.Stdout.Fd()))
}

func requireID(fs *pflag.FlagSet, command string) (string, error) {
	if fs.NArg() < 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return "", fmt.Errorf("usage: usopctl %s <service-id>", command)
	}
	return strings.TrimSpace(fs.Arg(0)), nil
}

func commandList(args []string) error {
	var opts globalOptions
	fs := newFlagSet("list", &opts)
	limit := fs.Int("limit", 50, "Maximum services to list")
	_ = fs.Parse(args)

	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := opts.context()
	defer cancel()
	services, err := c.ListServices(ctx, *limit)
	if err != nil {
		return err
	}
	if opts.wantJSON() {
		return printJSON(os.Stdout, services)
	}
	printServices(os.Stdout, services)
	return nil
}

func commandGet(args []string) error {
	var opts globalOptions
	fs := newFlagSet("get", &opts)
	_ = fs.Parse(args)
	id, err := requireID(fs, "get")
	if err != nil {
		return err
	}

	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := opts.context()
	defer cancel()
	svc, err := c.GetService(ctx, id)
	if err != nil {
		return err
	}
	if opts.wantJSON() {
		return printJSON(os.Stdout, svc)
	}
	printServices(os.Stdout, []apiclient.Service{svc})
	return nil
}

func commandCreate(args []string) error {
	var opts globalOptions
	fs := newFlagSet("create", &opts)
	id := fs.String("id", "", "External id (generated when empty)")
	name := fs.String("name", "", "Service name")
	region := fs.String("region", "", "Region name")
	regionNS := fs.String("region-namespace", "", "Namespace of the region")
	org := fs.String("org", "", "Organization name")
	orgNS := fs.String("org-namespace", "", "Namespace of the organization")
	template := fs.String("template", "", "Template name")
	chart := fs.String("chart", "", "Helm chart reference")
	version := fs.String("version", "", "Chart version")
	settingsFile := fs.StringP("values", "f", "", "YAML or JSON file with chart settings")
	blocked := fs.Bool("blocked", false, "Create the service blocked for billing")
	_ = fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if strings.TrimSpace(*chart) == "" {
		return errors.New("--chart is required")
	}
	input := apiclient.CreateServiceInput{
		ID:              strings.TrimSpace(*id),
		Name:            strings.TrimSpace(*name),
		Region:          strings.TrimSpace(*region),
		RegionNamespace: strings.TrimSpace(*regionNS),
		Org:             strings.TrimSpace(*org),
		OrgNamespace:    strings.TrimSpace(*orgNS),
		Template:        strings.TrimSpace(*template),
		Chart:           strings.TrimSpace(*chart),
		Version:         strings.TrimSpace(*version),
		Blocked:         *blocked,
	}
	if *settingsFile != "" {
		settings, err := readSettings(*settingsFile)
		if err != nil {
			return err
		}
		input.Settings = settings
	}

	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := opts.context()
	defer cancel()
	svc, err := c.CreateService(ctx, input)
	if err != nil {
		return err
	}
	if opts.wantJSON() {
		return printJSON(os.Stdout, svc)
	}
	fmt.Printf("Created service %s (release %s, status %s)\n", svc.ID, svc.Release, svc.Status)
	return nil
}

func commandStatus(args []string) error {
	var opts globalOptions
	fs := newFlagSet("status", &opts)
	_ = fs.Parse(args)
	id, err := requireID(fs, "status")
	if err != nil {
		return err
	}

	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := opts.context()
	defer cancel()
	status, err := c.Status(ctx, id)
	if err != nil {
		return err
	}
	if opts.wantJSON() {
		return printJSON(os.Stdout, map[string]string{"id": id, "status": status})
	}
	fmt.Println(status)
	return nil
}

func commandFire(args []string, transition string) error {
	var opts globalOptions
	name := "fire"
	if transition != "" {
		name = transition
	}
	fs := newFlagSet(name, &opts)
	_ = fs.Parse(args)

	id, err := requireID(fs, name)
	if err != nil {
		return err
	}
	if transition == "" {
		if fs.NArg() < 2 {
			return errors.New("usage: usopctl fire <service-id> <transition>")
		}
		transition = strings.TrimSpace(fs.Arg(1))
	}

	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := opts.context()
	defer cancel()
	svc, err := c.Fire(ctx, id, transition)
	if err != nil {
		return err
	}
	if opts.wantJSON() {
		return printJSON(os.Stdout, svc)
	}
	fmt.Printf("%s: %s -> %s\n", svc.ID, transition, svc.Status)
	return nil
}

func commandTransitions(args []string) error {
	var opts globalOptions
	fs := newFlagSet("transitions", &opts)
	limit := fs.Int("limit", 20, "Maximum history entries")
	_ = fs.Parse(args)
	id, err := requireID(fs, "transitions")
	if err != nil {
		return err
	}

	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := opts.context()
	defer cancel()
	tr, err := c.Transitions(ctx, id, *limit)
	if err != nil {
		return err
	}
	if opts.wantJSON() {
		return printJSON(os.Stdout, tr)
	}
	fmt.Printf("Available: %s\n", strings.Join(tr.Available, ", "))
	if len(tr.History) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nAT\tTRANSITION\tFROM\tTO")
	for _, h := range tr.History {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.At.Format(time.RFC3339), h.Transition, h.From, h.To)
	}
	return w.Flush()
}

func commandResources(args []string) error {
	var opts globalOptions
	fs := newFlagSet("resources", &opts)
	_ = fs.Parse(args)
	id, err := requireID(fs, "resources")
	if err != nil {
		return err
	}

	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := opts.context()
	defer cancel()
	pods, err := c.Resources(ctx, id)
	if err != nil {
		return err
	}
	if opts.wantJSON() {
		return printJSON(os.Stdout, pods)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPHASE\tREADY\tRESTARTS\tNODE\tREASON")
	for _, p := range pods {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\n", p.Name, p.Phase, p.Ready, p.Restarts, p.Node, p.Reason)
	}
	return w.Flush()
}

func commandBackups(args []string) error {
	var opts globalOptions
	fs := newFlagSet("backups", &opts)
	_ = fs.Parse(args)
	id, err := requireID(fs, "backups")
	if err != nil {
		return err
	}

	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := opts.context()
	defer cancel()
	keys, err := c.Backups(ctx, id)
	if err != nil {
		return err
	}
	if opts.wantJSON() {
		return printJSON(os.Stdout, keys)
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func readSettings(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	settings := map[string]any{}
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return settings, nil
}

func printServices(w io.Writer, services []apiclient.Service) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tNAMESPACE\tCHART\tVERSION\tBLOCKED")
	for _, s := range services {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n", s.ID, s.Name, s.Status, s.Namespace, s.Chart, s.Version, s.Blocked)
	}
	tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Println(`usopctl - manage services through the USOP API

Usage:
  usopctl list [--limit N]
  usopctl get <service-id>
  usopctl create --name NAME --chart CHART [--version V] [-f values.yaml] [--region R] [--org O]
  usopctl status <service-id>
  usopctl fire <service-id> <transition>
  usopctl deploy|stop|restart|rollback|upgrade|backup|destroy <service-id>
  usopctl transitions <service-id> [--limit N]
  usopctl resources <service-id>
  usopctl backups <service-id>
  usopctl version

Global flags:
  --api URL        API base URL (env USOP_API)
  -o, --output     table or json
  --timeout        request timeout (default 15m)`)
}

func printVersion() {
	fmt.Printf("usopctl %s\n", buildVersion)
}
