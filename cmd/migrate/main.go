package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/osval-do/USOP/internal/app/migrate"
	"github.com/osval-do/USOP/pkg/config"
	"github.com/osval-do/USOP/pkg/logger"
)

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	timeout := flags.DurationP("timeout", "t", time.Minute, "command timeout")
	target := flags.Int64("target", 0, "target version for down (optional)")
	dir := flags.String("dir", "", "migrations directory (defaults to DB_MIGRATIONS_DIR)")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [flags] up|status|down\n\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	command := "up"
	if flags.NArg() > 0 {
		command = flags.Arg(0)
	}

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))
	if *dir != "" {
		cfg.MigrationsDir = *dir
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}

	switch command {
	case "up":
		err = runner.Up(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	default:
		flags.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("migration command failed", "command", command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", command)
}
