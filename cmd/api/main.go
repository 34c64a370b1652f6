package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osval-do/USOP/internal/app/migrate"
	"github.com/osval-do/USOP/internal/billing"
	"github.com/osval-do/USOP/internal/cluster"
	httpx "github.com/osval-do/USOP/internal/http"
	"github.com/osval-do/USOP/internal/lock"
	"github.com/osval-do/USOP/internal/objectstore"
	"github.com/osval-do/USOP/internal/repository/postgres"
	"github.com/osval-do/USOP/internal/runtime/kubernetes"
	"github.com/osval-do/USOP/internal/service/lifecycle"
	"github.com/osval-do/USOP/internal/ws"
	"github.com/osval-do/USOP/pkg/config"
	"github.com/osval-do/USOP/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrator, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	repo := postgres.New(pool)

	runner, err := cluster.New(cfg.Deploy, log)
	if err != nil {
		log.Error("failed to configure command runner", "error", err)
		os.Exit(1)
	}
	if closer, ok := runner.(io.Closer); ok {
		defer closer.Close()
	}
	authority, err := billing.NewRegistry().Resolve(cfg.Deploy.BillingPolicy)
	if err != nil {
		log.Error("unknown billing policy", "error", err)
		os.Exit(1)
	}
	factory, err := lifecycle.NewRegistry().Resolve(cfg.Deploy.Controller)
	if err != nil {
		log.Error("unknown service controller", "error", err)
		os.Exit(1)
	}

	checks := map[string]httpx.HealthCheck{"database": pool.Ping}
	if pinger, ok := runner.(interface{ Ping(context.Context) error }); ok {
		checks["runner"] = pinger.Ping
	}

	var locker lock.Locker = lock.NewMemory()
	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLock, err := lock.NewRedis(addr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL, log)
		if err != nil {
			log.Error("redis lock unavailable", "error", err)
			os.Exit(1)
		}
		defer redisLock.Close()
		locker = redisLock

		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	hub := ws.NewHub()
	defer hub.Close()

	deps := &lifecycle.Dependencies{
		Store:   repo,
		Runner:  runner,
		Billing: authority,
		Config:  cfg.Deploy,
		Metrics: lifecycle.NewMetrics(prometheus.DefaultRegisterer),
		Logger:  log,
		Observers: []lifecycle.Observer{
			lifecycle.LogObserver{Logger: log},
			lifecycle.AuditObserver{Store: repo, Logger: log},
			httpx.HubObserver(hub, log),
		},
	}
	opts := []lifecycle.ManagerOption{lifecycle.WithHistory(repo)}

	if cfg.ObjectStore.Enabled() {
		store, err := objectstore.NewMinio(ctx, cfg.ObjectStore)
		if err != nil {
			log.Error("backup storage unavailable", "error", err)
			os.Exit(1)
		}
		deps.Backups = store
		checks["objectstore"] = store.Ping
	}
	if cfg.ClusterInspection {
		inspector, err := kubernetes.New(cfg.KubeConfig, log)
		if err != nil {
			log.Error("cluster inspection unavailable", "error", err)
			os.Exit(1)
		}
		deps.Volumes = inspector
		opts = append(opts, lifecycle.WithPods(inspector))
		checks["kubernetes"] = inspector.Ping
	}

	manager := lifecycle.NewManager(deps, factory, locker, opts...)
	router := httpx.NewRouter(log, manager, hub, limiter, httpx.Options{
		DefaultNamespace:   cfg.Deploy.DefaultNamespace,
		TransitionRate:     cfg.TransitionRateMin,
		HealthCheckTimeout: cfg.HealthCheckTimeout,
		HealthChecks:       checks,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting",
			"addr", cfg.Addr,
			"controller", cfg.Deploy.Controller,
			"billing_policy", cfg.Deploy.BillingPolicy,
			"runner", cfg.Deploy.Runner,
			"dry_run", cfg.Deploy.DryRun,
		)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
