package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/laptiming/internal/config"
	"github.com/JonMunkholm/laptiming/internal/core"
	"github.com/JonMunkholm/laptiming/internal/fetch"
	"github.com/JonMunkholm/laptiming/internal/logging"
	"github.com/JonMunkholm/laptiming/internal/metrics"
	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/store/migrate"
	"github.com/JonMunkholm/laptiming/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"import_workers", cfg.Import.Workers,
		"import_queue_depth", cfg.Import.QueueDepth,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	m := metrics.NewManager()

	fetcher := fetch.New(fetch.Config{
		Timeout:   cfg.Import.FetchTimeout,
		MaxBytes:  cfg.Import.MaxReportSize,
		UserAgent: cfg.Import.UserAgent,
	}, fetch.WithObserver(m))

	pool := core.NewWorkerPool(cfg.Import.Workers, cfg.Import.QueueDepth, core.WithPoolMetrics(m))
	service := core.NewService(st, fetcher, pool, cfg.Import.CacheTTL,
		core.WithMetrics(m),
		core.WithCheckLimiter(core.NewCheckLimiter(cfg.Import.MaxConcurrentChecks, cfg.Import.CheckWait)),
		core.WithJobTimeout(cfg.Import.JobTimeout),
	)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	pool.Run(jobCtx)

	// Jobs left pending or started by a previous process will never finish.
	if n, err := service.Jobs().FailOrphaned(ctx); err != nil {
		slog.Warn("failed to recover orphaned jobs", "error", err)
	} else if n > 0 {
		slog.Info("marked orphaned jobs as failed", "count", n)
	}

	go service.StartMonitor(jobCtx, core.MonitorConfig{
		Interval: cfg.Import.MonitorInterval,
		Metrics:  m,
	})

	server := web.NewServer(cfg, service, core.NewAnalyzer(st), m)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if err := service.Checks().WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("checks did not complete in time", "error", err)
		}

		// Stop accepting imports and let queued ones finish
		status := pool.Status()
		slog.Info("waiting for imports to complete", "active", status.Active, "queued", status.Queued)
		if err := pool.Shutdown(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		} else {
			slog.Info("all imports completed")
		}

		cancelJobs()
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if strings.EqualFold(cfg.Store.Driver, config.DriverMemory) {
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	if cfg.Database.MigrateOnStart {
		if err := migrate.Up(cfg.Database.URL); err != nil {
			return nil, nil, err
		}
		slog.Info("database migrations applied")
	}

	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	return store.NewPostgres(pool), pool.Close, nil
}
