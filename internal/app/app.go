// Package app wires the service dependencies and manages startup and
// graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hsrmk/skystack/internal/api"
	"github.com/hsrmk/skystack/internal/bluesky"
	"github.com/hsrmk/skystack/internal/config"
	"github.com/hsrmk/skystack/internal/database"
	"github.com/hsrmk/skystack/internal/dedup"
	"github.com/hsrmk/skystack/internal/lifecycle"
	"github.com/hsrmk/skystack/internal/logger"
	"github.com/hsrmk/skystack/internal/metrics"
	redisconn "github.com/hsrmk/skystack/internal/redis"
	"github.com/hsrmk/skystack/internal/scheduler"
	"github.com/hsrmk/skystack/internal/substack"
	"github.com/hsrmk/skystack/internal/tasks"
	"github.com/hsrmk/skystack/internal/worker"
)

const (
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	// dedupTTL must outlive the widest scheduling window (announcements
	// spread over 48h) so a job name stays marked until the job has run.
	dedupTTL = 72 * time.Hour
)

// App holds the assembled service.
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sqlx.DB
	redisClient *goredis.Client
	service     *lifecycle.Service
	worker      *worker.ResyncWorker
	httpServer  *http.Server
	version     string
}

// Options configures App construction.
type Options struct {
	ConfigPath string
	Version    string
}

// New loads configuration and builds every component.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "skystack"),
		logger.String("version", opts.Version),
	)

	db, err := database.NewPostgresConnection(database.ConfigFromEnv())
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	redisClient, err := redisconn.NewClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = database.Close(db)
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	queue := tasks.NewClient(tasks.Config{
		Environment:   cfg.Tasks.Environment,
		BaseEndpoint:  cfg.Tasks.BaseEndpoint,
		QueueEndpoint: cfg.Tasks.QueueEndpoint,
		ServiceToken:  cfg.Auth.ServiceToken,
		Timeout:       cfg.Tasks.RequestTimeout,
	}, appLogger)

	tracker := dedup.NewTracker(redisClient, dedupTTL, appLogger)

	fanOut := scheduler.New(queue, tracker, scheduler.Config{
		ExpansionSpacing:   cfg.Scheduler.ExpansionSpacing,
		FollowSpacing:      cfg.Scheduler.FollowSpacing,
		BackfillCooldown:   cfg.Scheduler.BackfillCooldown,
		BackfillIterations: cfg.Scheduler.BackfillIterations,
		AnnounceWindow:     cfg.Scheduler.AnnounceWindow,
		ListUpdateWindow:   cfg.Scheduler.ListUpdateWindow,
		CreateQueue:        cfg.Tasks.CreateQueue,
		BackfillQueue:      cfg.Tasks.BackfillQueue,
	}, m, appLogger)

	source := substack.NewClient(cfg.Substack.URLTemplate, cfg.Substack.RequestTimeout, appLogger)
	feed := substack.NewPaginator(source, appLogger)
	social := bluesky.NewClient(cfg.Bluesky.PDSURL, cfg.Bluesky.HandleSuffix, cfg.Bluesky.AccountSecret, appLogger)

	store := database.NewNewsletterRepository(db, appLogger)
	failures := database.NewFailureRepository(db, appLogger)

	service := lifecycle.NewService(store, failures, source, feed, social, fanOut, lifecycle.Config{
		AdminPassword:      cfg.Bluesky.AdminPassword,
		ServiceHandle:      cfg.Bluesky.ServiceHandle,
		ServicePassword:    cfg.Bluesky.ServicePassword,
		AllNewslettersList: cfg.Bluesky.AllNewslettersList,
		BackfillIterations: cfg.Scheduler.BackfillIterations,
	}, m, appLogger)

	var resyncWorker *worker.ResyncWorker
	if cfg.Worker.Enabled {
		resyncWorker = worker.NewResyncWorker(service, cfg.Worker.CronSpec, appLogger)
	}

	router := api.NewRouter(service, failures, db, redisClient, registry, cfg, appLogger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		service:     service,
		worker:      resyncWorker,
		httpServer:  httpServer,
		version:     opts.Version,
	}, nil
}

// Run starts the HTTP server and the resync worker, then blocks until a
// shutdown signal or a server error.
func (a *App) Run(ctx context.Context) error {
	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			return fmt.Errorf("start resync worker: %w", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server",
			logger.String("address", a.httpServer.Addr),
			logger.Bool("debug", a.config.Debug),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	return a.waitForShutdown(ctx, serverErr)
}

func (a *App) waitForShutdown(ctx context.Context, serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully", logger.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Shutting down: context cancelled")
	case err := <-serverErr:
		a.logger.Error("HTTP server error", logger.Error(err))
		runErr = err
	}

	if a.worker != nil {
		a.worker.Stop()
	}
	a.shutdownHTTPServer()

	a.logger.Info("Service stopped")
	return runErr
}

func (a *App) shutdownHTTPServer() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("HTTP server stopped")
	}
}

// Close releases connections. Call after Run returns.
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
	return a.logger.Sync()
}

// Logger exposes the application logger for the entrypoint.
func (a *App) Logger() logger.Logger {
	return a.logger
}
