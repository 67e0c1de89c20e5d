// Package app wires the orchestrator components together and manages their
// lifecycle: the job runtime, worker pool, cron trigger and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/storepilot/sync-orchestrator/internal/api"
	"github.com/storepilot/sync-orchestrator/internal/auth"
	"github.com/storepilot/sync-orchestrator/internal/config"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	"github.com/storepilot/sync-orchestrator/internal/service"
	"github.com/storepilot/sync-orchestrator/internal/telemetry"
)

// OrchestratorApp encapsulates all components needed to run the orchestrator
// service. It provides lifecycle management and graceful shutdown.
type OrchestratorApp struct {
	config     *config.Config
	runtime    *Runtime
	components *AppComponents
	httpServer *http.Server
	logger     *slog.Logger

	// Lifecycle management
	ctx         context.Context
	cancelFunc  context.CancelFunc
	workersDone chan struct{}
}

// NewOrchestratorApp builds the runtime, the worker pool, the trigger and
// the HTTP server from the given options.
func NewOrchestratorApp(ctx context.Context, opts ...Option) (*OrchestratorApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build job runtime: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			rt.Close()
		}
	}()

	workers, err := queue.NewPool(rt.Queue, rt.Runner, cfg.config.Workers.GetQueues(),
		queue.WithDequeueTimeout(cfg.config.Workers.GetDequeueTimeout()),
		queue.WithJobTimeout(cfg.config.Workers.GetJobTimeout()),
		queue.WithPoolLogger(cfg.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	ensurePartitions(ctx, rt, cfg.logger)

	svc, err := buildService(rt)
	if err != nil {
		return nil, fmt.Errorf("failed to build service: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, svc)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	components := &AppComponents{Workers: workers, Service: svc}
	if cfg.config.Scheduler.Enabled {
		components.Scheduler = rt.Trigger
	} else {
		cfg.logger.InfoContext(ctx, "Scheduler disabled, schedules only run when triggered by hand")
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &OrchestratorApp{
		config:      cfg.config,
		runtime:     rt,
		components:  components,
		httpServer:  httpServer,
		logger:      cfg.logger,
		ctx:         appCtx,
		cancelFunc:  cancel,
		workersDone: make(chan struct{}),
	}, nil
}

// ensurePartitions runs partition maintenance once before any worker starts,
// so order items of the current quarter never land in the default partition
// of a fresh database. It runs under the job lock like a scheduled run.
func ensurePartitions(ctx context.Context, rt *Runtime, logger *slog.Logger) {
	if rt.Maintainer == nil {
		return
	}
	if err := rt.Runner.Run(ctx, queue.NewMessage(schedule.JobOrderItemsMaintainParts)); err != nil {
		logger.WarnContext(ctx, "Startup partition maintenance failed", "error", err)
	}
}

// buildService creates the API service with a readiness probe per backend
func buildService(rt *Runtime) (service.OrchestratorService, error) {
	var opts []service.Option
	if rt.Database != nil {
		opts = append(opts, service.WithReadinessCheck("database", rt.Database.Ping))
	}
	if rt.Redis != nil {
		opts = append(opts, service.WithReadinessCheck("redis", func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		}))
	}
	return service.NewService(rt.Catalog, rt.Stores.Schedules, rt.Trigger, opts...)
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *appConfig, svc service.OrchestratorService) (*http.Server, error) {
	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	if b.telemetry != nil {
		otelMiddleware, err := telemetry.HTTPMiddleware(b.telemetry.TracerProvider(), b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create telemetry middleware: %w", err)
		}
		if otelMiddleware != nil {
			middlewares = append([]func(http.Handler) http.Handler{otelMiddleware}, middlewares...)
		}
	}

	guards, err := auth.NewMiddlewares(b.config.Auth, auth.DefaultValidatorFactory)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}
	middlewares = append(slices.Clip(middlewares), guards.Authenticate)

	router := api.NewServer(svc,
		api.WithMiddlewares(middlewares...),
		api.WithRunGuards(guards.RunGuard),
	)

	return &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}, nil
}

// Start starts the worker pool and the scheduler in the background, then
// serves HTTP. It blocks until the HTTP server stops.
func (app *OrchestratorApp) Start() error {
	go func() {
		defer close(app.workersDone)
		if err := app.components.Workers.Run(app.ctx); err != nil {
			app.logger.Error("Worker pool failed", "error", err)
		}
	}()

	if app.components.Scheduler != nil {
		go func() {
			if err := app.components.Scheduler.Start(app.ctx); err != nil {
				app.logger.Error("Scheduler failed", "error", err)
			}
		}()
	}

	app.logger.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop stops the scheduler, lets running jobs finish within timeout, shuts
// the HTTP server down and closes the backend connections.
func (app *OrchestratorApp) Stop(timeout time.Duration) error {
	app.logger.Info("Shutting down orchestrator...")

	if app.components.Scheduler != nil {
		if err := app.components.Scheduler.Stop(); err != nil {
			app.logger.Error("Failed to stop scheduler", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	app.cancelFunc()
	select {
	case <-app.workersDone:
	case <-shutdownCtx.Done():
		app.logger.Warn("Workers did not finish before the shutdown timeout")
	}

	err := app.httpServer.Shutdown(shutdownCtx)
	app.runtime.Close()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	app.logger.Info("Orchestrator shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *OrchestratorApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *OrchestratorApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Runtime returns the job runtime
func (app *OrchestratorApp) Runtime() *Runtime {
	return app.runtime
}
