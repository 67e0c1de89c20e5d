package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/storepilot/sync-orchestrator/internal/app"
	"github.com/storepilot/sync-orchestrator/internal/telemetry"
)

const (
	defaultGracefulTimeout = 60 * time.Second // lets running jobs finish their current page
	telemetryFlushTimeout  = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workers, the scheduler and the HTTP API",
		Long: `Start the orchestrator service.

The service consumes job messages from the configured queues, fires enabled
job schedules on their cron expressions (when scheduler.enabled is set) and
serves health probes plus a small schedule API.

The configuration file (--config) specifies the database, Redis, the remote
platform APIs, the lock backend and the worker queues.`,
		RunE: runServe,
	}
	cmd.Flags().String("address", ":8080", "Address to listen on")
	addConfigFlag(cmd, false)
	cmd.Flags().Duration("graceful-timeout", defaultGracefulTimeout, "How long to wait for running jobs on shutdown")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}
	gracefulTimeout, err := cmd.Flags().GetDuration("graceful-timeout")
	if err != nil {
		return fmt.Errorf("failed to get graceful-timeout flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("Starting sync orchestrator", "address", address)

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	orchestrator, err := app.NewOrchestratorApp(ctx,
		app.WithConfig(cfg),
		app.WithAddress(address),
		app.WithTelemetry(tel),
	)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- orchestrator.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		if stopErr := orchestrator.Stop(gracefulTimeout); stopErr != nil {
			slog.Error("Failed to stop orchestrator", "error", stopErr)
		}
		return err
	}

	return orchestrator.Stop(gracefulTimeout)
}
