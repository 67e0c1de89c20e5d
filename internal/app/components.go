package app

import (
	"context"

	"github.com/storepilot/sync-orchestrator/internal/service"
)

// WorkerPool consumes queued jobs until its context ends
type WorkerPool interface {
	Run(ctx context.Context) error
}

// Scheduler fires job schedules in the background
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
}

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Workers execute queued jobs
	Workers WorkerPool

	// Scheduler fires enabled schedules; nil when scheduling is disabled
	Scheduler Scheduler

	// Service backs the HTTP API
	Service service.OrchestratorService
}
