package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/storepilot/sync-orchestrator/internal/aggregate"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
)

const defaultDispatchChunk = 500

// Dispatcher enqueues follow-up jobs for keys changed by a run. Keys are
// split into messages of the target job's chunk size, each on the target
// job's default queue.
type Dispatcher struct {
	enqueuer queue.Enqueuer
	catalog  *schedule.Catalog
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(enqueuer queue.Enqueuer, catalog *schedule.Catalog, logger *slog.Logger) (*Dispatcher, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{enqueuer: enqueuer, catalog: catalog, logger: logger}, nil
}

// Dispatch enqueues jobType for keys. No keys, no messages.
func (d *Dispatcher) Dispatch(ctx context.Context, jobType string, keys []string) error {
	keys = lo.Uniq(lo.Compact(keys))
	if len(keys) == 0 {
		return nil
	}
	defaults := d.catalog.DefaultOptions(jobType)
	if defaults == nil {
		return fmt.Errorf("%w: %s", schedule.ErrUnknownJobType, jobType)
	}
	queueName := schedule.StringValue(defaults, schedule.OptQueue, schedule.QueueMetrics)
	chunk := schedule.IntValue(defaults, schedule.OptChunk, defaultDispatchChunk)

	batches := lo.Chunk(keys, chunk)
	for _, batch := range batches {
		msg := queue.NewMessage(jobType)
		msg.Keys = batch
		if err := d.enqueuer.Enqueue(ctx, queueName, msg); err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", jobType, err)
		}
	}
	d.logger.DebugContext(ctx, "Dependent jobs enqueued",
		"job_type", jobType,
		"queue", queueName,
		"keys", len(keys),
		"messages", len(batches))
	return nil
}

// TagRulesDependent returns the aggregate.Dependent that re-evaluates tag
// rules for customers whose metrics changed.
func (d *Dispatcher) TagRulesDependent() aggregate.Dependent {
	return aggregate.DependentFunc(func(ctx context.Context, kind aggregate.Kind, keys []string) error {
		if kind != aggregate.KindCustomers {
			return nil
		}
		return d.Dispatch(ctx, schedule.JobCustomersApplyTagRules, keys)
	})
}
