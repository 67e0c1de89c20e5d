package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/storepilot/sync-orchestrator/internal/partition"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
)

// PartitionLockTTL covers slow DDL on a large table. It exceeds the default
// worker job timeout.
const PartitionLockTTL = 45 * time.Minute

// PartitionHandler handles order_items.maintain_partitions: it creates the
// partitions of the coming quarters and drops those past retention.
type PartitionHandler struct {
	maintainer *partition.Maintainer
	lockTTL    time.Duration
}

// NewPartitionHandler creates a PartitionHandler. A zero lockTTL selects
// PartitionLockTTL.
func NewPartitionHandler(maintainer *partition.Maintainer, lockTTL time.Duration) (*PartitionHandler, error) {
	if maintainer == nil {
		return nil, fmt.Errorf("partition maintainer is required")
	}
	if lockTTL < 0 {
		return nil, fmt.Errorf("partition lock ttl must not be negative, got %s", lockTTL)
	}
	return &PartitionHandler{maintainer: maintainer, lockTTL: lockTTL}, nil
}

// JobType implements Handler.
func (*PartitionHandler) JobType() string {
	return schedule.JobOrderItemsMaintainParts
}

// LockTTL implements LockTTLer.
func (h *PartitionHandler) LockTTL() time.Duration {
	if h.lockTTL == 0 {
		return PartitionLockTTL
	}
	return h.lockTTL
}

// Run implements Handler. Pruning runs even when some creates failed; the
// run fails if any single operation did.
func (h *PartitionHandler) Run(ctx context.Context, req Request) (string, error) {
	horizon := schedule.IntValue(req.Options, schedule.OptHorizonQuarters, 2)
	retention := schedule.IntValue(req.Options, schedule.OptRetentionQuarters, 12)

	report, err := h.maintainer.EnsureFuturePartitions(ctx, horizon)
	if err != nil {
		return "", err
	}
	pruned, err := h.maintainer.PruneOldPartitions(ctx, retention)
	if err != nil {
		return "", err
	}
	report.Merge(pruned)

	if err := report.Err(); err != nil {
		return "", fmt.Errorf("%d partition operations failed: %w", len(report.Failures), err)
	}
	return fmt.Sprintf("Vytvořeno %d partition, %d již existovalo, odstraněno %d.",
		len(report.Created), len(report.Existing), len(report.Dropped)), nil
}
