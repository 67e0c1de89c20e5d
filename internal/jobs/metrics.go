package jobs

import (
	"context"
	"fmt"

	"github.com/storepilot/sync-orchestrator/internal/aggregate"
	"github.com/storepilot/sync-orchestrator/internal/lock"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
)

// RecalculateHandler rebuilds one metric family. Messages with keys only
// touch those keys and lock on them; messages without keys walk all keys.
type RecalculateHandler struct {
	jobType string
	engine  *aggregate.Engine
}

// NewRecalculateHandler creates the handler of the engine's metric family.
func NewRecalculateHandler(engine *aggregate.Engine) (*RecalculateHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("aggregate engine is required")
	}
	var jobType string
	switch engine.Kind() {
	case aggregate.KindCustomers:
		jobType = schedule.JobCustomersRecalculate
	case aggregate.KindVariants:
		jobType = schedule.JobVariantsRecalculate
	default:
		return nil, fmt.Errorf("no job type for metric kind %q", engine.Kind())
	}
	return &RecalculateHandler{jobType: jobType, engine: engine}, nil
}

// JobType implements Handler.
func (h *RecalculateHandler) JobType() string {
	return h.jobType
}

// LockKey implements LockKeyer.
func (h *RecalculateHandler) LockKey(req Request) string {
	return batchLockKey(h.jobType, req.Keys)
}

// Run implements Handler.
func (h *RecalculateHandler) Run(ctx context.Context, req Request) (string, error) {
	var (
		out *aggregate.Outcome
		err error
	)
	if len(req.Keys) > 0 {
		out, err = h.engine.Recalculate(ctx, req.Keys)
	} else {
		out, err = h.engine.RecalculateAll(ctx, schedule.IntValue(req.Options, schedule.OptChunk, aggregate.DefaultChunkSize))
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Přepočteno %d klíčů v %d dávkách (uloženo %d, smazáno %d).",
		out.Keys, out.Chunks, out.Upserted, out.Deleted), nil
}

// TagRulesHandler handles customers.apply_tag_rules.
type TagRulesHandler struct {
	applier *aggregate.TagRuleApplier
}

// NewTagRulesHandler creates a TagRulesHandler.
func NewTagRulesHandler(applier *aggregate.TagRuleApplier) (*TagRulesHandler, error) {
	if applier == nil {
		return nil, fmt.Errorf("tag rule applier is required")
	}
	return &TagRulesHandler{applier: applier}, nil
}

// JobType implements Handler.
func (*TagRulesHandler) JobType() string {
	return schedule.JobCustomersApplyTagRules
}

// LockKey implements LockKeyer.
func (*TagRulesHandler) LockKey(req Request) string {
	return batchLockKey(schedule.JobCustomersApplyTagRules, req.Keys)
}

// Run implements Handler.
func (h *TagRulesHandler) Run(ctx context.Context, req Request) (string, error) {
	chunk := schedule.IntValue(req.Options, schedule.OptChunk, aggregate.DefaultChunkSize)
	var (
		out *aggregate.TagOutcome
		err error
	)
	if len(req.Keys) > 0 {
		out, err = h.applier.Apply(ctx, req.Keys, chunk)
	} else {
		out, err = h.applier.ApplyAll(ctx, chunk)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Vyhodnoceno %d zákazníků, přiřazeno %d štítků.", out.Customers, out.Tagged), nil
}

func batchLockKey(jobType string, keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return lock.BatchKey(jobType, keys)
}
