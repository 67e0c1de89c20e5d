package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/storepilot/sync-orchestrator/internal/app"
	"github.com/storepilot/sync-orchestrator/internal/jobs"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
)

// runPlan is the dry-run output of the run command
type runPlan struct {
	JobType    string         `json:"job_type"`
	ScheduleID *int64         `json:"schedule_id,omitempty"`
	ShopID     *int64         `json:"shop_id,omitempty"`
	Keys       []string       `json:"keys,omitempty"`
	Options    map[string]any `json:"options"`
	LockKey    string         `json:"lock_key"`
	LockTTL    string         `json:"lock_ttl"`
	Skip       string         `json:"skip,omitempty"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job_type>",
		Short: "Run one job now",
		Long: `Run one job in the foreground, under the same lock and status recording as a
queued run. With --enqueue the job is published to its queue instead. With
--dry-run the resolved options and lock are printed and nothing runs.

Examples:
  # Import changed orders of shop 3 using schedule 12's options
  sync-orchestrator run orders.sync_incremental --config config.yaml --schedule-id 12

  # Recalculate two customers
  sync-orchestrator run customers.recalculate_metrics --config config.yaml --keys a1,b2

  # Show what a refresh with a one day lookback would do
  sync-orchestrator run orders.refresh_statuses --config config.yaml --shop-id 3 \
    --option lookback_hours=24 --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: runJob,
	}
	addConfigFlag(cmd, false)
	cmd.Flags().Int64("schedule-id", 0, "Schedule whose options, shop and status to use")
	cmd.Flags().Int64("shop-id", 0, "Shop to run a shop scoped job for")
	cmd.Flags().StringSlice("keys", nil, "Restrict a metrics job to these keys")
	cmd.Flags().StringToString("option", nil, "Job option override (key=value), may be repeated")
	cmd.Flags().Bool("dry-run", false, "Print the resolved run without executing it")
	cmd.Flags().Bool("enqueue", false, "Publish the job to its queue instead of running it here")
	return cmd
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	msg, err := messageFromFlags(cmd, args[0])
	if err != nil {
		return err
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return fmt.Errorf("failed to get dry-run flag: %w", err)
	}
	enqueue, err := cmd.Flags().GetBool("enqueue")
	if err != nil {
		return fmt.Errorf("failed to get enqueue flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := app.NewRuntime(ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build job runtime: %w", err)
	}
	defer rt.Close()

	plan, err := rt.Runner.Plan(ctx, msg)
	if err != nil {
		return err
	}

	switch {
	case dryRun:
		return printPlan(cmd, plan)
	case enqueue:
		queueName := schedule.StringValue(plan.Request.Options, schedule.OptQueue, schedule.QueueSync)
		if err := rt.Queue.Enqueue(ctx, queueName, msg); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		slog.Info("Job enqueued", "job_type", msg.JobType, "queue", queueName, "message_id", msg.ID)
		return nil
	default:
		// Inline runs get the same bound as worker runs so the lock TTL
		// still outlives them.
		runCtx, cancel := context.WithTimeout(ctx, cfg.Workers.GetJobTimeout())
		defer cancel()
		return rt.Runner.Run(runCtx, msg)
	}
}

// messageFromFlags builds the queue message described by the command line
func messageFromFlags(cmd *cobra.Command, jobType string) (queue.Message, error) {
	msg := queue.NewMessage(jobType)

	scheduleID, err := cmd.Flags().GetInt64("schedule-id")
	if err != nil {
		return msg, fmt.Errorf("failed to get schedule-id flag: %w", err)
	}
	if scheduleID > 0 {
		msg.ScheduleID = &scheduleID
	}

	shopID, err := cmd.Flags().GetInt64("shop-id")
	if err != nil {
		return msg, fmt.Errorf("failed to get shop-id flag: %w", err)
	}
	if shopID > 0 {
		msg.ShopID = &shopID
	}

	if msg.Keys, err = cmd.Flags().GetStringSlice("keys"); err != nil {
		return msg, fmt.Errorf("failed to get keys flag: %w", err)
	}

	overrides, err := cmd.Flags().GetStringToString("option")
	if err != nil {
		return msg, fmt.Errorf("failed to get option flag: %w", err)
	}
	if len(overrides) > 0 {
		msg.Options = make(map[string]any, len(overrides))
		for k, v := range overrides {
			msg.Options[k] = v
		}
	}
	return msg, nil
}

func printPlan(cmd *cobra.Command, plan *jobs.Plan) error {
	out := runPlan{
		JobType:    plan.Request.JobType,
		ScheduleID: plan.Request.ScheduleID,
		ShopID:     plan.Request.ShopID,
		Keys:       plan.Request.Keys,
		Options:    plan.Request.Options,
		LockKey:    plan.LockKey,
		LockTTL:    plan.LockTTL.String(),
		Skip:       plan.Skip,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format plan: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
