package app

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/storepilot/sync-orchestrator/internal/config"
	"github.com/storepilot/sync-orchestrator/internal/db"
	"github.com/storepilot/sync-orchestrator/internal/partition"
)

func newPartitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Maintain the quarterly partitions of the order items table",
		Long: `Create or drop quarterly partitions by hand. The scheduled
order_items.maintain_partitions job runs both steps under the job lock;
these commands are meant for bootstrapping and repairs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	addConfigFlag(cmd, true)
	cmd.PersistentFlags().String("table", "", "Partitioned table (defaults to partitions.table)")

	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create the partitions of the current and upcoming quarters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintainer(cmd, func(ctx context.Context, cfg *config.Config, m *partition.Maintainer) (*partition.Report, error) {
				horizon, err := cmd.Flags().GetInt("horizon")
				if err != nil {
					return nil, fmt.Errorf("failed to get horizon flag: %w", err)
				}
				if horizon <= 0 {
					horizon = cfg.Partitions.GetHorizonQuarters()
				}
				return m.EnsureFuturePartitions(ctx, horizon)
			})
		},
	}
	ensure.Flags().Int("horizon", 0, "Number of upcoming quarters (defaults to partitions.horizonQuarters)")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Drop partitions older than the retention horizon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintainer(cmd, func(ctx context.Context, cfg *config.Config, m *partition.Maintainer) (*partition.Report, error) {
				retention, err := cmd.Flags().GetInt("retention")
				if err != nil {
					return nil, fmt.Errorf("failed to get retention flag: %w", err)
				}
				if retention <= 0 {
					retention = cfg.Partitions.GetRetentionQuarters()
				}
				return m.PruneOldPartitions(ctx, retention)
			})
		},
	}
	prune.Flags().Int("retention", 0, "Number of past quarters to keep (defaults to partitions.retentionQuarters)")

	cmd.AddCommand(ensure, prune)
	return cmd
}

type maintenanceFunc func(ctx context.Context, cfg *config.Config, m *partition.Maintainer) (*partition.Report, error)

func withMaintainer(cmd *cobra.Command, fn maintenanceFunc) error {
	ctx := context.Background()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	table, err := cmd.Flags().GetString("table")
	if err != nil {
		return fmt.Errorf("failed to get table flag: %w", err)
	}
	if table == "" {
		table = cfg.Partitions.GetTable()
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	m, err := partition.NewMaintainer(partition.NewPGCatalog(pool), partition.WithTable(table))
	if err != nil {
		return err
	}
	report, err := fn(ctx, cfg, m)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return report.Err()
}

func printReport(w io.Writer, report *partition.Report) {
	for _, name := range report.Created {
		fmt.Fprintf(w, "created  %s\n", name)
	}
	for _, name := range report.Existing {
		fmt.Fprintf(w, "exists   %s\n", name)
	}
	for _, name := range report.Dropped {
		fmt.Fprintf(w, "dropped  %s\n", name)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "failed   %s (%s): %v\n", f.Partition, f.Operation, f.Err)
	}
}
