package app

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/storepilot/sync-orchestrator/internal/db"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
)

func newSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect job schedules and the job catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.AddCommand(newSchedulesValidateCmd())
	cmd.AddCommand(newSchedulesCatalogCmd())
	return cmd
}

func newSchedulesValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate schedules against the job catalog",
		Long: `Validate job schedules. With --cron a single expression is checked offline,
optionally together with the options of --job-type. Otherwise every row of
job_schedules is read from the configured database and checked; the command
fails when any row is invalid.`,
		RunE: runSchedulesValidate,
	}
	addConfigFlag(cmd, false)
	cmd.Flags().String("cron", "", "Cron expression to validate offline")
	cmd.Flags().String("timezone", schedule.DefaultTimezone, "Timezone of --cron")
	cmd.Flags().String("job-type", "", "Job type whose options to validate with --cron")
	cmd.Flags().StringToString("option", nil, "Option to validate (key=value), may be repeated")
	return cmd
}

func runSchedulesValidate(cmd *cobra.Command, _ []string) error {
	catalog := schedule.DefaultCatalog()

	expr, err := cmd.Flags().GetString("cron")
	if err != nil {
		return fmt.Errorf("failed to get cron flag: %w", err)
	}
	if expr != "" {
		return validateExpression(cmd, catalog, expr)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	rows, err := schedule.NewDBStore(pool).List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedules: %w", err)
	}
	return reportSchedules(cmd, catalog, rows)
}

func validateExpression(cmd *cobra.Command, catalog *schedule.Catalog, expr string) error {
	timezone, err := cmd.Flags().GetString("timezone")
	if err != nil {
		return fmt.Errorf("failed to get timezone flag: %w", err)
	}
	if err := schedule.ValidateCron(expr, timezone); err != nil {
		return err
	}

	jobType, err := cmd.Flags().GetString("job-type")
	if err != nil {
		return fmt.Errorf("failed to get job-type flag: %w", err)
	}
	if jobType != "" {
		if !catalog.Contains(jobType) {
			return fmt.Errorf("%w: %s", schedule.ErrUnknownJobType, jobType)
		}
		raw, err := cmd.Flags().GetStringToString("option")
		if err != nil {
			return fmt.Errorf("failed to get option flag: %w", err)
		}
		options := make(map[string]any, len(raw))
		for k, v := range raw {
			options[k] = v
		}
		if errs := catalog.ValidateOptions(jobType, options); len(errs) > 0 {
			for _, key := range slices.Sorted(maps.Keys(errs)) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", key, errs[key])
			}
			return fmt.Errorf("%d invalid options", len(errs))
		}
	}

	sched, err := schedule.ParseSchedule(expr, timezone)
	if err != nil {
		return err
	}
	loc, err := schedule.LoadLocation(timezone)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid, next run at %s\n", sched.Next(time.Now().In(loc)).Format("2006-01-02 15:04 MST"))
	return nil
}

func reportSchedules(cmd *cobra.Command, catalog *schedule.Catalog, rows []schedule.JobSchedule) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tJOB TYPE\tSHOP\tENABLED\tCRON\tRESULT")

	invalid := 0
	for i := range rows {
		s := &rows[i]
		result := "ok"
		if err := s.Validate(catalog); err != nil {
			result = err.Error()
			invalid++
		}
		shop := "-"
		if s.ShopID != nil {
			shop = strconv.FormatInt(*s.ShopID, 10)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\n", s.ID, s.JobType, shop, s.Enabled, s.CronExpression, result)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d schedules are invalid", invalid, len(rows))
	}
	return nil
}

func newSchedulesCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the job catalog as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := json.MarshalIndent(schedule.DefaultCatalog().List(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to format catalog: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
