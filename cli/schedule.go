package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// parseCronExpressionUTC parses a five-field cron expression evaluated in
// UTC. Timezone prefixes are rejected.
func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NewScheduleCmd creates the "schedule" subcommand.
func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <cron> <file>",
		Short: "Run a workflow repeatedly on a UTC cron schedule",
		Long: "Run a workflow on a five-field cron schedule (minute hour day month weekday, UTC).\n" +
			"The file is reloaded before every run. Stop with Ctrl-C.",
		Args: cobra.ExactArgs(2),
		RunE: runSchedule,
	}

	addSessionFlags(cmd)
	addExecFlags(cmd)
	cmd.Flags().String("format", "pretty", "Output format: pretty | json | text")
	cmd.Flags().Int("max-runs", 0, "Stop after this many runs (0 = run until interrupted)")
	cmd.Flags().Bool("run-now", false, "Run once immediately before waiting for the schedule")

	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	expr, filePath := args[0], args[1]
	maxRuns, _ := cmd.Flags().GetInt("max-runs")
	runNow, _ := cmd.Flags().GetBool("run-now")

	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return exitError(exitUsage, "%v", err)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	// Fail early on a file that can never run.
	if _, err := loadWorkflowForRun(cmd, s, filePath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runs, failures := 0, 0
	for maxRuns == 0 || runs < maxRuns {
		if !runNow || runs > 0 {
			next := schedule.Next(time.Now().UTC())
			s.logger.Info("next scheduled run", "file", filePath, "at", next.Format(time.RFC3339))
			if !sleepUntil(ctx, next) {
				break
			}
		}

		runs++
		if err := scheduledRun(ctx, cmd, s, filePath); err != nil {
			failures++
			s.logger.Error("scheduled run failed", "file", filePath, "run", runs, "error", err)
		}
	}

	if failures > 0 && failures == runs {
		return exitError(exitRuntime, "all %s failed", plural(runs, "scheduled run"))
	}
	return nil
}

// scheduledRun reloads the workflow and runs it once.
func scheduledRun(ctx context.Context, cmd *cobra.Command, s *session, filePath string) error {
	g, err := loadWorkflowForRun(cmd, s, filePath)
	if err != nil {
		return err
	}
	result, runErr := executeWorkflow(ctx, cmd, s, g)
	if result.RunID != "" {
		if err := writeOutput(cmd, g, result); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

// sleepUntil waits for t. It returns false when ctx ends first.
func sleepUntil(ctx context.Context, t time.Time) bool {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
