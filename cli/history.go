package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/canvasflow/bus"
	"github.com/petal-labs/canvasflow/runtime"
)

// NewHistoryCmd creates the "history" subcommand.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs, or the events of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.PersistentFlags().String("history", "", "Path to the run history database")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	cmd.Flags().String("format", "text", "Output format: text | json")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs from the history database",
		Args:  cobra.NoArgs,
		RunE:  runHistoryPrune,
	}
	prune.Flags().Int("keep", 0, "Keep at most this many runs (0 = no limit)")
	prune.Flags().Duration("older-than", 0, "Delete runs started longer ago than this (0 = no limit)")
	cmd.AddCommand(prune)

	return cmd
}

// openHistoryForRead opens an existing history database.
func openHistoryForRead(cmd *cobra.Command, cfg bus.SQLiteStoreConfig) (*bus.SQLiteEventStore, error) {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return nil, err
	}
	if settings.HistoryDB == "" {
		return nil, exitError(exitUsage, "no history database configured (use --history)")
	}
	if _, err := os.Stat(settings.HistoryDB); err != nil {
		return nil, exitError(exitFileNotFound, "history database not found: %s", settings.HistoryDB)
	}
	cfg.DSN = settings.HistoryDB
	store, err := bus.NewSQLiteEventStore(cfg)
	if err != nil {
		return nil, exitError(exitRuntime, "opening history: %v", err)
	}
	return store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	limit, _ := cmd.Flags().GetInt("limit")
	if format != "text" && format != "json" {
		return exitError(exitUsage, "unknown format %q (use text or json)", format)
	}

	store, err := openHistoryForRead(cmd, bus.SQLiteStoreConfig{})
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if len(args) == 1 {
		events, err := store.List(cmd.Context(), args[0], 0, 0)
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
		if len(events) == 0 {
			return exitError(exitFileNotFound, "run not found: %s", args[0])
		}
		if format == "json" {
			_ = enc.Encode(events)
			return nil
		}
		printEvents(cmd, events)
		return nil
	}

	runs, err := store.Runs(cmd.Context(), limit)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	if format == "json" {
		if runs == nil {
			runs = []bus.RunSummary{}
		}
		_ = enc.Encode(runs)
		return nil
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-9s  %s  %8s  %s",
			r.RunID, r.Status, r.StartedAt.Local().Format(time.DateTime),
			r.Elapsed.Round(time.Millisecond), plural(r.Events, "event"))
		if r.FailedNode != "" {
			line += "  failed at " + r.FailedNode
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func printEvents(cmd *cobra.Command, events []runtime.Event) {
	show := eventPrinter(cmd.OutOrStdout())
	for _, e := range events {
		show(e)
	}
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	keep, _ := cmd.Flags().GetInt("keep")
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if keep <= 0 && olderThan <= 0 {
		return exitError(exitUsage, "prune needs --keep or --older-than")
	}

	store, err := openHistoryForRead(cmd, bus.SQLiteStoreConfig{
		RetentionRuns: keep,
		RetentionAge:  olderThan,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	before, err := store.Runs(cmd.Context(), 0)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	if err := store.Prune(cmd.Context()); err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	after, err := store.Runs(cmd.Context(), 0)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s, %d remaining.\n", plural(len(before)-len(after), "run"), len(after))
	return nil
}
