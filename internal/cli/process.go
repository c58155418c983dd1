package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/pipeline"
	"github.com/ppiankov/kurral/internal/reputation"
	"github.com/ppiankov/kurral/internal/store"
)

var (
	processTimeout time.Duration
	outJSON        string
	reprocessFull  bool
	reprocessNow   bool
)

// processCmd runs one item through the pipeline synchronously
var processCmd = &cobra.Command{
	Use:   "process <item-id>",
	Short: "Run the pipeline for one item and print its report",
	Long: `Process claims the item, runs every stage that is not already
checkpointed, and prints the resulting report as JSON.

Example:
  kurral process post-123
  kurral process post-123 --json report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

// reprocessCmd resets an item and queues it again
var reprocessCmd = &cobra.Command{
	Use:   "reprocess <item-id>",
	Short: "Re-run failed stages of an item (or every stage with --full)",
	Args:  cobra.ExactArgs(1),
	RunE:  runReprocess,
}

// recomputeCmd recomputes one user's KurralScore from the ledger
var recomputeCmd = &cobra.Command{
	Use:   "recompute <user-id>",
	Short: "Recompute a user's KurralScore and value stats",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecompute,
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(recomputeCmd)

	processCmd.Flags().DurationVar(&processTimeout, "timeout", 5*time.Minute, "overall run timeout")
	processCmd.Flags().StringVar(&outJSON, "json", "", "write the report to this path instead of stdout")

	reprocessCmd.Flags().BoolVar(&reprocessFull, "full", false, "discard the checkpoint so every stage re-runs")
	reprocessCmd.Flags().BoolVar(&reprocessNow, "now", false, "run synchronously instead of queueing")
	reprocessCmd.Flags().DurationVar(&processTimeout, "timeout", 5*time.Minute, "overall run timeout with --now")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, log, st, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	orch, err := pipeline.NewFromConfig(cfg, st, log)
	if err != nil {
		return err
	}
	return processAndReport(orch, args[0])
}

func processAndReport(orch *pipeline.Orchestrator, itemID string) error {
	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	start := time.Now()
	err := orch.Process(ctx, itemID)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return fmt.Errorf("item %s is busy, try again later: %w", itemID, err)
	case errors.Is(err, pipeline.ErrStageFailed):
		fmt.Fprintf(os.Stderr, "⚠ %v\n", err)
	case err != nil:
		return fmt.Errorf("process %s: %w", itemID, err)
	}

	report, err := orch.Report(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ %s: %s in %v\n", itemID, report.Policy.Status, time.Since(start).Round(time.Millisecond))
	return writeReport(report, outJSON)
}

func writeReport(report *model.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(os.Stderr, "✓ Report written to %s\n", path)
	return nil
}

func runReprocess(cmd *cobra.Command, args []string) error {
	cfg, log, st, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	itemID := args[0]
	ctx := context.Background()
	if err := st.ResetItem(ctx, itemID, reprocessFull); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("item %s not found", itemID)
		}
		return err
	}

	if reprocessNow {
		orch, err := pipeline.NewFromConfig(cfg, st, log)
		if err != nil {
			return err
		}
		return processAndReport(orch, itemID)
	}

	jobID, err := st.EnqueueJob(ctx, itemID)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", itemID, err)
	}
	fmt.Fprintf(os.Stderr, "✓ Queued %s (job %s, full=%v)\n", itemID, jobID, reprocessFull)
	return nil
}

func runRecompute(cmd *cobra.Command, args []string) error {
	cfg, log, st, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	agg := reputation.NewAggregator(st, cfg.Reputation, log)
	score, err := agg.Recompute(context.Background(), args[0], "manual recompute")
	if err != nil {
		return fmt.Errorf("recompute %s: %w", args[0], err)
	}

	data, err := json.MarshalIndent(score, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal score: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
