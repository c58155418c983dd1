package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/pipeline"
	"github.com/ppiankov/kurral/internal/worker"
)

var (
	concurrency   int
	submitProcess bool
	submitTimeout time.Duration
)

// submitCmd bulk-creates items from a JSONL file
var submitCmd = &cobra.Command{
	Use:   "submit <file.jsonl>",
	Short: "Create items from a JSONL file and queue them",
	Long: `Submit reads one JSON item per line, creates each item and queues
its pipeline job. With --process the items are also run immediately
with a bounded number of concurrent workers.

Each line has the shape:
  {"id":"p1","author_id":"alice","text":"...","topics":["health"]}

Example:
  kurral submit items.jsonl
  kurral submit items.jsonl --process --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent pipeline runs with --process")
	submitCmd.Flags().BoolVar(&submitProcess, "process", false, "run the pipeline for every created item")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 30*time.Minute, "total timeout for processing")
}

// parseItems decodes JSONL lines into items; bad lines are reported, not fatal
func parseItems(lines []string) ([]model.ContentItem, []error) {
	var (
		items []model.ContentItem
		errs  []error
	)
	for i, line := range lines {
		dec := json.NewDecoder(strings.NewReader(line))
		dec.DisallowUnknownFields()

		var item model.ContentItem
		if err := dec.Decode(&item); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", i+1, err))
			continue
		}
		if item.AuthorID == "" {
			errs = append(errs, fmt.Errorf("line %d: author_id is required", i+1))
			continue
		}
		items = append(items, item)
	}
	return items, errs
}

func runSubmit(cmd *cobra.Command, args []string) error {
	file := args[0]
	cfg, log, st, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Kurral Submit\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Store:        %s\n", cfg.Store.Path)
	if submitProcess {
		fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	}
	fmt.Fprintf(os.Stderr, "\n")

	lines, err := worker.ReadLines(file)
	if err != nil {
		return fmt.Errorf("read items: %w", err)
	}
	items, parseErrs := parseItems(lines)
	for _, e := range parseErrs {
		fmt.Fprintf(os.Stderr, "✗ %v\n", e)
	}

	ctx, stop := signalContext()
	defer stop()

	var created []string
	for i := range items {
		if err := st.CreateItem(ctx, &items[i]); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", items[i].ID, err)
			continue
		}
		created = append(created, items[i].ID)
	}
	fmt.Fprintf(os.Stderr, "✓ Created %d items (%d rejected)\n", len(created), len(lines)-len(created))

	var done, busy, failed int
	if submitProcess && len(created) > 0 {
		orch, err := pipeline.NewFromConfig(cfg, st, log)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "\n⚙️  Processing %d items with %d workers...\n\n", len(created), concurrency)
		runCtx, cancel := context.WithTimeout(ctx, submitTimeout)
		defer cancel()

		// Queued jobs for these items resume from the finished checkpoints
		results := worker.NewBatchProcessor(orch, concurrency).ProcessItems(runCtx, created)
		for _, r := range results {
			switch {
			case r.Error == nil:
				done++
				fmt.Fprintf(os.Stderr, "✓ %s\n", r.ItemID)
			case errors.Is(r.Error, pipeline.ErrBusy):
				busy++
				fmt.Fprintf(os.Stderr, "… %s: %v\n", r.ItemID, r.Error)
			default:
				failed++
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.ItemID, r.Error)
			}
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Submit Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Lines:      %d\n", len(lines))
	fmt.Fprintf(os.Stderr, "  Created:    %d\n", len(created))
	if submitProcess {
		fmt.Fprintf(os.Stderr, "  Processed:  %d\n", done)
		fmt.Fprintf(os.Stderr, "  Busy:       %d (left queued)\n", busy)
		fmt.Fprintf(os.Stderr, "  Failures:   %d\n", failed)
	}
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}
