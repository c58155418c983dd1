package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/pipeline"
	"github.com/ppiankov/kurral/internal/queue"
	"github.com/ppiankov/kurral/internal/scheduler"
	"github.com/ppiankov/kurral/internal/server"
	"github.com/ppiankov/kurral/internal/store"
)

var (
	serveAddr    string
	serveWorkers int
	noScheduler  bool
)

// serveCmd runs the API, the queue runner and the scheduler in one process
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, queue runner and scheduler",
	Long: `Serve starts the HTTP API, a queue runner that drains pipeline jobs,
and the cron scheduler for rolling KurralScore recomputation.

Example:
  kurral serve
  kurral serve --addr :9090 --workers 8`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// workerCmd runs only the queue runner
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue runner without the API",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "concurrent pipeline runs (default from config)")
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "disable periodic recompute and requeue")
	workerCmd.Flags().IntVar(&serveWorkers, "workers", 0, "concurrent pipeline runs (default from config)")
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, st, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if noScheduler {
		cfg.Scheduler.Enabled = false
	}

	orch, runner, err := buildRunner(cfg, st, log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewService(cfg.Scheduler, st, orch.Reputation, log)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	api := server.New(st, cfg, log)
	return runAll(ctx, stop, log,
		func(ctx context.Context) error { return runner.Run(ctx) },
		api.ListenAndServe,
	)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, log, st, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	_, runner, err := buildRunner(cfg, st, log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	return runner.Run(ctx)
}

// buildRunner wires the orchestrator behind a queue runner
func buildRunner(cfg model.Config, st store.Store, log zerolog.Logger) (*pipeline.Orchestrator, *queue.Runner, error) {
	if serveWorkers > 0 {
		cfg.Queue.Workers = serveWorkers
	}
	orch, err := pipeline.NewFromConfig(cfg, st, log)
	if err != nil {
		return nil, nil, err
	}
	return orch, queue.NewRunner(st, orch, cfg.Queue, log), nil
}

// runAll runs every fn until one fails or ctx ends; the first failure cancels the rest
func runAll(ctx context.Context, cancel context.CancelFunc, log zerolog.Logger, fns ...func(context.Context) error) error {
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				once.Do(func() {
					firstErr = err
					log.Error().Err(err).Msg("component stopped")
					cancel()
				})
			}
		}(fn)
	}
	wg.Wait()
	return firstErr
}
