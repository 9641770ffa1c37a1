package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/worker"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Warm     bool
	WarmOnly bool
	Owner    string
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(root *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Recompute snapshots from change events",
		Long: `Consume change events from Kafka and keep the snapshot cache current.

Example:
  fern worker
  fern worker --warm --owner tenant-a
  fern worker --warm-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Warm, "warm", false, "reduce every active entity before consuming")
	cmd.Flags().BoolVar(&opts.WarmOnly, "warm-only", false, "warm the cache and exit without consuming")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "limit warming to one owner")

	return cmd
}

func runWorker(ctx context.Context, opts *WorkerOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	if !cfg.KafkaEnabled && !opts.WarmOnly {
		return fmt.Errorf("the worker needs KAFKA_ENABLED=true unless --warm-only is set")
	}
	if cfg.SnapshotCache == "memory" {
		// serve never sees snapshots cached in this process
		return fmt.Errorf("the standalone worker needs a shared cache: set SNAPSHOT_CACHE=redis (or none), not memory")
	}

	rt, err := newRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if err := rt.setupTracing(ctx); err != nil {
		return err
	}

	w := worker.New(rt.services.Snapshots, rt.services.Entities, cfg.WorkerConcurrency, rt.logger)

	if opts.Warm || opts.WarmOnly {
		n, err := w.Warm(ctx, opts.Owner)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "warmed %d snapshots\n", n)
		if opts.WarmOnly {
			return nil
		}
	}

	consumer := rt.consumer(w)
	defer consumer.Close()
	return consumer.Run(ctx)
}
