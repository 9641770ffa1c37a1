package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/kafka"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/routes"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/worker"
)

// NewServeCommand creates the serve command.
func NewServeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API together with the optional background loops.

With WORKER_ENABLED the snapshot worker consumes change events from Kafka in
the same process. With INTEGRITY_SCAN_ENABLED the integrity scan runs on
INTEGRITY_SCAN_SCHEDULE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root)
		},
	}
}

func runServe(ctx context.Context, root *RootOptions) error {
	cfg := root.Config

	rt, err := newRuntime(ctx, cfg, runtimeOptions{Migrate: cfg.DatabaseAutoMigrate, Blob: true, Emitters: true})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if err := rt.setupTracing(ctx); err != nil {
		return err
	}
	if err := rt.seedSchemas(ctx); err != nil {
		return err
	}

	metricsPath := ""
	if cfg.MetricsEnabled {
		metricsPath = cfg.MetricsPath
	}
	e, checker := routes.New(rt.services, routes.Options{
		AppName:      cfg.AppName,
		Version:      root.Version,
		Tracing:      cfg.TracingEnabled,
		MetricsPath:  metricsPath,
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
		Checks:       rt.checks(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.logger.WithContext(gctx).Infof("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		checker.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		rt.logger.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	if cfg.WorkerEnabled {
		consumer := rt.consumer(worker.New(rt.services.Snapshots, rt.services.Entities, cfg.WorkerConcurrency, rt.logger))
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	if cfg.IntegrityScanEnabled {
		sched := rt.scheduler()
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	checker.SetReady(true)
	return g.Wait()
}

func (rt *runtime) consumer(w *worker.Worker) *kafka.Consumer {
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       rt.cfg.KafkaBrokers,
		Topic:         rt.cfg.KafkaTopic,
		ConsumerGroup: rt.cfg.KafkaConsumerGroup,
	}, rt.logger, w.Handle)
}

func (rt *runtime) scheduler() *scheduler.Scheduler {
	var locker scheduler.Locker
	if rt.cfg.IntegrityScanLockEnabled && rt.redis != nil {
		locker = fernredis.NewLocker(rt.redis, "")
	}
	return scheduler.NewScheduler(rt.services.Scanner, locker, scheduler.Config{
		Schedule: rt.cfg.IntegrityScanSchedule,
	}, rt.logger)
}
