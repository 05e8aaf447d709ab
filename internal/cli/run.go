package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/tilesync/internal/config"
	"github.com/roach88/tilesync/internal/dispatch"
	"github.com/roach88/tilesync/internal/metrics"
	"github.com/roach88/tilesync/internal/queue"
	"github.com/roach88/tilesync/internal/stage"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Subscriber overrides the PostgreSQL listener (for testing). When set,
	// the startup connectivity check is skipped.
	Subscriber dispatch.Subscriber

	// Runner overrides the external tool runner (for testing).
	Runner stage.Runner
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	return newRunCommand(opts)
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the update service",
		Long: `Start the update service.

Every dataset in the tasks file is rebuilt once (unless TRIGGER_AT_STARTUP=no),
then its notification channel is subscribed. Each notification queues a bulk
rebuild, a point add or a point remove for the datasets on that channel.

Example:
  tilesync run
  tilesync run --env-file ./prod.env --log-format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd)
		},
	}
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(opts.RootOptions, cmd.ErrOrStderr())
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	env, err := loadEnv(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	datasets, err := loadTasks(env, formatter)
	if err != nil {
		return err
	}
	slog.Info("tasks loaded", "file", env.TasksFile, "datasets", len(datasets))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sub := opts.Subscriber
	if sub == nil {
		slog.Info("connecting to database", "conn", env.DB.Redacted())
		db, err := dispatch.OpenPQ(ctx, env.DB.ConnInfo())
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, "database unreachable", err)
		}
		db.Close()
		sub = dispatch.NewPQSubscriber(env.DB.ConnInfo(), env.ListenReconnectMin, env.ListenReconnectMax)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Warn("error closing subscriber", "error", err)
		}
	}()

	svc, err := newService(env, serviceOptions{runner: opts.Runner})
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, "failed to start service", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("error closing service", "error", err)
		}
	}()

	if env.MetricsAddr != "" {
		stop := serveMetrics(env, svc.metrics)
		defer stop()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	d := dispatch.New(sub, svc.engine, datasets,
		dispatch.WithBootstrap(env.TriggerAtStartup),
		dispatch.WithRejectHook(svc.metrics.RejectedPayload),
		dispatch.WithDepthGauges(func(name string) queue.Gauge {
			return svc.metrics.QueueDepth(name)
		}),
	)

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "subscription failed", err)
	}

	slog.Info("service stopped gracefully")
	return nil
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(env *config.Env, collector *metrics.Collector) func() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              env.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics listening", "addr", env.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
}
