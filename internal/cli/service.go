package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/tilesync/internal/archive"
	"github.com/roach88/tilesync/internal/config"
	"github.com/roach88/tilesync/internal/dataset"
	"github.com/roach88/tilesync/internal/engine"
	"github.com/roach88/tilesync/internal/metrics"
	"github.com/roach88/tilesync/internal/notify"
	"github.com/roach88/tilesync/internal/stage"
	"github.com/roach88/tilesync/internal/store"
)

// serviceOptions overrides external collaborators (for testing).
type serviceOptions struct {
	runner   stage.Runner
	notifier engine.Notifier
	runIDs   engine.RunIDGenerator
}

// service bundles the collaborators shared by run and update.
type service struct {
	engine  *engine.Engine
	metrics *metrics.Collector
	closers []func() error
}

func newService(env *config.Env, so serviceOptions) (*service, error) {
	if err := os.MkdirAll(env.TmpPath, 0o755); err != nil {
		return nil, fmt.Errorf("temp directory: %w", err)
	}

	runner := so.runner
	if runner == nil {
		runner = stage.ExecRunner{}
	}

	svc := &service{metrics: metrics.NewCollector()}
	recorders := []engine.Recorder{svc.metrics}

	if env.JournalPath != "" {
		st, err := store.Open(env.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		svc.closers = append(svc.closers, st.Close)
		recorders = append(recorders, st)
		slog.Debug("journal ready", "path", env.JournalPath)
	}

	notifier := so.notifier
	if notifier == nil && env.KillImage == "" {
		slog.Info("no image name configured, reload signal disabled")
	}
	if notifier == nil && env.KillImage != "" {
		docker, client, err := notify.Connect()
		if err != nil {
			slog.Warn("docker unavailable, reload signal disabled", "error", err)
		} else {
			svc.closers = append(svc.closers, client.Close)
			notifier = docker
		}
	}

	opts := []engine.Option{engine.WithRecorders(recorders...)}
	if notifier != nil {
		opts = append(opts, engine.WithNotifier(notifier, engine.ReloadTarget{
			Image:   env.KillImage,
			Signal:  env.KillSignal,
			Timeout: env.NotifyTimeout,
		}))
	}
	if so.runIDs != nil {
		opts = append(opts, engine.WithRunIDGenerator(so.runIDs))
	}

	svc.engine = engine.New(
		stage.NewExporter(runner, env.Ogr2ogrBin, "PG:"+env.DB.ConnInfo()),
		stage.NewTippecanoe(runner, env.TippecanoeBin, env.TileJoinBin),
		archive.NewNamer(env.TmpPath),
		opts...,
	)
	return svc, nil
}

func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func loadEnv(opts *RootOptions, f *OutputFormatter) (*config.Env, error) {
	env, err := config.LoadEnv(opts.EnvFile)
	if err != nil {
		return nil, f.fail(ExitCommandError, ErrCodeEnv, "invalid environment", err)
	}
	return env, nil
}

func loadTasks(env *config.Env, f *OutputFormatter) ([]*dataset.Dataset, error) {
	datasets, err := config.LoadTasks(env.TasksFile, env.OutputPath)
	if err != nil {
		return nil, f.fail(ExitCommandError, ErrCodeTasks, "invalid tasks file", err)
	}
	return datasets, nil
}
