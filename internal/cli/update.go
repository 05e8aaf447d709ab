package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tilesync/internal/dataset"
	"github.com/roach88/tilesync/internal/engine"
	"github.com/roach88/tilesync/internal/stage"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	Add    int64
	Remove int64

	// Runner overrides the external tool runner (for testing).
	Runner stage.Runner

	// Notifier overrides the Docker notifier (for testing).
	Notifier engine.Notifier
}

// updateResult is the payload printed after a successful update.
type updateResult struct {
	Dataset  string `json:"dataset"`
	Event    string `json:"event"`
	Archive  string `json:"archive"`
	Duration string `json:"duration"`
}

func (r updateResult) String() string {
	return fmt.Sprintf("✓ %s: %s committed to %s in %s", r.Dataset, r.Event, r.Archive, r.Duration)
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return newUpdateCommand(&UpdateOptions{RootOptions: rootOpts})
}

func newUpdateCommand(opts *UpdateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <dataset>",
		Short: "Apply one update to a dataset",
		Long: `Apply one update to a dataset and exit.

Without flags the dataset's archive is rebuilt from its query. With --add or
--remove a single entity is merged into or filtered out of the existing
archive, exactly as a notification payload would.

Example:
  tilesync update parks
  tilesync update parks --add 42
  tilesync update parks --remove 42 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := dataset.Bulk()
			switch {
			case cmd.Flags().Changed("add"):
				ev = dataset.Add(opts.Add)
			case cmd.Flags().Changed("remove"):
				ev = dataset.Remove(opts.Remove)
			}
			return runUpdate(opts, args[0], ev, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Add, "add", 0, "merge the entity with this reference")
	cmd.Flags().Int64Var(&opts.Remove, "remove", 0, "filter out the feature with this id")
	cmd.MarkFlagsMutuallyExclusive("add", "remove")

	return cmd
}

func runUpdate(opts *UpdateOptions, name string, ev dataset.Event, cmd *cobra.Command) error {
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

	var ds *dataset.Dataset
	for _, d := range datasets {
		if d.Name == name {
			ds = d
			break
		}
	}
	if ds == nil {
		return formatter.fail(ExitCommandError, ErrCodeUnknownTask, fmt.Sprintf("no dataset named %q", name), nil)
	}

	svc, err := newService(env, serviceOptions{runner: opts.Runner, notifier: opts.Notifier})
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, "failed to start service", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("error closing service", "error", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	if err := svc.engine.Apply(ctx, ds, ev); err != nil {
		return formatter.fail(ExitFailure, ErrCodeUpdateFailed, "update failed", err)
	}

	return formatter.Success(updateResult{
		Dataset:  ds.Name,
		Event:    ev.String(),
		Archive:  ds.OutputPath,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	})
}
