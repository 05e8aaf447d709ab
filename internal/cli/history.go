package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/tilesync/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Dataset string
	Limit   int
}

// historyResult lists journal records, newest first.
type historyResult struct {
	Updates []store.UpdateRecord `json:"updates"`
	now     time.Time
}

func (r historyResult) String() string {
	if len(r.Updates) == 0 {
		return "No updates recorded."
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTARTED\tDATASET\tACTION\tREF\tSTATUS\tDURATION\tERROR")
	for _, u := range r.Updates {
		ref := "-"
		if u.Ref != nil {
			ref = strconv.FormatInt(*u.Ref, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			u.Seq,
			humanize.RelTime(u.StartedAt, r.now, "ago", "from now"),
			u.Dataset,
			u.Action,
			ref,
			u.Status,
			u.Duration.Round(time.Millisecond),
			u.Error,
		)
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent updates from the journal",
		Long: `List recent update engine invocations recorded in the journal
(JOURNAL_PATH), newest first.

Example:
  tilesync history
  tilesync history --dataset parks --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "only show this dataset")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of updates")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	env, err := loadEnv(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	if env.JournalPath == "" {
		return formatter.fail(ExitCommandError, ErrCodeJournalOff, "journal disabled (JOURNAL_PATH=none)", nil)
	}

	st, err := store.Open(env.JournalPath)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	updates, err := st.RecentUpdates(ctx, store.Filter{Dataset: opts.Dataset, Limit: opts.Limit})
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, "failed to read journal", err)
	}

	return formatter.Success(historyResult{Updates: updates, now: time.Now()})
}
