package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/tilesync/internal/dataset"
)

// datasetInfo describes one configured dataset.
type datasetInfo struct {
	Name            string   `json:"name"`
	Channel         string   `json:"channel"`
	ReferenceColumn string   `json:"referenceColumn"`
	BuildParams     []string `json:"buildParams"`
	DebounceWaitMS  int64    `json:"debounceWait"`
	Coalesce        bool     `json:"coalesce"`
	Archive         string   `json:"archive"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Datasets []datasetInfo `json:"datasets"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tCHANNEL\tREF\tDEBOUNCE\tARCHIVE")
	for _, d := range r.Datasets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n", d.Name, d.Channel, d.ReferenceColumn, d.DebounceWaitMS, d.Archive)
	}
	tw.Flush()
	fmt.Fprintf(&b, "✓ %d dataset(s) valid", len(r.Datasets))
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the environment and tasks file",
		Long: `Load the environment and the tasks file, validate them, and list the
configured datasets. Nothing is built and no connection is opened.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	env, err := loadEnv(opts, formatter)
	if err != nil {
		return err
	}
	datasets, err := loadTasks(env, formatter)
	if err != nil {
		return err
	}

	result := ValidationResult{Valid: true}
	for _, ds := range datasets {
		result.Datasets = append(result.Datasets, describe(ds))
	}
	return formatter.Success(result)
}

func describe(ds *dataset.Dataset) datasetInfo {
	return datasetInfo{
		Name:            ds.Name,
		Channel:         ds.Channel,
		ReferenceColumn: ds.ReferenceColumn,
		BuildParams:     ds.Params(),
		DebounceWaitMS:  ds.DebounceWait.Milliseconds(),
		Coalesce:        ds.Coalesce,
		Archive:         ds.OutputPath,
	}
}
