package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/grainplan/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database    string
	Fingerprint string // optional - filter to one plan
}

// HistoryResult lists recorded runs in sequence order.
type HistoryResult struct {
	Runs  []store.Run `json:"runs"`
	Total int         `json:"total"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List executed plans recorded in a sandbox",
		Long: `List the plan_runs log of a sandbox database in sequence order.

Examples:
  grainplan history --db ./sandbox.db
  grainplan history --db ./sandbox.db --fingerprint 3f2a...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite sandbox database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Fingerprint, "fingerprint", "", "only runs of this plan fingerprint")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runs, err := st.Runs(context.Background(), opts.Fingerprint)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	if runs == nil {
		runs = []store.Run{}
	}
	result := HistoryResult{Runs: runs, Total: len(runs)}

	if opts.Format == "json" {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result})
	}

	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}
	rows := make([][]any, len(runs))
	for i, r := range runs {
		rows[i] = []any{r.Seq, r.QueryName, r.Fingerprint, r.RowCount, r.TraceID}
	}
	return formatter.Table([]string{"SEQ", "QUERY", "FINGERPRINT", "ROWS", "TRACE"}, rows)
}
