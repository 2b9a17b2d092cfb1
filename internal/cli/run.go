package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/grainplan/internal/harness"
	"github.com/roach88/grainplan/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Seed     string
}

// RunResult holds the rows of an executed query.
type RunResult struct {
	Query       string   `json:"query"`
	Fingerprint string   `json:"fingerprint"`
	Seq         int64    `json:"seq"`
	SQL         string   `json:"sql"`
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <catalog-dir> <query>",
		Short: "Execute a planned query in a SQLite sandbox",
		Long: `Plan a catalog query, render it and execute it against a SQLite sandbox.

The sandbox has one table per datasource. Rows from --seed are inserted
before the query runs; seed files map datasource names to lists of rows
keyed by column name or concept reference. Each execution is recorded in
the plan_runs log with its trace id and fingerprint.

Examples:
  grainplan run ./catalog order_totals --seed seed.yaml
  grainplan run ./catalog order_totals --db ./sandbox.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", ":memory:", "path to SQLite sandbox database")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML file of rows to insert before running")

	return cmd
}

func runQuery(opts *RunOptions, catalogDir, query string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cat, pq, err := planQuery(formatter, opts.RootOptions, cmd, catalogDir, query)
	if err != nil {
		return err
	}
	rendered, err := renderPlan(formatter, query, pq)
	if err != nil {
		return err
	}

	// Cancel the sandbox query on interrupt
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter.VerboseLog("Opening sandbox: %s", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStoreFailed, err.Error(), nil)
	}
	defer st.Close()

	if err := st.CreateTables(ctx, cat.Env); err != nil {
		return outputCommandError(formatter, ErrCodeStoreFailed, err.Error(), nil)
	}
	if opts.Seed != "" {
		rows, err := harness.LoadSeed(opts.Seed)
		if err != nil {
			return outputCommandError(formatter, ErrCodeSeedFailed, err.Error(), nil)
		}
		if err := st.Seed(ctx, cat.Env, rows); err != nil {
			return outputCommandError(formatter, ErrCodeSeedFailed, err.Error(), nil)
		}
	}

	res, err := st.Query(ctx, rendered.SQL, rendered.Args...)
	if err != nil {
		return outputCommandError(formatter, ErrCodeExecFailed, err.Error(), map[string]any{"sql": rendered.SQL})
	}

	seq, err := st.RecordRun(ctx, store.Run{
		TraceID:     pq.TraceID,
		QueryName:   query,
		Fingerprint: rendered.Fingerprint,
		SQL:         rendered.SQL,
		ArgCount:    len(rendered.Args),
		RowCount:    len(res.Rows),
	})
	if err != nil {
		return outputCommandError(formatter, ErrCodeStoreFailed, err.Error(), nil)
	}

	rows := res.Rows
	if rows == nil {
		rows = [][]any{}
	}
	result := RunResult{
		Query:       query,
		Fingerprint: rendered.Fingerprint,
		Seq:         seq,
		SQL:         rendered.SQL,
		Columns:     res.Columns,
		Rows:        rows,
	}

	if formatter.Format == "json" {
		return formatter.SuccessWithTrace(pq.TraceID, result)
	}

	if err := formatter.Table(result.Columns, result.Rows); err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "(%d row(s), run %d)\n", len(result.Rows), seq)
	return nil
}
