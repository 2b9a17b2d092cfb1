package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/grainplan/internal/catalog"
	"github.com/roach88/grainplan/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayRunResult holds the replay result for a single recorded run.
type ReplayRunResult struct {
	Seq           int64  `json:"seq"`
	Query         string `json:"query"`
	Recorded      string `json:"recorded"`
	Replayed      string `json:"replayed,omitempty"`
	Deterministic bool   `json:"deterministic"`
	Error         string `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <catalog-dir>",
		Short: "Re-plan recorded runs and verify fingerprints",
		Long: `Re-plan every query recorded in a sandbox's plan_runs log against a
catalog and compare each new fingerprint with the recorded one.

A mismatch means the catalog or the planner changed the plan since the
run was recorded.

Exit codes:
  0 - All fingerprints match
  1 - At least one plan drifted or no longer plans
  2 - Command error (database not found, catalog invalid, etc.)

Examples:
  grainplan replay ./catalog --db ./sandbox.db
  grainplan replay ./catalog --db ./sandbox.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite sandbox database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, catalogDir string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runs, err := st.Runs(ctx, "")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}

	if len(runs) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(formatter, ReplayResult{Runs: []ReplayRunResult{}, AllDeterministic: true})
		}
		fmt.Fprintln(formatter.Writer, "No runs found in database.")
		return nil
	}

	cat, err := loadCatalog(formatter, catalogDir, catalog.LoadModeCollectAll)
	if err != nil {
		return err
	}

	p := newPlanner(opts.RootOptions, cmd, nil)
	result := ReplayResult{
		Runs:             make([]ReplayRunResult, 0, len(runs)),
		TotalRuns:        len(runs),
		AllDeterministic: true,
	}
	for _, run := range runs {
		rr := replayRun(run, cat, p.ProcessQuery)
		formatter.VerboseLog("Replayed run %d (%s): deterministic=%t", rr.Seq, rr.Query, rr.Deterministic)
		if !rr.Deterministic {
			result.AllDeterministic = false
		}
		result.Runs = append(result.Runs, rr)
	}

	if opts.Format == "json" {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// replayRun re-plans one recorded run.
func replayRun(run store.Run, cat *catalog.Catalog, plan planFunc) ReplayRunResult {
	rr := ReplayRunResult{Seq: run.Seq, Query: run.QueryName, Recorded: run.Fingerprint}

	stmt, ok := cat.Query(run.QueryName)
	if !ok {
		rr.Error = fmt.Sprintf("query %q not found in catalog", run.QueryName)
		return rr
	}
	pq, err := plan(cat.Env, stmt)
	if err != nil {
		rr.Error = err.Error()
		return rr
	}
	fingerprint, err := pq.Fingerprint()
	if err != nil {
		rr.Error = err.Error()
		return rr
	}

	rr.Replayed = fingerprint
	rr.Deterministic = fingerprint == run.Fingerprint
	return rr
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	if !result.AllDeterministic {
		resp.Status = "error"
		resp.Error = &CLIError{Code: "E_PLAN_DRIFT", Message: "recorded fingerprints differ from replayed plans"}
	}
	if err := formatter.Encode(resp); err != nil {
		return err
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "plan drift detected")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer
	for _, rr := range result.Runs {
		switch {
		case rr.Error != "":
			fmt.Fprintf(w, "✗ run %d %s: %s\n", rr.Seq, rr.Query, rr.Error)
		case rr.Deterministic:
			fmt.Fprintf(w, "✓ run %d %s\n", rr.Seq, rr.Query)
		default:
			fmt.Fprintf(w, "✗ run %d %s: recorded %s, replayed %s\n", rr.Seq, rr.Query, rr.Recorded, rr.Replayed)
		}
	}

	fmt.Fprintln(w)
	if !result.AllDeterministic {
		fmt.Fprintln(w, "✗ Plan drift detected")
		return NewExitError(ExitFailure, "plan drift detected")
	}
	fmt.Fprintf(w, "✓ All %d run(s) replay to the recorded plan\n", result.TotalRuns)
	return nil
}
