package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grainplan/internal/catalog"
	"github.com/roach88/grainplan/internal/planner"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Stage string // optional - filter to one stage
}

// TraceEvent is one planner stage in the trace timeline.
type TraceEvent struct {
	Seq         int      `json:"seq"`
	Stage       string   `json:"stage"`
	Pass        string   `json:"pass,omitempty"`
	Components  int      `json:"components,omitempty"`
	Datasources []string `json:"datasources,omitempty"`
	CTEs        []string `json:"ctes,omitempty"`
	Base        string   `json:"base,omitempty"`
	Joins       int      `json:"joins,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	TraceID  string       `json:"trace_id"`
	Query    string       `json:"query"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
	Error    *CLIError    `json:"error,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents  int  `json:"total_events"`
	Resolutions  int  `json:"resolutions"`
	WholeGrain   bool `json:"whole_grain"`
	Disconnected bool `json:"disconnected"`
	IsComplete   bool `json:"is_complete"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <catalog-dir> <query>",
		Short: "Show the planner stages for a query",
		Long: `Plan a catalog query and show every planner stage it passed through.

The timeline lists resolution passes with their connected component counts,
the compiled CTEs, the selected base and the final plan fingerprint. A
query that needed the whole-grain retry shows a "disconnected" stage after
the direct pass. A failed plan still prints the stages reached.

Examples:
  grainplan trace ./catalog order_totals
  grainplan trace ./catalog order_totals --stage resolved
  grainplan trace ./catalog order_totals --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stage, "stage", "", "filter to one stage (resolved, disconnected, compiled, base_selected, planned)")

	return cmd
}

func runTrace(opts *TraceOptions, catalogDir, query string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cat, err := loadCatalog(formatter, catalogDir, catalog.LoadModeCollectAll)
	if err != nil {
		return err
	}
	stmt, err := lookupQuery(formatter, cat, query)
	if err != nil {
		return err
	}

	recorder := &planner.Recorder{}
	pq, planErr := newPlanner(opts.RootOptions, cmd, recorder).ProcessQuery(cat.Env, stmt)

	result := TraceResult{
		Query:    query,
		Timeline: buildTimeline(recorder.Events, opts.Stage),
		Stats:    buildStats(recorder.Events),
	}
	if len(recorder.Events) > 0 {
		result.TraceID = recorder.Events[0].TraceID
	}
	if pq != nil {
		result.TraceID = pq.TraceID
	}
	if planErr != nil {
		result.Error = &CLIError{Code: planErrorCode(planErr), Message: planErr.Error()}
	}

	if opts.Format == "json" {
		return outputTraceJSON(formatter, result)
	}
	return outputTraceText(formatter, result)
}

// buildTimeline converts hook events to timeline entries.
// When stageFilter is set, only that stage is kept; seq numbers still
// reflect the unfiltered order.
func buildTimeline(events []planner.Event, stageFilter string) []TraceEvent {
	timeline := []TraceEvent{}
	for i, e := range events {
		if stageFilter != "" && string(e.Stage) != stageFilter {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:         i + 1,
			Stage:       string(e.Stage),
			Pass:        e.Pass,
			Components:  e.Components,
			Datasources: e.Datasources,
			CTEs:        e.CTEs,
			Base:        e.Base,
			Joins:       e.Joins,
			Fingerprint: e.Fingerprint,
		})
	}
	return timeline
}

func buildStats(events []planner.Event) TraceStats {
	stats := TraceStats{TotalEvents: len(events)}
	for _, e := range events {
		switch e.Stage {
		case planner.StageResolved:
			stats.Resolutions++
			if e.Pass == "whole_grain" {
				stats.WholeGrain = true
			}
		case planner.StageDisconnected:
			stats.Disconnected = true
		case planner.StagePlanned:
			stats.IsComplete = true
		}
	}
	return stats
}

// outputTraceJSON outputs the trace as JSON. A failed plan is a command
// error (exit code 2) after the trace is printed.
func outputTraceJSON(formatter *OutputFormatter, result TraceResult) error {
	resp := CLIResponse{Status: "ok", Data: result, TraceID: result.TraceID}
	if result.Error != nil {
		resp.Status = "error"
		resp.Error = result.Error
	}
	if err := formatter.Encode(resp); err != nil {
		return err
	}
	if result.Error != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", result.Error.Code, result.Error.Message))
	}
	return nil
}

// outputTraceText outputs the trace as a readable timeline.
func outputTraceText(formatter *OutputFormatter, result TraceResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Trace: %s\n", result.TraceID)
	fmt.Fprintf(w, "Query: %s\n\n", result.Query)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No stages recorded.")
	}
	for _, e := range result.Timeline {
		fmt.Fprintf(w, "[%d] %s", e.Seq, e.Stage)
		switch e.Stage {
		case string(planner.StageResolved), string(planner.StageDisconnected):
			fmt.Fprintf(w, " pass=%s components=%d datasources=%d", e.Pass, e.Components, len(e.Datasources))
		case string(planner.StageCompiled):
			fmt.Fprintf(w, " ctes=%s", strings.Join(e.CTEs, ","))
		case string(planner.StageBaseSelected):
			fmt.Fprintf(w, " base=%s", e.Base)
		case string(planner.StagePlanned):
			fmt.Fprintf(w, " base=%s joins=%d fingerprint=%s", e.Base, e.Joins, e.Fingerprint)
		}
		fmt.Fprintln(w)
		if formatter.Verbose {
			for _, ds := range e.Datasources {
				fmt.Fprintf(w, "      %s\n", ds)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d event(s), %d resolution pass(es), whole-grain=%t, complete=%t\n",
		result.Stats.TotalEvents, result.Stats.Resolutions, result.Stats.WholeGrain, result.Stats.IsComplete)

	if result.Error != nil {
		fmt.Fprintf(w, "\nError [%s]: %s\n", result.Error.Code, result.Error.Message)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", result.Error.Code, result.Error.Message))
	}
	return nil
}
