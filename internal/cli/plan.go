package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/grainplan/internal/catalog"
	"github.com/roach88/grainplan/internal/ir"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Output string // output file path
}

// QueryPlan is the planned form of one catalog query.
type QueryPlan struct {
	Query       string    `json:"query"`
	TraceID     string    `json:"trace_id"`
	Fingerprint string    `json:"fingerprint"`
	Plan        ir.Object `json:"plan"`
	Description string    `json:"-"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <catalog-dir> [query...]",
		Short: "Plan catalog queries",
		Long: `Plan one or more catalog queries and print each plan.

With no query names every query in the catalog is planned, in name order.
Each plan is reported with its fingerprint, a hash of the plan structure
that is stable across runs.

Examples:
  grainplan plan ./catalog order_totals
  grainplan plan ./catalog --format json
  grainplan plan ./catalog -o plans.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write canonical plan JSON to a file")

	return cmd
}

func runPlan(opts *PlanOptions, catalogDir string, queries []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cat, err := loadCatalog(formatter, catalogDir, catalog.LoadModeCollectAll)
	if err != nil {
		return err
	}

	if len(queries) == 0 {
		queries = cat.QueryNames()
	}
	if len(queries) == 0 {
		return outputCommandError(formatter, ErrCodeQueryNotFound, "catalog declares no queries", nil)
	}

	p := newPlanner(opts.RootOptions, cmd, nil)
	plans := make([]QueryPlan, 0, len(queries))
	for _, name := range queries {
		stmt, err := lookupQuery(formatter, cat, name)
		if err != nil {
			return err
		}

		formatter.VerboseLog("Planning query: %s", name)
		pq, err := p.ProcessQuery(cat.Env, stmt)
		if err != nil {
			return outputCommandError(formatter, planErrorCode(err), fmt.Sprintf("planning %s: %v", name, err), nil)
		}

		fingerprint, err := pq.Fingerprint()
		if err != nil {
			return outputCommandError(formatter, ErrCodePlanFailed, fmt.Sprintf("fingerprinting %s: %v", name, err), nil)
		}
		plans = append(plans, QueryPlan{
			Query:       name,
			TraceID:     pq.TraceID,
			Fingerprint: fingerprint,
			Plan:        pq.Summary(),
			Description: pq.Describe(),
		})
	}

	if opts.Output != "" {
		if err := writePlansToFile(plans, opts.Output); err != nil {
			return outputCommandError(formatter, catalog.ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputPlanSuccess(formatter, plans, opts.Output)
}

// outputPlanSuccess outputs the planned queries.
func outputPlanSuccess(formatter *OutputFormatter, plans []QueryPlan, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(plans)
	}

	fmt.Fprintf(formatter.Writer, "✓ Planned %d query(s)\n\n", len(plans))
	for _, qp := range plans {
		fmt.Fprintf(formatter.Writer, "%s (fingerprint %s)\n", qp.Query, qp.Fingerprint)
		fmt.Fprintln(formatter.Writer, qp.Description)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical plans to %s\n", outputFile)
	}
	return nil
}

// writePlansToFile writes plan summaries keyed by query name as canonical
// JSON. Trace ids are left out so the file is reproducible.
func writePlansToFile(plans []QueryPlan, filename string) error {
	out := make(ir.Object, len(plans))
	for _, qp := range plans {
		out[qp.Query] = ir.Object{
			"fingerprint": ir.String(qp.Fingerprint),
			"plan":        qp.Plan,
		}
	}

	data, err := ir.MarshalCanonical(out)
	if err != nil {
		return fmt.Errorf("marshaling plans: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
