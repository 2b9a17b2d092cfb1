package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/grainplan/internal/catalog"
	"github.com/roach88/grainplan/internal/planner"
	"github.com/roach88/grainplan/internal/querysql"
)

// RenderResult is a rendered query with its bound arguments.
type RenderResult struct {
	Query       string `json:"query"`
	Fingerprint string `json:"fingerprint"`
	SQL         string `json:"sql"`
	Args        []any  `json:"args"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <catalog-dir> <query>",
		Short: "Render a planned query to SQL",
		Long: `Plan a catalog query and render it as one SQL statement.

The statement declares every CTE in a WITH clause and selects from the
base CTE. Literals are never interpolated: they are printed separately as
positional arguments.

Examples:
  grainplan render ./catalog order_totals
  grainplan render ./catalog eu_orders --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runRender(opts *RootOptions, catalogDir, query string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	_, pq, err := planQuery(formatter, opts, cmd, catalogDir, query)
	if err != nil {
		return err
	}

	result, err := renderPlan(formatter, query, pq)
	if err != nil {
		return err
	}

	if formatter.Format == "json" {
		return formatter.SuccessWithTrace(pq.TraceID, result)
	}

	fmt.Fprintln(formatter.Writer, result.SQL)
	if len(result.Args) > 0 {
		fmt.Fprintf(formatter.Writer, "-- args: %v\n", result.Args)
	}
	return nil
}

// planQuery loads a catalog and plans one named query.
func planQuery(formatter *OutputFormatter, opts *RootOptions, cmd *cobra.Command, catalogDir, query string) (*catalog.Catalog, *planner.ProcessedQuery, error) {
	cat, err := loadCatalog(formatter, catalogDir, catalog.LoadModeCollectAll)
	if err != nil {
		return nil, nil, err
	}
	stmt, err := lookupQuery(formatter, cat, query)
	if err != nil {
		return nil, nil, err
	}

	pq, err := newPlanner(opts, cmd, nil).ProcessQuery(cat.Env, stmt)
	if err != nil {
		return nil, nil, outputCommandError(formatter, planErrorCode(err), err.Error(), nil)
	}
	return cat, pq, nil
}

// renderPlan renders pq and fingerprints it.
func renderPlan(formatter *OutputFormatter, query string, pq *planner.ProcessedQuery) (RenderResult, error) {
	sql, args, err := querysql.Render(pq)
	if err != nil {
		return RenderResult{}, outputCommandError(formatter, ErrCodeRenderFailed, err.Error(), nil)
	}
	fingerprint, err := pq.Fingerprint()
	if err != nil {
		return RenderResult{}, outputCommandError(formatter, ErrCodePlanFailed, err.Error(), nil)
	}
	if args == nil {
		args = []any{}
	}
	return RenderResult{Query: query, Fingerprint: fingerprint, SQL: sql, Args: args}, nil
}
