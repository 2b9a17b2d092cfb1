package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/grainplan/internal/catalog"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool       `json:"valid"`
	Concepts    int        `json:"concepts"`
	Datasources int        `json:"datasources"`
	Queries     []string   `json:"queries"`
	Warnings    []string   `json:"warnings,omitempty"`
	Errors      []CLIError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog-dir>",
		Short: "Validate a catalog without planning",
		Long: `Validate CUE catalog files without planning any query.

Checks concept purposes and aggregates, datasource columns and grains, and
query selections, predicates, ordering and limits. Every error is reported.
Where clauses that compare against NULL are reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, catalogDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cat, errs := catalog.Load(catalogDir, catalog.LoadModeCollectAll)

	// Directory-level failures leave nothing to validate
	if cat == nil {
		return outputLoadErrors(formatter, errs)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", cat.FileCount, catalogDir)

	result := ValidationResult{
		Valid:       len(errs) == 0,
		Concepts:    len(cat.Env.Concepts()),
		Datasources: len(cat.Env.Datasources()),
		Queries:     cat.QueryNames(),
		Warnings:    cat.Warnings,
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, toCLIError(err))
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Catalog valid: %d concept(s), %d datasource(s), %d query(s)\n",
		result.Concepts, result.Datasources, len(result.Queries))
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  warning: %s\n", w)
	}
	return nil
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.Format == "json" {
		if err := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &result.Errors[0],
		}); err != nil {
			return err
		}
		// Validation failures = exit code 1
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, e := range result.Errors {
		if pos, ok := e.Details.(map[string]any); ok {
			fmt.Fprintf(formatter.Writer, "%v:%v:%v\n", pos["file"], pos["line"], pos["column"])
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}

	// Validation failures = exit code 1
	return failure
}
