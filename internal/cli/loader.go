package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/grainplan/internal/catalog"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/planner"
)

// CLI-level error codes. Catalog errors keep their E0xx/E1xx codes and
// plan errors keep their PlanErrorCode.
const (
	ErrCodeQueryNotFound = "E201" // Query name not in catalog
	ErrCodeRenderFailed  = "E202" // Plan could not be rendered to SQL
	ErrCodeSeedFailed    = "E203" // Seed file unreadable or rows rejected
	ErrCodeExecFailed    = "E204" // Sandbox query failed
	ErrCodeStoreFailed   = "E205" // Database open or write failed
	ErrCodePlanFailed    = "E206" // Plan error without a PlanErrorCode
)

// planFunc plans one statement. (*planner.Planner).ProcessQuery satisfies it.
type planFunc func(*model.Environment, model.Select) (*planner.ProcessedQuery, error)

// newFormatter builds the formatter every command writes through.
// Verbose logs go to stderr to avoid corrupting JSON.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger returns a text logger on stderr. Planner stage logs are only
// shown with --verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newPlanner builds a planner logging to stderr. hooks may be nil, in which
// case stages are logged.
func newPlanner(opts *RootOptions, cmd *cobra.Command, hooks planner.Hooks) *planner.Planner {
	logger := newLogger(opts, cmd.ErrOrStderr())
	if hooks == nil {
		hooks = planner.LogHooks{Logger: logger}
	}
	return planner.New(planner.Config{
		Hooks:  hooks,
		Logger: logger,
		Traces: opts.TraceGenerator,

		// Rendered SQL filters on the resolved columns.
		ResolveFilterConcepts: true,
	})
}

// loadCatalog loads a catalog directory, reporting every load error through
// formatter. Load failures are command errors (exit code 2).
func loadCatalog(formatter *OutputFormatter, dir string, mode catalog.LoadMode) (*catalog.Catalog, error) {
	cat, errs := catalog.Load(dir, mode)
	if len(errs) > 0 {
		return nil, outputLoadErrors(formatter, errs)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", cat.FileCount, dir)
	for _, w := range cat.Warnings {
		formatter.VerboseLog("warning: %s", w)
	}
	return cat, nil
}

// lookupQuery finds a named query or reports E201.
func lookupQuery(formatter *OutputFormatter, cat *catalog.Catalog, name string) (model.Select, error) {
	stmt, ok := cat.Query(name)
	if !ok {
		return stmt, outputCommandError(formatter, ErrCodeQueryNotFound,
			fmt.Sprintf("query %q not found (available: %v)", name, cat.QueryNames()), nil)
	}
	return stmt, nil
}

// planErrorCode returns the code reported for a planning failure.
func planErrorCode(err error) string {
	if code, ok := planner.ErrorCode(err); ok {
		return string(code)
	}
	return ErrCodePlanFailed
}

// outputCommandError reports a single error and returns a command-level
// exit error (exit code 2).
func outputCommandError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputLoadErrors reports every catalog load error.
func outputLoadErrors(formatter *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		cliErrors[i] = toCLIError(err)
	}

	if formatter.Format == "json" {
		// First error in the envelope, all of them in data
		if err := formatter.Encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", cliErrors[0].Code, cliErrors[0].Message))
	}

	fmt.Fprintln(formatter.Writer, "✗ Catalog failed to load")
	fmt.Fprintln(formatter.Writer)
	for i, err := range errs {
		var loadErr *catalog.LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", cliErrors[i].Code, cliErrors[i].Message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", cliErrors[0].Code, cliErrors[0].Message))
}

// toCLIError extracts a code and message from a catalog error.
func toCLIError(err error) CLIError {
	var loadErr *catalog.LoadError
	if errors.As(err, &loadErr) {
		ce := CLIError{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			ce.Details = map[string]any{
				"file":   loadErr.Pos.Filename(),
				"line":   loadErr.Pos.Line(),
				"column": loadErr.Pos.Column(),
			}
		}
		return ce
	}
	var compileErr *catalog.CompileError
	if errors.As(err, &compileErr) {
		return CLIError{Code: catalog.MapFieldToErrorCode(compileErr.Field), Message: compileErr.Message}
	}
	return CLIError{Code: catalog.ErrCodeGeneric, Message: err.Error()}
}
