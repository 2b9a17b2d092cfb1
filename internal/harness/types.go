package harness

import (
	"github.com/roach88/grainplan/internal/planner"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// TraceID is the trace id the planner attached to this compilation.
	TraceID string `json:"trace_id"`

	// Plan is the compiled plan. Nil if planning failed.
	Plan *planner.ProcessedQuery `json:"-"`

	// PlanError is the planning error, if any.
	PlanError error `json:"-"`

	// ErrorCode is the PlanErrorCode of PlanError, if it carries one.
	ErrorCode string `json:"error_code,omitempty"`

	// SQL and Args are the rendered query.
	SQL  string `json:"sql,omitempty"`
	Args []any  `json:"args,omitempty"`

	// Columns and Rows are the executed result.
	Columns []string `json:"columns,omitempty"`
	Rows    [][]any  `json:"rows,omitempty"`

	// Stages lists the hook stages in the order they fired.
	Stages []string `json:"stages"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Stages: []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
