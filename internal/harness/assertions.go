package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/grainplan/internal/model"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	SQL      string // Rendered SQL for context, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.SQL != "" {
		fmt.Fprintf(&buf, "\nRendered SQL:\n  %s\n", e.SQL)
	}

	return buf.String()
}

// evaluateAssertion dispatches to the check for a.Type.
func evaluateAssertion(a Assertion, result *Result) error {
	switch a.Type {
	case AssertError:
		return assertError(result, a)
	case AssertStages:
		return assertStages(result, a)
	}

	// The remaining assertions inspect the plan.
	if result.Plan == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: "a compiled plan",
			Actual:   fmt.Sprintf("plan error: %v", result.PlanError),
		}
	}

	switch a.Type {
	case AssertBaseGrain:
		return assertBaseGrain(result, a)
	case AssertCTECount:
		return assertCount(a.Type, len(result.Plan.CTEs), a.Count)
	case AssertJoinCount:
		return assertCount(a.Type, len(result.Plan.Joins), a.Count)
	case AssertRows:
		return assertRows(result, a)
	case AssertSQLContains:
		return assertSQLContains(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertBaseGrain compares the base CTE grain to a set of references.
// References without a namespace are read in the default namespace.
func assertBaseGrain(result *Result, a Assertion) error {
	want := make([]string, len(a.Grain))
	for i, ref := range a.Grain {
		want[i] = model.Address(ref)
	}
	slices.Sort(want)

	got := result.Plan.Base.Grain.Addresses()
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertBaseGrain,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertCount(typ string, got, want int) error {
	if got != want {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

// assertRows compares executed rows cell by cell on their printed form,
// so YAML ints match SQLite int64s. Unordered assertions compare the rows
// as multisets.
func assertRows(result *Result, a Assertion) error {
	got := rowKeys(result.Rows)
	want := rowKeys(a.Rows)
	if !a.Ordered {
		slices.Sort(got)
		slices.Sort(want)
	}

	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertRows,
			Expected: fmt.Sprintf("%d rows %v", len(want), want),
			Actual:   fmt.Sprintf("%d rows %v", len(got), got),
			SQL:      result.SQL,
		}
	}
	return nil
}

func rowKeys(rows [][]any) []string {
	keys := make([]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = fmt.Sprint(cell)
		}
		keys[i] = "[" + strings.Join(cells, " ") + "]"
	}
	return keys
}

func assertError(result *Result, a Assertion) error {
	if result.PlanError == nil {
		return &AssertionError{
			Type:     AssertError,
			Expected: fmt.Sprintf("plan error %s", a.Code),
			Actual:   "plan compiled",
			SQL:      result.SQL,
		}
	}
	if result.ErrorCode != a.Code {
		return &AssertionError{
			Type:     AssertError,
			Expected: fmt.Sprintf("plan error %s", a.Code),
			Actual:   fmt.Sprintf("%v", result.PlanError),
		}
	}
	if a.Text != "" && !strings.Contains(result.PlanError.Error(), a.Text) {
		return &AssertionError{
			Type:     AssertError,
			Expected: fmt.Sprintf("message containing %q", a.Text),
			Actual:   result.PlanError.Error(),
		}
	}
	return nil
}

func assertSQLContains(result *Result, a Assertion) error {
	if !strings.Contains(result.SQL, a.Text) {
		return &AssertionError{
			Type:     AssertSQLContains,
			Expected: fmt.Sprintf("SQL containing %q", a.Text),
			Actual:   "not found",
			SQL:      result.SQL,
		}
	}
	return nil
}

func assertStages(result *Result, a Assertion) error {
	if !slices.Equal(result.Stages, a.Stages) {
		return &AssertionError{
			Type:     AssertStages,
			Expected: fmt.Sprintf("%v", a.Stages),
			Actual:   fmt.Sprintf("%v", result.Stages),
		}
	}
	return nil
}
