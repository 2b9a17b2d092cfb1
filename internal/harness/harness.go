package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/grainplan/internal/catalog"
	"github.com/roach88/grainplan/internal/planner"
	"github.com/roach88/grainplan/internal/querysql"
	"github.com/roach88/grainplan/internal/store"
	"github.com/roach88/grainplan/internal/testutil"
)

// Harness runs scenarios with a fixed trace id and a throwaway sandbox.
type Harness struct {
	store   *store.Store
	planner *planner.Planner
	hooks   *planner.Recorder
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load the catalog and look up the query
// 2. Plan the query with a recording hook and fixed trace id
// 3. Render the plan to SQL
// 4. Create and seed the sandbox tables, then execute the SQL
// 5. Evaluate assertions
//
// A planning failure is not an error: it is recorded on the result and
// checked by "error" assertions. Run returns an error only when the
// scenario itself cannot be executed.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context for sandbox queries.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	cat, err := loadCatalog(scenario)
	if err != nil {
		return nil, err
	}

	stmt, ok := cat.Query(scenario.Query)
	if !ok {
		return nil, fmt.Errorf("query %q not found in catalog", scenario.Query)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	hooks := &planner.Recorder{}
	h := &Harness{
		store: st,
		planner: planner.New(planner.Config{
			Hooks:  hooks,
			Logger: logger,
			Traces: testutil.NewFixedTraceGenerator(scenario.TraceID),

			ResolveFilterConcepts: true,
		}),
		hooks:  hooks,
		logger: logger,
	}

	result := NewResult()

	pq, planErr := h.planner.ProcessQuery(cat.Env, stmt)
	for _, stage := range hooks.Stages() {
		result.Stages = append(result.Stages, string(stage))
	}
	if planErr != nil {
		result.PlanError = planErr
		if code, ok := planner.ErrorCode(planErr); ok {
			result.ErrorCode = string(code)
		}
	} else {
		result.Plan = pq
		result.TraceID = pq.TraceID
		if err := h.execute(ctx, cat, scenario, result); err != nil {
			return nil, err
		}
	}

	evaluateAssertions(scenario.Assertions, result)

	// An unexpected planning failure fails the scenario even when no
	// assertion inspects the plan.
	if planErr != nil && !expectsError(scenario.Assertions) {
		result.AddError(fmt.Sprintf("unexpected plan error: %v", planErr))
	}

	return result, nil
}

func loadCatalog(scenario *Scenario) (*catalog.Catalog, error) {
	var (
		cat  *catalog.Catalog
		errs []error
	)
	if scenario.CatalogSource != "" {
		cat, errs = catalog.LoadString(scenario.CatalogSource, catalog.LoadModeCollectAll)
	} else {
		cat, errs = catalog.Load(scenario.Catalog, catalog.LoadModeCollectAll)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load catalog: %w", errors.Join(errs...))
	}
	return cat, nil
}

// execute renders the plan and runs it against the seeded sandbox.
func (h *Harness) execute(ctx context.Context, cat *catalog.Catalog, scenario *Scenario, result *Result) error {
	query, args, err := querysql.Render(result.Plan)
	if err != nil {
		return fmt.Errorf("failed to render plan: %w", err)
	}
	result.SQL = query
	result.Args = args

	if err := h.store.CreateTables(ctx, cat.Env); err != nil {
		return err
	}

	if scenario.Seed != "" {
		rows, err := LoadSeed(scenario.Seed)
		if err != nil {
			return err
		}
		if err := h.store.Seed(ctx, cat.Env, rows); err != nil {
			return err
		}
	}
	if len(scenario.Rows) > 0 {
		if err := h.store.Seed(ctx, cat.Env, scenario.Rows); err != nil {
			return err
		}
	}

	res, err := h.store.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute rendered plan: %w", err)
	}
	result.Columns = res.Columns
	result.Rows = res.Rows

	h.logger.Debug("scenario executed",
		"trace_id", result.TraceID,
		"rows", len(res.Rows),
	)
	return nil
}

// evaluateAssertions checks every assertion and records failures on result.
func evaluateAssertions(assertions []Assertion, result *Result) {
	for i, a := range assertions {
		if err := evaluateAssertion(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
}

func expectsError(assertions []Assertion) bool {
	for _, a := range assertions {
		if a.Type == AssertError {
			return true
		}
	}
	return false
}
