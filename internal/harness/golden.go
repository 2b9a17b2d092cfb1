package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
)

// Snapshot returns the canonical golden form of a scenario result.
// It leaves out CTE names and rendered SQL, which embed content hashes,
// and keeps the plan shape plus the executed rows.
func Snapshot(scenarioName string, result *Result) (ir.Object, error) {
	obj := ir.Object{
		"scenario": ir.String(scenarioName),
		"stages":   ir.Strings(result.Stages...),
	}

	if result.Plan == nil {
		obj["error"] = ir.String(result.ErrorCode)
		return obj, nil
	}

	pq := result.Plan
	obj["trace_id"] = ir.String(result.TraceID)
	obj["grain"] = ir.Strings(pq.Grain.Addresses()...)
	obj["outputs"] = ir.Strings(model.Addresses(pq.OutputColumns)...)
	obj["base_grain"] = ir.Strings(pq.Base.Grain.Addresses()...)
	obj["cte_count"] = ir.Int(len(pq.CTEs))
	obj["join_count"] = ir.Int(len(pq.Joins))
	obj["columns"] = ir.Strings(result.Columns...)

	rows := make(ir.List, len(result.Rows))
	for i, row := range result.Rows {
		cells := make(ir.List, len(row))
		for j, cell := range row {
			v, err := snapshotCell(cell)
			if err != nil {
				return nil, fmt.Errorf("rows[%d][%d]: %w", i, j, err)
			}
			cells[j] = v
		}
		rows[i] = cells
	}
	obj["rows"] = rows

	return obj, nil
}

// snapshotCell converts a sandbox cell. Canonical JSON forbids null, so
// SQL NULL becomes {"null": true}.
func snapshotCell(cell any) (ir.Value, error) {
	if cell == nil {
		return ir.Object{"null": ir.Bool(true)}, nil
	}
	return ir.FromAny(cell)
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	data, err := ir.MarshalCanonical(snapshot)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
