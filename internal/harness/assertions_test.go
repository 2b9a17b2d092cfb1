package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertRows,
		Expected: "1 rows [[1]]",
		Actual:   "0 rows []",
		SQL:      "SELECT 1",
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: rows")
	assert.Contains(t, msg, "Expected: 1 rows [[1]]")
	assert.Contains(t, msg, "Actual: 0 rows []")
	assert.Contains(t, msg, "Rendered SQL:\n  SELECT 1")
}

func TestAssertionError_NoSQL(t *testing.T) {
	err := &AssertionError{Type: AssertStages, Expected: "[a]", Actual: "[]"}
	assert.NotContains(t, err.Error(), "Rendered SQL")
}

func TestAssertRows(t *testing.T) {
	result := &Result{Rows: [][]any{{int64(2), "b"}, {int64(1), nil}}}

	tests := []struct {
		name    string
		rows    [][]any
		ordered bool
		pass    bool
	}{
		{"unordered match", [][]any{{1, nil}, {2, "b"}}, false, true},
		{"ordered match", [][]any{{2, "b"}, {1, nil}}, true, true},
		{"ordered mismatch", [][]any{{1, nil}, {2, "b"}}, true, false},
		{"missing row", [][]any{{2, "b"}}, false, false},
		{"duplicate counts", [][]any{{2, "b"}, {2, "b"}}, false, false},
		{"value mismatch", [][]any{{2, "c"}, {1, nil}}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertRows(result, Assertion{Type: AssertRows, Rows: tt.rows, Ordered: tt.ordered})
			if tt.pass {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, AssertRows, ae.Type)
		})
	}
}

func TestAssertError(t *testing.T) {
	failed := &Result{PlanError: errors.New("NO_DATASOURCE_FOR_CONCEPT: no datasource can supply local.x"), ErrorCode: "NO_DATASOURCE_FOR_CONCEPT"}

	assert.NoError(t, assertError(failed, Assertion{Code: "NO_DATASOURCE_FOR_CONCEPT"}))
	assert.NoError(t, assertError(failed, Assertion{Code: "NO_DATASOURCE_FOR_CONCEPT", Text: "local.x"}))
	assert.Error(t, assertError(failed, Assertion{Code: "NO_DATASOURCE_FOR_CONCEPT", Text: "local.y"}))
	assert.Error(t, assertError(failed, Assertion{Code: "GRAIN_CORRUPTION"}))
	assert.Error(t, assertError(&Result{}, Assertion{Code: "NO_DATASOURCE_FOR_CONCEPT"}))
}

func TestAssertStages(t *testing.T) {
	result := &Result{Stages: []string{"resolved", "planned"}}

	assert.NoError(t, assertStages(result, Assertion{Stages: []string{"resolved", "planned"}}))
	assert.Error(t, assertStages(result, Assertion{Stages: []string{"planned", "resolved"}}))
	assert.Error(t, assertStages(result, Assertion{Stages: []string{"resolved"}}))
}

func TestAssertCount(t *testing.T) {
	assert.NoError(t, assertCount(AssertJoinCount, 2, 2))

	err := assertCount(AssertJoinCount, 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2")
	assert.Contains(t, err.Error(), "Actual: 1")
}
