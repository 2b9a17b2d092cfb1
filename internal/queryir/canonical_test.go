package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grainplan/internal/ir"
)

func TestConcepts(t *testing.T) {
	pred := And{Predicates: []Predicate{
		Equals("local.status", ir.String("shipped")),
		&Or{Predicates: []Predicate{
			In{Concept: "local.region", Values: ir.Strings("eu", "us")},
			Not{Predicate: IsNull{Concept: "local.status"}},
		}},
	}}

	assert.Equal(t, []string{"local.region", "local.status"}, Concepts(pred))
	assert.Empty(t, Concepts(nil))
}

func TestCanonicalDeterministic(t *testing.T) {
	pred := And{Predicates: []Predicate{
		Comparison{Concept: "local.amount", Op: OpGt, Value: ir.Int(10)},
		IsNull{Concept: "local.deleted_at"},
	}}

	a, err := Canonical(pred)
	require.NoError(t, err)
	b, err := Canonical(&pred)
	require.NoError(t, err)

	ca, err := ir.MarshalCanonical(a)
	require.NoError(t, err)
	cb, err := ir.MarshalCanonical(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
}

func TestCanonicalEncodesNullLiteral(t *testing.T) {
	c, err := Canonical(Equals("local.x", ir.Null{}))
	require.NoError(t, err)

	out, err := ir.MarshalCanonical(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"null":true`)
}

func TestCanonicalDistinguishesOperators(t *testing.T) {
	eq, err := Canonical(Equals("local.x", ir.Int(1)))
	require.NoError(t, err)
	gt, err := Canonical(Comparison{Concept: "local.x", Op: OpGt, Value: ir.Int(1)})
	require.NoError(t, err)

	assert.NotEqual(t, eq, gt)
}

func TestCanonicalRejectsNil(t *testing.T) {
	_, err := Canonical(nil)
	require.Error(t, err)

	_, err = Canonical(And{Predicates: []Predicate{nil}})
	require.Error(t, err)
}

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		pred     Predicate
		expected string
	}{
		{"nil", nil, "TRUE"},
		{"equals", Equals("local.a", ir.Int(1)), "local.a = 1"},
		{"in", In{Concept: "local.a", Values: ir.Strings("x")}, `local.a IN ("x")`},
		{"not null", IsNull{Concept: "local.a", Negated: true}, "local.a IS NOT NULL"},
		{"empty and", And{}, "TRUE"},
		{"empty or", Or{}, "FALSE"},
		{"not", Not{Predicate: IsNull{Concept: "local.a"}}, "NOT (local.a IS NULL)"},
		{
			"and",
			And{Predicates: []Predicate{Equals("local.a", ir.Int(1)), Equals("local.b", ir.Bool(true))}},
			"(local.a = 1 AND local.b = true)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, String(tt.pred))
		})
	}
}
