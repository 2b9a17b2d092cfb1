package planner

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/testutil"
)

func orders() *model.BaseDatasource {
	return testutil.Table("orders", []model.Concept{testutil.OrderID},
		testutil.OrderID, testutil.CustomerID, testutil.Amount)
}

func customers() *model.BaseDatasource {
	return testutil.Table("customers", []model.Concept{testutil.CustomerID},
		testutil.CustomerID, testutil.Region)
}

func names(ctes []*CTE) []string {
	return cteNames(ctes)
}

// TestCompileCTEs_PassThrough tests a single base child.
func TestCompileCTEs_PassThrough(t *testing.T) {
	ds := model.Wrap(orders())
	ctes, err := CompileCTEs(ds)
	require.NoError(t, err)
	require.Len(t, ctes, 1)

	cte := ctes[0]
	assert.Equal(t, ir.CTEName(ds.Identifier()), cte.Name)
	assert.True(t, cte.IsPassThrough())
	assert.Empty(t, cte.ParentCTEs)
	assert.Empty(t, cte.Joins)
	for _, c := range ds.OutputConcepts {
		assert.Equal(t, "orders", cte.SourceMap[c.Address()])
	}
	for _, col := range cte.OutputColumns {
		require.NotNil(t, col.Grain)
		assert.True(t, col.Grain.Equal(ds.Grain), "outputs are qualified to the CTE grain")
	}
	assert.True(t, cte.Grain.Equal(ds.Grain))
}

// TestCompileCTEs_BaseJoin tests joins between two base children.
func TestCompileCTEs_BaseJoin(t *testing.T) {
	o, c := orders(), customers()
	ds := &model.QueryDatasource{
		OutputConcepts: model.UnionConcepts(o.Outputs(), c.Outputs()),
		SourceMap:      map[string][]model.Datasource{"local.customer_id": {o, c}},
		Grain:          model.NewGrain(testutil.OrderID),
		Datasources:    []model.Datasource{o, c},
		Joins: []model.BaseJoin{{
			Left: o, Right: c, Concepts: []model.Concept{testutil.CustomerID}, JoinType: model.JoinLeftOuter,
		}},
	}

	ctes, err := CompileCTEs(ds)
	require.NoError(t, err)
	require.Len(t, ctes, 1, "base children are not materialized")

	cte := ctes[0]
	require.Len(t, cte.Joins, 1)
	assert.Equal(t, "orders", cte.Joins[0].Left.Name)
	assert.Equal(t, "customers", cte.Joins[0].Right.Name)
	assert.Equal(t, "orders", cte.SourceMap["local.customer_id"], "the join anchor supplies shared keys")
	assert.Equal(t, "customers", cte.SourceMap["local.region"])
	assert.Equal(t, "orders", cte.SourceMap["local.amount"])
}

// TestCompileCTEs_Nested tests parents-first ordering and one-level parents.
func TestCompileCTEs_Nested(t *testing.T) {
	inner := model.Wrap(orders())
	mid := &model.QueryDatasource{
		OutputConcepts: inner.OutputConcepts,
		Grain:          inner.Grain,
		Datasources:    []model.Datasource{inner},
	}
	outer := &model.QueryDatasource{
		OutputConcepts: []model.Concept{testutil.OrderID},
		Grain:          inner.Grain,
		Datasources:    []model.Datasource{mid},
	}

	ctes, err := CompileCTEs(outer)
	require.NoError(t, err)
	require.Len(t, ctes, 3)

	assert.Equal(t, ir.CTEName(inner.Identifier()), ctes[0].Name)
	assert.Equal(t, ir.CTEName(mid.Identifier()), ctes[1].Name)
	assert.Equal(t, ir.CTEName(outer.Identifier()), ctes[2].Name)

	assert.Equal(t, []*CTE{ctes[1]}, ctes[2].ParentCTEs, "only immediate children are parents")
	assert.Equal(t, []*CTE{ctes[0]}, ctes[1].ParentCTEs)
	assert.Equal(t, ctes[1].Name, ctes[2].SourceMap["local.order_id"])
}

// TestCompileCTEs_DeepNesting tests that deep trees do not rely on
// recursion and compile in roughly linear time.
func TestCompileCTEs_DeepNesting(t *testing.T) {
	const depth = 5000
	var ds *model.QueryDatasource = model.Wrap(orders())
	for range depth {
		ds = &model.QueryDatasource{
			OutputConcepts: ds.OutputConcepts,
			Grain:          ds.Grain,
			Datasources:    []model.Datasource{ds},
		}
	}

	start := time.Now()
	ctes, err := CompileCTEs(ds)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Len(t, ctes, depth+1)
	assert.Less(t, elapsed, 5*time.Second)
	for i := 1; i < len(ctes); i++ {
		require.Len(t, ctes[i].ParentCTEs, 1)
		assert.Same(t, ctes[i-1], ctes[i].ParentCTEs[0])
	}
	assert.Equal(t, ir.CTEName(ds.Identifier()), ctes[depth].Name)
}

// TestCompileCTEs_SourceChoiceIgnoresOrder tests that a shared key comes
// from the join anchor whatever order the source map lists it in.
func TestCompileCTEs_SourceChoiceIgnoresOrder(t *testing.T) {
	o, c := orders(), customers()
	build := func(sources ...model.Datasource) *model.QueryDatasource {
		return &model.QueryDatasource{
			OutputConcepts: model.UnionConcepts(o.Outputs(), c.Outputs()),
			SourceMap:      map[string][]model.Datasource{"local.customer_id": sources},
			Grain:          model.NewGrain(testutil.OrderID),
			Datasources:    []model.Datasource{o, c},
			Joins: []model.BaseJoin{{
				Left: o, Right: c, Concepts: []model.Concept{testutil.CustomerID}, JoinType: model.JoinLeftOuter,
			}},
		}
	}

	for _, ds := range []*model.QueryDatasource{build(o, c), build(c, o)} {
		ctes, err := CompileCTEs(ds)
		require.NoError(t, err)
		require.Len(t, ctes, 1)
		assert.Equal(t, "orders", ctes[0].SourceMap["local.customer_id"])
	}
}

// TestMergeCTEs_ConflictingSources tests that same-named CTEs disagreeing on
// a source merge to the same CTE in either order.
func TestMergeCTEs_ConflictingSources(t *testing.T) {
	o, c := orders(), customers()
	build := func(source model.Datasource) *CTE {
		ds := &model.QueryDatasource{
			OutputConcepts: []model.Concept{testutil.OrderID, testutil.CustomerID},
			SourceMap:      map[string][]model.Datasource{"local.customer_id": {source}},
			Grain:          model.NewGrain(testutil.OrderID),
			Datasources:    []model.Datasource{o, c},
			Joins: []model.BaseJoin{{
				Left: o, Right: c, Concepts: []model.Concept{testutil.CustomerID}, JoinType: model.JoinLeftOuter,
			}},
		}
		ctes, err := CompileCTEs(ds)
		require.NoError(t, err)
		require.Len(t, ctes, 1)
		return ctes[0]
	}
	fromOrders, fromCustomers := build(o), build(c)
	require.Equal(t, fromOrders.Name, fromCustomers.Name)
	require.Equal(t, "customers", fromCustomers.SourceMap["local.customer_id"])

	ab := MergeCTEs([]*CTE{fromOrders, fromCustomers})
	ba := MergeCTEs([]*CTE{build(c), build(o)})
	require.Len(t, ab, 1)
	require.Len(t, ba, 1)
	assert.Equal(t, "orders", ab[0].SourceMap["local.customer_id"])
	assert.Equal(t, ab[0].SourceMap, ba[0].SourceMap)
	assert.Equal(t, model.Addresses(ab[0].OutputColumns), model.Addresses(ba[0].OutputColumns))
}

// TestCompileCTEs_JoinTargetNotFound tests a join naming a non-child.
func TestCompileCTEs_JoinTargetNotFound(t *testing.T) {
	o, c := orders(), customers()
	ghost := testutil.Table("ghost", []model.Concept{testutil.CustomerID}, testutil.CustomerID)
	ds := &model.QueryDatasource{
		OutputConcepts: o.Outputs(),
		Grain:          model.NewGrain(testutil.OrderID),
		Datasources:    []model.Datasource{o, c},
		Joins: []model.BaseJoin{{
			Left: o, Right: ghost, Concepts: []model.Concept{testutil.CustomerID}, JoinType: model.JoinLeftOuter,
		}},
	}

	ctes, err := CompileCTEs(ds)
	require.Error(t, err)
	assert.Nil(t, ctes)
	assert.True(t, IsJoinTargetNotFound(err))

	var pe *PlanError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "ghost", pe.Details["missing"])
}

// TestCompileCTEs_GrainCorruption tests the post-construction assertion.
func TestCompileCTEs_GrainCorruption(t *testing.T) {
	o := orders()
	ds := &model.QueryDatasource{
		OutputConcepts: []model.Concept{testutil.Amount},
		Grain:          model.NewGrain(testutil.OrderID),
		Datasources:    []model.Datasource{o},
	}

	_, err := CompileCTEs(ds)
	require.Error(t, err)
	assert.True(t, IsGrainCorruption(err))
	assert.Contains(t, err.Error(), "expected Grain<local.order_id>, got Grain<abstract>")
}

// TestCompileCTEs_Nil tests the nil guard.
func TestCompileCTEs_Nil(t *testing.T) {
	_, err := CompileCTEs(nil)
	require.Error(t, err)
}

// TestMergeCTEs_Idempotent tests that compiling twice then merging equals
// compiling once.
func TestMergeCTEs_Idempotent(t *testing.T) {
	inner := model.Wrap(orders())
	ds := &model.QueryDatasource{
		OutputConcepts: inner.OutputConcepts,
		Grain:          inner.Grain,
		Datasources:    []model.Datasource{inner, customers()},
		Joins: []model.BaseJoin{{
			Left: inner, Right: customers(), Concepts: []model.Concept{testutil.CustomerID}, JoinType: model.JoinLeftOuter,
		}},
	}

	once, err := CompileCTEs(ds)
	require.NoError(t, err)
	twice, err := CompileCTEs(ds)
	require.NoError(t, err)

	merged := MergeCTEs(append(append([]*CTE{}, once...), twice...))
	assert.Equal(t, names(MergeCTEs(once)), names(merged))
	assert.Equal(t, names(once), names(merged))

	last := merged[len(merged)-1]
	require.Len(t, last.ParentCTEs, 1)
	assert.Same(t, merged[0], last.ParentCTEs[0], "parents point at surviving CTEs")
	assert.Same(t, merged[0], last.Joins[0].Left.CTE)
}

// TestMergeCTEs_UnionsColumns tests column union and input immutability.
func TestMergeCTEs_UnionsColumns(t *testing.T) {
	base := model.Wrap(orders())
	a := *base
	a.OutputConcepts = []model.Concept{testutil.OrderID}
	b := *base
	b.OutputConcepts = []model.Concept{testutil.OrderID, testutil.Amount}

	ca, err := CompileCTEs(&a)
	require.NoError(t, err)
	cb, err := CompileCTEs(&b)
	require.NoError(t, err)
	require.Equal(t, ca[0].Name, cb[0].Name)

	merged := MergeCTEs([]*CTE{ca[0], cb[0]})
	require.Len(t, merged, 1)
	assert.Equal(t, []string{"local.amount", "local.order_id"}, model.Addresses(merged[0].OutputColumns))
	assert.Len(t, ca[0].OutputColumns, 1, "inputs are not modified")
	assert.Equal(t, "orders", merged[0].SourceMap["local.amount"])
}

// TestCompileCTEs_GrainInvariantFuzz builds random datasource trees and
// checks that every compiled CTE sits at its source grain, or compilation
// fails with GRAIN_CORRUPTION.
func TestCompileCTEs_GrainInvariantFuzz(t *testing.T) {
	pool := []model.Concept{
		testutil.OrderID, testutil.CustomerID, testutil.LineItemID,
		testutil.ProductID, testutil.Region, testutil.Amount,
	}
	rng := rand.New(rand.NewSource(42))

	randomSubset := func(from []model.Concept) []model.Concept {
		var out []model.Concept
		for _, c := range from {
			if rng.Intn(2) == 0 {
				out = append(out, c)
			}
		}
		return out
	}

	tableN := 0
	var build func(depth int) model.Datasource
	build = func(depth int) model.Datasource {
		if depth == 0 || rng.Intn(3) == 0 {
			tableN++
			cols := randomSubset(pool)
			if len(cols) == 0 {
				cols = pool[:1]
			}
			grain := cols[:1+rng.Intn(len(cols))]
			return testutil.Table(fmt.Sprintf("t%d", tableN), grain, cols...)
		}

		n := 1 + rng.Intn(3)
		var children []model.Datasource
		var available []model.Concept
		for range n {
			child := build(depth - 1)
			children = append(children, child)
			available = model.UnionConcepts(available, child.Outputs())
		}
		var joins []model.BaseJoin
		for i := 1; i < len(children); i++ {
			joins = append(joins, model.BaseJoin{
				Left: children[0], Right: children[i], JoinType: model.JoinLeftOuter,
			})
		}

		outputs := randomSubset(available)
		grainFrom := available
		if rng.Intn(2) == 0 {
			grainFrom = outputs
		}
		grain := model.NewGrain(randomSubset(grainFrom)...)
		return &model.QueryDatasource{
			OutputConcepts: outputs,
			Grain:          grain,
			Datasources:    children,
			Joins:          joins,
			GroupRequired:  rng.Intn(2) == 0,
		}
	}

	ok, corrupt := 0, 0
	for i := 0; i < 300; i++ {
		root, isQuery := build(3).(*model.QueryDatasource)
		if !isQuery {
			continue
		}
		ctes, err := CompileCTEs(root)
		if err != nil {
			require.Truef(t, IsGrainCorruption(err), "iteration %d: unexpected error %v", i, err)
			corrupt++
			continue
		}
		ok++
		for _, cte := range ctes {
			assert.Truef(t, cte.Grain.Equal(cte.Source.Grain), "iteration %d: %s", i, cte.Name)
		}
	}
	assert.Positive(t, ok, "fuzz should produce valid trees")
	assert.Positive(t, corrupt, "fuzz should exercise the corruption check")
}
