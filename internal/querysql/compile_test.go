package querysql

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/planner"
	"github.com/roach88/grainplan/internal/queryir"
	"github.com/roach88/grainplan/internal/testutil"
)

func plan(t *testing.T, env *model.Environment, stmt model.Select) *planner.ProcessedQuery {
	t.Helper()
	p := planner.New(planner.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Traces: testutil.NewFixedTraceGenerator("trace-sql"),

		ResolveFilterConcepts: true,
	})
	pq, err := p.ProcessQuery(env, stmt)
	require.NoError(t, err)
	return pq
}

// shopDB creates the ShopEnv tables in an in-memory SQLite database and
// loads a few rows.
func shopDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE orders (order_id INTEGER, customer_id INTEGER, amount INTEGER)`,
		`CREATE TABLE line_items (order_id INTEGER, line_item_id INTEGER, product_id INTEGER, quantity INTEGER, total_amount INTEGER)`,
		`CREATE TABLE customers (customer_id INTEGER, customer_name TEXT, region TEXT)`,
		`CREATE TABLE products (product_id INTEGER, product_name TEXT)`,
		`INSERT INTO orders VALUES (1, 10, 100), (2, 20, 200), (3, 10, 300)`,
		`INSERT INTO line_items VALUES (1, 1, 7, 2, 40), (1, 2, 8, 1, 60), (2, 3, 7, 5, 200), (3, 4, 8, 3, 300)`,
		`INSERT INTO customers VALUES (10, 'ada', 'EU'), (20, 'bob', 'US')`,
		`INSERT INTO products VALUES (7, 'widget'), (8, 'gadget')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return db
}

func queryRows(t *testing.T, db *sql.DB, query string, args []any) [][]any {
	t.Helper()
	rows, err := db.Query(query, args...)
	require.NoError(t, err, query)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	require.NoError(t, rows.Err())
	return out
}

// TestCompile_PassThroughSQL tests the exact SQL for a single-CTE plan.
func TestCompile_PassThroughSQL(t *testing.T) {
	env := testutil.ShopEnv(t)
	limit := 10
	pq := plan(t, env, model.Select{
		Selection: []model.Concept{testutil.CustomerName, testutil.Region},
		Grain:     model.NewGrain(testutil.CustomerID),
		Where:     queryir.Equals("local.region", ir.String("EU")),
		Limit:     &limit,
	})
	require.Len(t, pq.CTEs, 1)

	query, args, err := Render(pq)
	require.NoError(t, err)

	name := pq.Base.Name
	want := fmt.Sprintf(`WITH "%[1]s" AS (SELECT "customers"."customer_id" AS "local_customer_id", `+
		`"customers"."customer_name" AS "local_customer_name", "customers"."region" AS "local_region" `+
		`FROM "customers" AS "customers") `+
		`SELECT "%[1]s"."local_customer_name" AS "customer_name", "%[1]s"."local_region" AS "region" `+
		`FROM "%[1]s" WHERE "%[1]s"."local_region" = ? LIMIT 10`, name)
	assert.Equal(t, want, query)
	assert.Equal(t, []any{"EU"}, args)
}

// TestCompile_NoStringInterpolation tests that literals are always bound.
func TestCompile_NoStringInterpolation(t *testing.T) {
	env := testutil.ShopEnv(t)
	hostile := "x'; DROP TABLE customers; --"
	pq := plan(t, env, model.Select{
		Selection: []model.Concept{testutil.CustomerName},
		Grain:     model.NewGrain(testutil.CustomerID),
		Where:     queryir.Equals("local.customer_name", ir.String(hostile)),
	})

	query, args, err := Render(pq)
	require.NoError(t, err)
	assert.NotContains(t, query, "DROP TABLE")
	assert.Equal(t, []any{hostile}, args)

	db := shopDB(t)
	assert.Empty(t, queryRows(t, db, query, args))
	assert.Len(t, queryRows(t, db, `SELECT * FROM customers`, nil), 2)
}

// TestCompile_GroupedMetric tests GROUP BY with the metric's aggregate.
func TestCompile_GroupedMetric(t *testing.T) {
	env := testutil.ShopEnv(t)
	pq := plan(t, env, model.Select{
		Selection: []model.Concept{testutil.OrderID, testutil.TotalAmount},
		Grain:     model.NewGrain(testutil.OrderID),
		OrderBy:   []model.OrderItem{{Concept: testutil.OrderID}},
	})

	query, args, err := Render(pq)
	require.NoError(t, err)
	assert.Contains(t, query, `SUM("line_items"."total_amount")`)
	assert.Contains(t, query, `GROUP BY "line_items"."order_id"`)
	assert.Contains(t, query, "LEFT JOIN")
	assert.Contains(t, query, "ORDER BY")

	rows := queryRows(t, shopDB(t), query, args)
	assert.Equal(t, [][]any{
		{int64(1), int64(100)},
		{int64(2), int64(200)},
		{int64(3), int64(300)},
	}, rows)
}

// TestCompile_PropertyThroughJoin tests filtering on a property owned by a
// joined table.
func TestCompile_PropertyThroughJoin(t *testing.T) {
	env := testutil.ShopEnv(t)
	pq := plan(t, env, model.Select{
		Selection: []model.Concept{testutil.OrderID, testutil.Amount},
		Grain:     model.NewGrain(testutil.OrderID),
		Where:     queryir.Equals("local.region", ir.String("EU")),
		OrderBy:   []model.OrderItem{{Concept: testutil.OrderID, Descending: true}},
	})

	query, args, err := Render(pq)
	require.NoError(t, err)
	assert.Equal(t, []any{"EU"}, args)

	rows := queryRows(t, shopDB(t), query, args)
	assert.Equal(t, [][]any{
		{int64(3), int64(300)},
		{int64(1), int64(100)},
	}, rows)
}

// TestCompile_Predicates tests each predicate form against SQLite.
func TestCompile_Predicates(t *testing.T) {
	tests := []struct {
		name  string
		where queryir.Predicate
		want  []int64
	}{
		{"eq", queryir.Equals("local.order_id", ir.Int(2)), []int64{2}},
		{"neq", queryir.Comparison{Concept: "local.order_id", Op: queryir.OpNeq, Value: ir.Int(2)}, []int64{1, 3}},
		{"lt", queryir.Comparison{Concept: "local.amount", Op: queryir.OpLt, Value: ir.Int(200)}, []int64{1}},
		{"lte", queryir.Comparison{Concept: "local.amount", Op: queryir.OpLte, Value: ir.Int(200)}, []int64{1, 2}},
		{"gt", queryir.Comparison{Concept: "local.amount", Op: queryir.OpGt, Value: ir.Int(200)}, []int64{3}},
		{"gte", queryir.Comparison{Concept: "local.amount", Op: queryir.OpGte, Value: ir.Int(200)}, []int64{2, 3}},
		{"in", queryir.In{Concept: "local.order_id", Values: ir.List{ir.Int(1), ir.Int(3)}}, []int64{1, 3}},
		{"empty in", queryir.In{Concept: "local.order_id", Values: ir.List{}}, nil},
		{"is null", queryir.IsNull{Concept: "local.amount"}, nil},
		{"is not null", queryir.IsNull{Concept: "local.amount", Negated: true}, []int64{1, 2, 3}},
		{"and", queryir.And{Predicates: []queryir.Predicate{
			queryir.Comparison{Concept: "local.amount", Op: queryir.OpGt, Value: ir.Int(100)},
			queryir.Comparison{Concept: "local.order_id", Op: queryir.OpLt, Value: ir.Int(3)},
		}}, []int64{2}},
		{"empty and", queryir.And{}, []int64{1, 2, 3}},
		{"or", queryir.Or{Predicates: []queryir.Predicate{
			queryir.Equals("local.order_id", ir.Int(1)),
			queryir.Equals("local.order_id", ir.Int(3)),
		}}, []int64{1, 3}},
		{"empty or", queryir.Or{}, nil},
		{"not", queryir.Not{Predicate: queryir.Equals("local.order_id", ir.Int(1))}, []int64{2, 3}},
		{"pointer", &queryir.Comparison{Concept: "local.order_id", Op: queryir.OpEq, Value: ir.Int(1)}, []int64{1}},
	}

	env := testutil.ShopEnv(t)
	db := shopDB(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pq := plan(t, env, model.Select{
				Selection: []model.Concept{testutil.OrderID, testutil.Amount},
				Grain:     model.NewGrain(testutil.OrderID),
				Where:     tt.where,
				OrderBy:   []model.OrderItem{{Concept: testutil.OrderID}},
			})
			query, args, err := Render(pq)
			require.NoError(t, err)

			var got []int64
			for _, row := range queryRows(t, db, query, args) {
				got = append(got, row[0].(int64))
			}
			assert.Equal(t, tt.want, got, query)
		})
	}
}

// TestCompile_UnsupportedValues tests literals that cannot be bound.
func TestCompile_UnsupportedValues(t *testing.T) {
	env := testutil.ShopEnv(t)
	pq := plan(t, env, model.Select{
		Selection: []model.Concept{testutil.OrderID},
		Grain:     model.NewGrain(testutil.OrderID),
		Where:     queryir.Equals("local.order_id", ir.List{ir.Int(1)}),
	})

	_, _, err := Render(pq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list cannot be bound")
}

// TestCompile_UnavailableConcept tests a where clause naming a concept the
// plan never resolved.
func TestCompile_UnavailableConcept(t *testing.T) {
	env := testutil.ShopEnv(t)
	pq := plan(t, env, model.Select{
		Selection: []model.Concept{testutil.OrderID},
		Grain:     model.NewGrain(testutil.OrderID),
		Where:     queryir.Equals("local.nowhere", ir.Int(1)),
	})

	_, _, err := Render(pq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local.nowhere is not available")
}

// TestCompile_GroupNonMetric tests that a grouped CTE refuses to output a
// property outside its grain.
func TestCompile_GroupNonMetric(t *testing.T) {
	items := testutil.Table("line_items", []model.Concept{testutil.OrderID, testutil.LineItemID},
		testutil.OrderID, testutil.LineItemID, testutil.ProductName)
	ds := model.Group(items, model.NewGrain(testutil.OrderID))
	ds.OutputConcepts = append(ds.OutputConcepts, testutil.ProductName)

	ctes, err := planner.CompileCTEs(ds)
	require.NoError(t, err)
	pq := &planner.ProcessedQuery{
		OutputColumns: []model.Concept{testutil.OrderID},
		Grain:         ds.Grain,
		Base:          ctes[len(ctes)-1],
		CTEs:          ctes,
	}

	_, _, err = Render(pq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot group local.product_name")
}

// TestCompile_Aggregates tests the SQL for each aggregate function.
func TestCompile_Aggregates(t *testing.T) {
	tests := []struct {
		agg  model.Aggregate
		want string
	}{
		{model.AggSum, `SUM("t"."m")`},
		{model.AggCount, `COUNT("t"."m")`},
		{model.AggCountDistinct, `COUNT(DISTINCT "t"."m")`},
		{model.AggAvg, `AVG("t"."m")`},
		{model.AggMin, `MIN("t"."m")`},
		{model.AggMax, `MAX("t"."m")`},
		{"", `SUM("t"."m")`},
	}
	for _, tt := range tests {
		t.Run(string(tt.agg), func(t *testing.T) {
			assert.Equal(t, tt.want, aggregateSQL(tt.agg, `"t"."m"`))
		})
	}
}

// TestCompile_Deterministic tests that rendering the same plan twice
// yields identical SQL.
func TestCompile_Deterministic(t *testing.T) {
	env := testutil.ShopEnv(t)
	stmt := model.Select{
		Selection: []model.Concept{testutil.OrderID, testutil.Region, testutil.TotalAmount},
		Grain:     model.NewGrain(testutil.OrderID),
	}

	first, firstArgs, err := Render(plan(t, env, stmt))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		query, args, err := Render(plan(t, env, stmt))
		require.NoError(t, err)
		assert.Equal(t, first, query)
		assert.Equal(t, firstArgs, args)
	}
}

// TestCompile_NilPlan tests the guard clauses.
func TestCompile_NilPlan(t *testing.T) {
	_, _, err := Render(nil)
	require.Error(t, err)

	_, _, err = Render(&planner.ProcessedQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no base CTE")
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"plain"`, quoteIdent("plain"))
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
	assert.Equal(t, "local_order_id", ColumnAlias("local.order_id"))
}
