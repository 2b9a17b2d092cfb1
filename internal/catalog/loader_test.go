package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/queryir"
)

func shopDir() string {
	return filepath.Join("..", "..", "testdata", "catalog", "shop")
}

func TestLoad_ShopCatalog(t *testing.T) {
	cat, errs := Load(shopDir(), LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, cat)

	assert.Equal(t, 1, cat.FileCount)
	assert.Len(t, cat.Env.Concepts(), 10)
	assert.Len(t, cat.Env.Datasources(), 4)
	assert.Equal(t, []string{"big_orders", "customer_regions", "eu_orders", "order_totals"}, cat.QueryNames())

	products, ok := cat.Env.Datasource("products")
	require.True(t, ok)
	assert.Equal(t, "product_catalog", products.TableName())
	col, ok := products.ColumnFor("local.product_name")
	require.True(t, ok)
	assert.Equal(t, "name", col)

	items, ok := cat.Env.Datasource("line_items")
	require.True(t, ok)
	assert.Equal(t, []string{"local.line_item_id", "local.order_id"}, items.Grain.Addresses())

	amount, ok := cat.Env.Concept("amount")
	require.True(t, ok)
	assert.Equal(t, model.PurposeMetric, amount.Purpose)
	assert.Equal(t, model.AggSum, amount.Aggregate)
	assert.Equal(t, "int", amount.DataType)
}

func TestLoad_Queries(t *testing.T) {
	cat, errs := Load(shopDir(), LoadModeFailFast)
	require.Empty(t, errs)

	eu, ok := cat.Query("eu_orders")
	require.True(t, ok)
	assert.Equal(t, []string{"local.order_id", "local.amount"}, model.Addresses(eu.Selection))
	assert.Equal(t, queryir.Equals("local.region", ir.String("EU")), eu.Where)
	require.Len(t, eu.OrderBy, 1)
	assert.True(t, eu.OrderBy[0].Descending)
	assert.Nil(t, eu.Limit)

	big, ok := cat.Query("big_orders")
	require.True(t, ok)
	assert.Equal(t, []string{"local.order_id"}, big.Grain.Addresses(), "grain defaults to the selected keys")
	require.NotNil(t, big.Limit)
	assert.Equal(t, 5, *big.Limit)
	assert.Equal(t, queryir.And{Predicates: []queryir.Predicate{
		queryir.Comparison{Concept: "local.amount", Op: queryir.OpGte, Value: ir.Int(200)},
		queryir.Not{Predicate: queryir.In{Concept: "local.order_id", Values: ir.List{ir.Int(3)}}},
	}}, big.Where)

	regions, ok := cat.Query("customer_regions")
	require.True(t, ok)
	require.Len(t, regions.OrderBy, 1)
	assert.False(t, regions.OrderBy[0].Descending)
}

func TestLoad_NonExistentDirectory(t *testing.T) {
	_, errs := Load("/nonexistent/catalog", LoadModeFailFast)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoad_NoFiles(t *testing.T) {
	_, errs := Load(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestLoad_BuildError(t *testing.T) {
	dir := t.TempDir()
	src := `package bad

concept: a: {purpose: "key"}
concept: a: {purpose: "metric"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(src), 0644))

	_, errs := Load(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeBuildFailed, loadErr.Code)
}

func TestLoadString_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
		msg  string
	}{
		{
			name: "missing purpose",
			src:  `concept: a: {type: "int"}`,
			code: ErrCodeConceptPurpose,
			msg:  "purpose is required",
		},
		{
			name: "invalid purpose",
			src:  `concept: a: {purpose: "dimension"}`,
			code: ErrCodeConceptPurpose,
			msg:  "invalid purpose",
		},
		{
			name: "aggregate on key",
			src:  `concept: a: {purpose: "key", aggregate: "sum"}`,
			code: ErrCodeConceptAggregate,
			msg:  "only allowed on metrics",
		},
		{
			name: "invalid aggregate",
			src:  `concept: a: {purpose: "metric", aggregate: "median"}`,
			code: ErrCodeConceptAggregate,
			msg:  "invalid aggregate",
		},
		{
			name: "unknown column concept",
			src: `concept: a: {purpose: "key"}
datasource: t: {grain: ["a"], columns: {a: "a", b: "missing"}}`,
			code: ErrCodeUnknownConcept,
			msg:  `unknown concept "missing"`,
		},
		{
			name: "grain not a column",
			src: `concept: a: {purpose: "key"}
concept: b: {purpose: "key"}
datasource: t: {grain: ["b"], columns: {a: "a"}}`,
			code: ErrCodeGrainColumn,
			msg:  "grain component local.b is not a column of t",
		},
		{
			name: "no columns",
			src: `concept: a: {purpose: "key"}
datasource: t: {grain: []}`,
			code: ErrCodeNoColumns,
			msg:  "at least one column",
		},
		{
			name: "empty select",
			src: `concept: a: {purpose: "key"}
datasource: t: {grain: ["a"], columns: {a: "a"}}
query: q: {select: []}`,
			code: ErrCodeInvalidSelect,
			msg:  "at least one concept",
		},
		{
			name: "float literal",
			src: `concept: a: {purpose: "key"}
datasource: t: {grain: ["a"], columns: {a: "a"}}
query: q: {select: ["a"], where: {concept: "a", value: 1.5}}`,
			code: ErrCodeInvalidType,
			msg:  "float literals are not supported",
		},
		{
			name: "unknown operator",
			src: `concept: a: {purpose: "key"}
datasource: t: {grain: ["a"], columns: {a: "a"}}
query: q: {select: ["a"], where: {concept: "a", op: "~", value: 1}}`,
			code: ErrCodeInvalidWhere,
			msg:  `unknown operator "~"`,
		},
		{
			name: "negative limit",
			src: `concept: a: {purpose: "key"}
datasource: t: {grain: ["a"], columns: {a: "a"}}
query: q: {select: ["a"], limit: -1}`,
			code: ErrCodeInvalidLimit,
			msg:  "non-negative",
		},
		{
			name: "no datasources",
			src:  `concept: a: {purpose: "key"}`,
			code: ErrCodeGeneric,
			msg:  "no datasources",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := LoadString(tt.src, LoadModeFailFast)
			require.NotEmpty(t, errs)

			var loadErr *LoadError
			require.True(t, errors.As(errs[0], &loadErr), "got %T: %v", errs[0], errs[0])
			assert.Equal(t, tt.code, loadErr.Code)
			assert.Contains(t, loadErr.Message, tt.msg)
		})
	}
}

func TestLoadString_Namespace(t *testing.T) {
	src := `concept: id: {purpose: "key", namespace: "crm"}
concept: id_local: {purpose: "key"}
datasource: accounts: {grain: ["crm.id"], columns: {account_id: "crm.id"}}
query: q: {select: ["crm.id"]}
`
	cat, errs := LoadString(src, LoadModeFailFast)
	require.Empty(t, errs)

	c, ok := cat.Env.Concept("crm.id")
	require.True(t, ok)
	assert.Equal(t, "crm", c.Namespace)

	q, ok := cat.Query("q")
	require.True(t, ok)
	assert.Equal(t, []string{"crm.id"}, q.Grain.Addresses())
}

func TestLoadString_CollectAll(t *testing.T) {
	src := `concept: a: {purpose: "key"}
concept: b: {type: "int"}
concept: c: {purpose: "nope"}
datasource: t: {grain: ["a"], columns: {a: "a"}}
`
	_, errs := LoadString(src, LoadModeCollectAll)
	assert.Len(t, errs, 2)

	_, errs = LoadString(src, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadString_PortabilityWarnings(t *testing.T) {
	src := `concept: a: {purpose: "key"}
datasource: t: {grain: ["a"], columns: {a: "a"}}
query: q: {select: ["a"], where: {concept: "a", value: null}}
`
	cat, errs := LoadString(src, LoadModeFailFast)
	require.Empty(t, errs)
	require.NotEmpty(t, cat.Warnings)
	assert.Contains(t, cat.Warnings[0], "query.q")
}

func TestLoadString_SyntaxError(t *testing.T) {
	_, errs := LoadString(`concept: {`, LoadModeFailFast)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeBuildFailed, loadErr.Code)
}

func TestLoadErrorFormat(t *testing.T) {
	err := &LoadError{Code: ErrCodeNotFound, Message: "missing"}
	assert.Equal(t, "E005: missing", err.Error())
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeConceptPurpose, MapFieldToErrorCode("purpose"))
	assert.Equal(t, ErrCodeUnknownConcept, MapFieldToErrorCode("concept"))
	assert.Equal(t, ErrCodeInvalidWhere, MapFieldToErrorCode("where"))
	assert.Equal(t, ErrCodeGeneric, MapFieldToErrorCode("unknown"))
}
