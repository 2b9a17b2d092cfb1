package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderText(t *testing.T) {
	out, _, err := execute(t, "text", NewRenderCommand, shopCatalogDir, "big_orders")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "WITH "), "got %q", out)
	assert.Contains(t, out, "LIMIT 5")
	sql, args, found := strings.Cut(out, "-- args: ")
	require.True(t, found, "got %q", out)
	assert.NotContains(t, sql, ">= 200", "literals must be bound, not interpolated")
	assert.Equal(t, "[200 3]\n", args)
}

func TestRenderJSON(t *testing.T) {
	out, _, err := execute(t, "json", NewRenderCommand, shopCatalogDir, "eu_orders")
	require.NoError(t, err)

	var resp struct {
		Status  string       `json:"status"`
		TraceID string       `json:"trace_id"`
		Data    RenderResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "trace-cli", resp.TraceID)
	assert.Equal(t, "eu_orders", resp.Data.Query)
	assert.Equal(t, []any{"EU"}, resp.Data.Args)
	assert.Contains(t, resp.Data.SQL, "ORDER BY")
}

func TestRenderNoArgs(t *testing.T) {
	out, _, err := execute(t, "json", NewRenderCommand, shopCatalogDir, "customer_regions")
	require.NoError(t, err)

	var resp struct {
		Data RenderResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotNil(t, resp.Data.Args)
	assert.Empty(t, resp.Data.Args)
}

func TestRenderMissingArgs(t *testing.T) {
	_, _, err := execute(t, "text", NewRenderCommand, shopCatalogDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg")
}

// TestRenderDeterministic verifies that two renders of the same query are
// byte-identical.
func TestRenderDeterministic(t *testing.T) {
	first, _, err := execute(t, "text", NewRenderCommand, shopCatalogDir, "order_totals")
	require.NoError(t, err)
	second, _, err := execute(t, "text", NewRenderCommand, shopCatalogDir, "order_totals")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
