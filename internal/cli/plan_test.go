package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSingleQuery(t *testing.T) {
	out, _, err := execute(t, "text", NewPlanCommand, shopCatalogDir, "order_totals")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Planned 1 query(s)")
	assert.Contains(t, out, "order_totals (fingerprint ")
	assert.Contains(t, out, "grain: Grain<local.order_id>")
	assert.Contains(t, out, "(base)")
}

func TestPlanAllQueriesJSON(t *testing.T) {
	out, _, err := execute(t, "json", NewPlanCommand, shopCatalogDir)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			Query       string         `json:"query"`
			TraceID     string         `json:"trace_id"`
			Fingerprint string         `json:"fingerprint"`
			Plan        map[string]any `json:"plan"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 4)

	names := make([]string, len(resp.Data))
	for i, qp := range resp.Data {
		names[i] = qp.Query
		assert.Equal(t, "trace-cli", qp.TraceID)
		assert.NotEmpty(t, qp.Fingerprint)
		assert.Contains(t, qp.Plan, "ctes")
		assert.Contains(t, qp.Plan, "base")
	}
	assert.Equal(t, []string{"big_orders", "customer_regions", "eu_orders", "order_totals"}, names)
}

func TestPlanOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")

	out, _, err := execute(t, "text", NewPlanCommand, shopCatalogDir, "customer_regions", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote canonical plans to "+path)

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(first, &decoded))
	require.Contains(t, decoded, "customer_regions")
	assert.Contains(t, decoded["customer_regions"], "fingerprint")

	// Trace ids are excluded, so a second run writes identical bytes
	_, _, err = execute(t, "text", NewPlanCommand, shopCatalogDir, "customer_regions", "-o", path)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlanUnknownQuery(t *testing.T) {
	out, _, err := execute(t, "text", NewPlanCommand, shopCatalogDir, "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeQueryNotFound)
	assert.Contains(t, out, `query "nope" not found`)
}

func TestPlanNoDatasourceError(t *testing.T) {
	dir := writeCatalog(t, `
concept: id: {purpose: "key", type: "int"}
concept: orphan: {purpose: "property", type: "string"}
datasource: t: {
	grain: ["id"]
	columns: {id: "id"}
}
query: lost: {select: ["orphan"], grain: ["id"]}
`)

	out, _, err := execute(t, "json", NewPlanCommand, dir, "lost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NO_DATASOURCE_FOR_CONCEPT", resp.Error.Code)
}

func TestPlanLoadErrors(t *testing.T) {
	dir := writeCatalog(t, `concept: id: {purpose: "gauge"}`)

	out, _, err := execute(t, "json", NewPlanCommand, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   []CLIError `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotEmpty(t, resp.Data)
	assert.Equal(t, "E101", resp.Error.Code)
}
