package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/testutil"
)

// createTestStore creates a new in-memory store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// shopStore creates the ShopEnv tables with a few rows.
func shopStore(t *testing.T) (*Store, *model.Environment) {
	t.Helper()
	s := createTestStore(t)
	env := testutil.ShopEnv(t)
	ctx := context.Background()

	if err := s.CreateTables(ctx, env); err != nil {
		t.Fatalf("CreateTables() failed: %v", err)
	}
	err := s.Seed(ctx, env, map[string][]map[string]any{
		"orders": {
			{"order_id": 1, "customer_id": 10, "amount": 100},
			{"order_id": 2, "customer_id": 20, "amount": 200},
		},
		"customers": {
			{"customer_id": 10, "local.customer_name": "ada", "region": "EU"},
			{"customer_id": 20, "customer_name": "bob", "region": nil},
		},
	})
	if err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}
	return s, env
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", "plan_runs").Scan(&name)
	if err != nil {
		t.Errorf("plan_runs not found after idempotent opens: %v", err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("DROP INDEX idx_plan_runs_fingerprint"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", "idx_plan_runs_fingerprint").Scan(&name)
	if err != nil {
		t.Errorf("index not restored by migration: %v", err)
	}
}

func TestCreateTables(t *testing.T) {
	s := createTestStore(t)
	env := model.NewEnvironment()
	id := testutil.Key("id")
	id.DataType = "int"
	name := testutil.Property("name")
	name.DataType = "string"
	ds := &model.BaseDatasource{
		Name:    "people",
		Table:   "raw people",
		Columns: []model.Column{{Name: "person id", Concept: id}, {Name: "name", Concept: name}},
		Grain:   model.NewGrain(id),
	}
	if err := env.AddDatasource(ds); err != nil {
		t.Fatalf("AddDatasource() failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.CreateTables(ctx, env); err != nil {
			t.Fatalf("CreateTables() call %d failed: %v", i, err)
		}
	}

	var ddl string
	if err := s.db.QueryRow("SELECT sql FROM sqlite_master WHERE name = ?", "raw people").Scan(&ddl); err != nil {
		t.Fatalf("table not created: %v", err)
	}
	if !strings.Contains(ddl, `"person id" INTEGER`) || !strings.Contains(ddl, `"name" TEXT`) {
		t.Errorf("unexpected DDL: %s", ddl)
	}
}

func TestSeed_ConceptAndColumnKeys(t *testing.T) {
	s, _ := shopStore(t)

	res, err := s.Query(context.Background(),
		`SELECT customer_id, customer_name, region FROM customers ORDER BY customer_id`)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}

	maps := res.Maps()
	if maps[0]["customer_name"] != "ada" || maps[0]["region"] != "EU" {
		t.Errorf("row 0 = %v", maps[0])
	}
	if maps[1]["region"] != nil {
		t.Errorf("row 1 region = %v, want nil", maps[1]["region"])
	}
	if maps[1]["customer_id"] != int64(20) {
		t.Errorf("row 1 customer_id = %#v, want int64(20)", maps[1]["customer_id"])
	}
}

func TestSeed_Errors(t *testing.T) {
	tests := []struct {
		name string
		rows map[string][]map[string]any
		want string
	}{
		{"unknown datasource", map[string][]map[string]any{"nope": {{"a": 1}}}, `unknown datasource "nope"`},
		{"unknown key", map[string][]map[string]any{"orders": {{"bogus": 1}}}, `no column or concept "bogus"`},
		{"float", map[string][]map[string]any{"orders": {{"amount": 1.5}}}, "fractional"},
		{"empty row", map[string][]map[string]any{"orders": {{}}}, "empty row"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, env := shopStore(t)
			err := s.Seed(context.Background(), env, tt.rows)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Seed() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestQuery_Args(t *testing.T) {
	s, _ := shopStore(t)

	res, err := s.Query(context.Background(), `SELECT order_id FROM orders WHERE amount > ?`, 150)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != int64(2) {
		t.Errorf("rows = %v, want [[2]]", res.Rows)
	}
	if len(res.Columns) != 1 || res.Columns[0] != "order_id" {
		t.Errorf("columns = %v", res.Columns)
	}
}

func TestQuery_Error(t *testing.T) {
	s := createTestStore(t)
	if _, err := s.Query(context.Background(), `SELECT * FROM missing`); err == nil {
		t.Error("expected error for missing table")
	}
}

func TestRuns_RecordAndList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs := []Run{
		{TraceID: "t1", QueryName: "a", Fingerprint: "fp1", SQL: "SELECT 1", RowCount: 1},
		{TraceID: "t2", QueryName: "b", Fingerprint: "fp2", SQL: "SELECT 2", ArgCount: 2},
		{TraceID: "t3", QueryName: "a", Fingerprint: "fp1", SQL: "SELECT 1", RowCount: 1},
	}
	for i, r := range runs {
		seq, err := s.RecordRun(ctx, r)
		if err != nil {
			t.Fatalf("RecordRun(%d) failed: %v", i, err)
		}
		if seq != int64(i+1) {
			t.Errorf("RecordRun(%d) seq = %d, want %d", i, seq, i+1)
		}
	}

	all, err := s.Runs(ctx, "")
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d runs, want 3", len(all))
	}
	for i, r := range all {
		if r.Seq != int64(i+1) {
			t.Errorf("run %d seq = %d, want ascending", i, r.Seq)
		}
	}
	if all[1].ArgCount != 2 || all[1].TraceID != "t2" {
		t.Errorf("run 1 = %+v", all[1])
	}

	fp1, err := s.Runs(ctx, "fp1")
	if err != nil {
		t.Fatalf("Runs(fp1) failed: %v", err)
	}
	if len(fp1) != 2 || fp1[0].TraceID != "t1" || fp1[1].TraceID != "t3" {
		t.Errorf("Runs(fp1) = %+v", fp1)
	}
}
