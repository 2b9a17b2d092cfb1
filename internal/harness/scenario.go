package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a planning scenario.
// A scenario plans one named query against a catalog, executes the rendered
// SQL in a seeded sandbox and asserts on both the plan and the rows.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is a directory of CUE catalog files.
	// Relative paths are resolved against the scenario file location.
	Catalog string `yaml:"catalog,omitempty"`

	// CatalogSource is an inline CUE catalog. Exactly one of Catalog and
	// CatalogSource must be set.
	CatalogSource string `yaml:"catalog_source,omitempty"`

	// Query names the catalog query to plan.
	Query string `yaml:"query"`

	// Seed is a YAML file of sandbox rows keyed by datasource name.
	// Relative paths are resolved against the scenario file location.
	Seed string `yaml:"seed,omitempty"`

	// Rows are inline sandbox rows, applied after Seed.
	// Row keys are physical column names or concept references.
	Rows map[string][]map[string]any `yaml:"rows,omitempty"`

	// TraceID is an optional fixed trace id for deterministic tests.
	// If empty, defaults to "test-trace-default".
	TraceID string `yaml:"trace_id,omitempty"`

	// Assertions validate the plan and the executed rows.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one property of a planned and executed query.
type Assertion struct {
	// Type specifies the assertion type:
	// - "base_grain": the base CTE has exactly Grain
	// - "cte_count": the plan has exactly Count CTEs
	// - "join_count": the final select has exactly Count joins
	// - "rows": the executed query returned Rows
	// - "error": planning failed with Code (and Text, if set)
	// - "sql_contains": the rendered SQL contains Text
	// - "stages": the planner fired hook stages in exactly this order
	Type string `yaml:"type"`

	// Grain lists concept references (used by base_grain).
	Grain []string `yaml:"grain,omitempty"`

	// Count is the expected number (used by cte_count and join_count).
	Count int `yaml:"count,omitempty"`

	// Rows are the expected result rows (used by rows).
	Rows [][]any `yaml:"rows,omitempty"`

	// Ordered requires rows in exactly the given order (used by rows).
	// Otherwise rows are compared as a multiset.
	Ordered bool `yaml:"ordered,omitempty"`

	// Code is the expected plan error code (used by error).
	Code string `yaml:"code,omitempty"`

	// Text is a substring (used by error and sql_contains).
	Text string `yaml:"text,omitempty"`

	// Stages is the expected hook stage sequence (used by stages).
	Stages []string `yaml:"stages,omitempty"`
}

// Assertion type constants.
const (
	AssertBaseGrain   = "base_grain"
	AssertCTECount    = "cte_count"
	AssertJoinCount   = "join_count"
	AssertRows        = "rows"
	AssertError       = "error"
	AssertSQLContains = "sql_contains"
	AssertStages      = "stages"
)

// LoadScenario reads and parses a scenario YAML file.
// Relative catalog and seed paths are resolved against the directory
// containing the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving catalog and seed paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve paths BEFORE validation
	scenario.Catalog = resolvePath(scenario.Catalog, basePath)
	scenario.Seed = resolvePath(scenario.Seed, basePath)

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return scenario, nil
}

// ParseScenario decodes scenario YAML without validating file paths.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

func resolvePath(p, basePath string) string {
	if p == "" || filepath.IsAbs(p) || basePath == "" {
		return p
	}
	return filepath.Join(basePath, p)
}

// LoadSeed reads sandbox rows keyed by datasource name.
func LoadSeed(path string) (map[string][]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var rows map[string][]map[string]any
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}
	return rows, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Catalog == "" && s.CatalogSource == "":
		return fmt.Errorf("one of catalog or catalog_source is required")
	case s.Catalog != "" && s.CatalogSource != "":
		return fmt.Errorf("catalog and catalog_source are mutually exclusive")
	}

	if s.Query == "" {
		return fmt.Errorf("query is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Catalog != "" {
		if info, err := os.Stat(s.Catalog); err != nil || !info.IsDir() {
			return fmt.Errorf("catalog directory not found: %s", s.Catalog)
		}
	}

	if s.Seed != "" {
		if _, err := os.Stat(s.Seed); os.IsNotExist(err) {
			return fmt.Errorf("seed file not found: %s", s.Seed)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertBaseGrain:
		if len(a.Grain) == 0 {
			return fmt.Errorf("assertions[%d]: grain is required for base_grain", index)
		}
	case AssertCTECount, AssertJoinCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertRows:
		if a.Rows == nil {
			return fmt.Errorf("assertions[%d]: rows is required for rows (use [] for no rows)", index)
		}
	case AssertError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error", index)
		}
	case AssertSQLContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for sql_contains", index)
		}
	case AssertStages:
		if len(a.Stages) == 0 {
			return fmt.Errorf("assertions[%d]: stages list is required for stages", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
