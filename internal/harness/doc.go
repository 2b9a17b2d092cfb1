// Package harness runs planning scenarios end to end.
//
// A scenario loads a catalog, plans one named query, renders the plan to
// SQL and executes it against an in-memory SQLite sandbox seeded with
// rows. Assertions then inspect both the plan and the returned rows.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: order_totals
//	description: "What this scenario validates"
//	catalog: ../catalog/shop          # or catalog_source: inline CUE
//	query: order_totals
//	seed: ../seed/shop.yaml
//	rows:                             # optional inline rows
//	  orders:
//	    - {order_id: 4, amount: 10}
//	trace_id: trace-golden
//	assertions:
//	  - type: base_grain
//	    grain: [order_id]
//	  - type: rows
//	    ordered: true
//	    rows:
//	      - [1, 100]
//
// # Assertion Types
//
//   - base_grain: the base CTE grain equals the given concept references
//   - cte_count: the plan holds exactly count CTEs
//   - join_count: the final select joins exactly count CTEs
//   - rows: the executed rows match, as a multiset unless ordered is set
//   - error: planning failed with the given code, optionally containing text
//   - sql_contains: the rendered SQL contains text
//   - stages: the planner hook stages fired in exactly this order
//
// A plan error with no error assertion fails the scenario.
//
// # Deterministic Testing
//
// Scenarios run with a fixed trace id (testutil.FixedTraceGenerator) and an
// isolated in-memory database, so repeated runs render identical SQL and
// golden snapshots compare byte for byte.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/order_totals.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
