// Package store provides the SQLite sandbox that rendered plans run in.
//
// A sandbox holds:
//   - One table per base datasource, created from the environment
//   - Seed rows, keyed by concept reference or physical column name
//   - plan_runs: a log of executed plans (trace id, fingerprint, SQL)
//
// # Determinism
//
// Run history is ordered by seq INTEGER, never by timestamps. Query results
// are returned in the order SQLite produces them; callers that compare rows
// must either order the query or compare as multisets.
//
// The sandbox is meant for tests, the CLI run command and scenario files.
// It is not a warehouse adapter.
package store
