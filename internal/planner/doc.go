// Package planner turns an abstract Select into a ProcessedQuery.
//
// ProcessQuery runs four stages:
//
//  1. Resolve: search a datasource for every required concept, merging
//     datasources discovered more than once, and retry in whole-grain mode
//     when the result is not one connected component
//  2. Compile: flatten every resolved composite into dependency-ordered
//     CTEs (parents first), then merge CTEs with the same name
//  3. Select the base CTE: exact query grain first, else the subset grain
//     covering the most query grain components
//  4. Synthesize LEFT_OUTER joins from the base to every other CTE that
//     shares query grain keys with it
//
// A compilation is pure and synchronous. Working state is local to one
// call, so independent queries may be planned concurrently against the
// same Environment.
//
// All failures are *PlanError values; no partial plan is ever returned.
package planner
