// Package model defines the semantic vocabulary the planner works in.
//
//   - Concept: an identity-bearing attribute (key, property or metric),
//     addressed as namespace.name and optionally qualified to a Grain
//   - Grain: the set of concepts that makes a row unique
//   - Datasource: a closed sum of *BaseDatasource (a physical table) and
//     *QueryDatasource (a derived source composed of child datasources)
//   - Select: the abstract query handed to the planner
//   - Environment: the catalog of concepts and base datasources
//
// Values in this package are treated as immutable once handed to the
// planner. Helpers that combine values (Grain.Union, Merge, WithGrain)
// always return fresh copies.
package model
