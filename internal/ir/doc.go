// Package ir provides the leaf value and identity layer for grainplan.
//
// This package imports nothing internal. Every other package may import it.
//
// It contains:
//   - Value: sealed literal types used by filter predicates and sandbox rows
//   - MarshalCanonical: RFC 8785 canonical JSON over Value trees
//   - DatasourceID / CTEName / PlanFingerprint: content-addressed identity
//
// Key design constraints:
//   - No float literals; integers are always int64
//   - Identity is computed only from canonical JSON, never from fmt or map order
//   - Identifiers are domain separated (see DomainDatasource, DomainPlan)
package ir
