// Package queryir provides the filter predicate IR used by grainplan.
//
// Predicates appear in two places:
//   - model.Select.Where: the query's filter, passed through to the renderer
//   - model.QueryDatasource.Condition: a filter baked into a derived datasource
//
// ARCHITECTURE:
//
//	[catalog (CUE)] → [queryir.Predicate] → [querysql renderer]
//	                                     → [identity hashing (Canonical)]
//
// Predicates reference concepts by address, never physical columns. The
// renderer resolves each address against the CTE or table that owns it in
// the compiled plan.
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only types
// in this package implement it, so renderers can switch exhaustively:
//
//	switch p := queryir.Normalize(pred).(type) {
//	case queryir.Comparison:
//	case queryir.In:
//	case queryir.IsNull:
//	case queryir.And, queryir.Or, queryir.Not:
//	}
//
// IDENTITY:
//
// Canonical produces an ir.Value encoding of a predicate. Datasource
// identifiers include the canonical condition, so two derived datasources
// with different filters never collapse into the same CTE.
package queryir
