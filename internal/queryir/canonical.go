package queryir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/grainplan/internal/ir"
)

// Concepts returns the sorted, deduplicated concept addresses referenced by p.
func Concepts(p Predicate) []string {
	seen := map[string]bool{}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := Normalize(p).(type) {
		case Comparison:
			seen[pred.Concept] = true
		case In:
			seen[pred.Concept] = true
		case IsNull:
			seen[pred.Concept] = true
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case Or:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case Not:
			walk(pred.Predicate)
		}
	}
	if p != nil {
		walk(p)
	}

	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	slices.Sort(out)
	return out
}

// Canonical encodes p as an ir.Value suitable for identity hashing.
// Conjuncts and disjuncts keep their declared order: reordering a filter
// yields a different identifier, which is conservative but never wrong.
func Canonical(p Predicate) (ir.Value, error) {
	switch pred := Normalize(p).(type) {
	case nil:
		return nil, fmt.Errorf("nil predicate")
	case Comparison:
		return ir.Object{
			"kind":    ir.String("cmp"),
			"concept": ir.String(pred.Concept),
			"op":      ir.String(string(pred.Op)),
			"value":   canonicalLiteral(pred.Value),
		}, nil
	case In:
		values := make(ir.List, len(pred.Values))
		for i, v := range pred.Values {
			values[i] = canonicalLiteral(v)
		}
		return ir.Object{
			"kind":    ir.String("in"),
			"concept": ir.String(pred.Concept),
			"values":  values,
		}, nil
	case IsNull:
		return ir.Object{
			"kind":    ir.String("is_null"),
			"concept": ir.String(pred.Concept),
			"negated": ir.Bool(pred.Negated),
		}, nil
	case And:
		return canonicalGroup("and", pred.Predicates)
	case Or:
		return canonicalGroup("or", pred.Predicates)
	case Not:
		inner, err := Canonical(pred.Predicate)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return ir.Object{"kind": ir.String("not"), "predicate": inner}, nil
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func canonicalGroup(kind string, preds []Predicate) (ir.Value, error) {
	items := make(ir.List, 0, len(preds))
	for i, sub := range preds {
		c, err := Canonical(sub)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
		items = append(items, c)
	}
	return ir.Object{"kind": ir.String(kind), "predicates": items}, nil
}

// canonicalLiteral replaces Null (forbidden in canonical JSON) with a marker.
func canonicalLiteral(v ir.Value) ir.Value {
	switch val := v.(type) {
	case nil, ir.Null:
		return ir.Object{"null": ir.Bool(true)}
	case ir.List:
		out := make(ir.List, len(val))
		for i, elem := range val {
			out[i] = canonicalLiteral(elem)
		}
		return out
	}
	return v
}

// String renders p for plan explanations. It is not SQL.
func String(p Predicate) string {
	switch pred := Normalize(p).(type) {
	case nil:
		return "TRUE"
	case Comparison:
		return fmt.Sprintf("%s %s %s", pred.Concept, pred.Op, ir.Format(pred.Value))
	case In:
		return fmt.Sprintf("%s IN %s", pred.Concept, ir.Format(pred.Values))
	case IsNull:
		if pred.Negated {
			return pred.Concept + " IS NOT NULL"
		}
		return pred.Concept + " IS NULL"
	case And:
		return joinGroup(pred.Predicates, " AND ", "TRUE")
	case Or:
		return joinGroup(pred.Predicates, " OR ", "FALSE")
	case Not:
		return "NOT (" + String(pred.Predicate) + ")"
	default:
		return fmt.Sprintf("<%T>", p)
	}
}

func joinGroup(preds []Predicate, sep, empty string) string {
	if len(preds) == 0 {
		return empty
	}
	parts := make([]string, len(preds))
	for i, sub := range preds {
		parts[i] = String(sub)
	}
	return "(" + strings.Join(parts, sep) + ")"
}
