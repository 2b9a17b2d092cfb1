package model

import "github.com/roach88/grainplan/internal/queryir"

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Concept    Concept
	Descending bool
}

// Select is the abstract query handed to the planner.
//
// Where, OrderBy and Limit pass through planning untouched; they are
// interpreted only by the renderer.
type Select struct {
	Selection []Concept
	Grain     Grain
	Where     queryir.Predicate
	OrderBy   []OrderItem
	Limit     *int
}

// OutputConcepts returns the selected concepts, deduplicated by address.
func (s Select) OutputConcepts() []Concept {
	return UniqueConcepts(s.Selection)
}

// RequiredConcepts is the resolution worklist: outputs, then grain
// components, deduplicated by address. Where is applied to the finished
// plan and adds nothing here.
func (s Select) RequiredConcepts() []Concept {
	return UniqueConcepts(append(s.OutputConcepts(), s.Grain.Components...))
}

// WhereConcepts returns the env concepts referenced by Where, in reference
// order. Unknown addresses are skipped.
func (s Select) WhereConcepts(env *Environment) []Concept {
	if s.Where == nil || env == nil {
		return nil
	}
	var out []Concept
	for _, addr := range queryir.Concepts(s.Where) {
		if c, ok := env.Concept(addr); ok {
			out = append(out, c)
		}
	}
	return UniqueConcepts(out)
}

// DefaultGrain derives a grain for a selection: its keys, or when there
// are none its non-metric concepts. A selection of metrics only yields the
// abstract grain.
func DefaultGrain(selection []Concept) Grain {
	var keys, nonMetrics []Concept
	for _, c := range selection {
		switch c.Purpose {
		case PurposeKey:
			keys = append(keys, c)
			nonMetrics = append(nonMetrics, c)
		case PurposeProperty:
			nonMetrics = append(nonMetrics, c)
		}
	}
	if len(keys) > 0 {
		return NewGrain(keys...)
	}
	return NewGrain(nonMetrics...)
}
