package model

import (
	"slices"
	"strings"
)

// Grain is the set of concepts that defines row uniqueness.
//
// Components are unqualified, deduplicated by address and sorted, so two
// grains with the same component set are structurally identical. The empty
// grain is the abstract single-row grain and is a subset of every grain.
type Grain struct {
	Components []Concept
}

// NewGrain builds a normalised grain from the given concepts.
func NewGrain(components ...Concept) Grain {
	cs := make([]Concept, 0, len(components))
	for _, c := range components {
		cs = append(cs, c.Unqualified())
	}
	return Grain{Components: SortConcepts(UniqueConcepts(cs))}
}

// Addresses returns the sorted component addresses.
func (g Grain) Addresses() []string {
	out := make([]string, 0, len(g.Components))
	for _, c := range g.Components {
		out = append(out, c.Address())
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Key is a canonical string form of the component set.
func (g Grain) Key() string {
	return strings.Join(g.Addresses(), ",")
}

// IsAbstract reports whether g is the empty (single-row) grain.
func (g Grain) IsAbstract() bool {
	return len(g.Components) == 0
}

// Contains reports whether address is a component of g.
func (g Grain) Contains(address string) bool {
	return ContainsAddress(g.Components, address)
}

// IsSubset reports whether every component of g is in other.
func (g Grain) IsSubset(other Grain) bool {
	for _, c := range g.Components {
		if !other.Contains(c.Address()) {
			return false
		}
	}
	return true
}

// Equal reports whether g and other have the same component set.
func (g Grain) Equal(other Grain) bool {
	return g.Key() == other.Key()
}

// Union returns a new grain containing the components of both.
func (g Grain) Union(other Grain) Grain {
	return NewGrain(append(slices.Clone(g.Components), other.Components...)...)
}

func (g Grain) String() string {
	if g.IsAbstract() {
		return "Grain<abstract>"
	}
	return "Grain<" + g.Key() + ">"
}
