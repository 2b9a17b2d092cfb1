package model

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultNamespace is used for concepts declared without a namespace.
const DefaultNamespace = "local"

// Purpose classifies how a concept behaves under grouping.
type Purpose string

const (
	// PurposeKey identifies rows; keys are the usual grain components.
	PurposeKey Purpose = "key"
	// PurposeProperty describes a key; it is functionally dependent on it.
	PurposeProperty Purpose = "property"
	// PurposeMetric is a measure that must be aggregated when rows collapse.
	PurposeMetric Purpose = "metric"
)

// ValidPurposes lists the accepted Purpose values.
var ValidPurposes = map[Purpose]bool{
	PurposeKey:      true,
	PurposeProperty: true,
	PurposeMetric:   true,
}

// Aggregate is the function applied to a metric when grouping to a grain.
type Aggregate string

const (
	AggSum           Aggregate = "sum"
	AggCount         Aggregate = "count"
	AggCountDistinct Aggregate = "count_distinct"
	AggAvg           Aggregate = "avg"
	AggMin           Aggregate = "min"
	AggMax           Aggregate = "max"
)

// ValidAggregates lists the accepted Aggregate values.
var ValidAggregates = map[Aggregate]bool{
	AggSum: true, AggCount: true, AggCountDistinct: true,
	AggAvg: true, AggMin: true, AggMax: true,
}

// Concept is a named attribute independent of physical storage.
//
// Equality is by Key: the address, plus the grain when grain-qualified.
// Grain is nil for an unqualified concept.
type Concept struct {
	Name      string
	Namespace string
	Purpose   Purpose
	DataType  string
	Aggregate Aggregate // metrics only; defaults to sum when empty
	Grain     *Grain
}

// NewConcept creates an unqualified concept in the default namespace.
func NewConcept(name string, purpose Purpose) Concept {
	return Concept{Name: name, Namespace: DefaultNamespace, Purpose: purpose}
}

// Address is the globally unique identity of the concept.
func (c Concept) Address() string {
	ns := c.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + "." + c.Name
}

// Key is the equality key: address, plus "@" and the grain key when qualified.
func (c Concept) Key() string {
	if c.Grain == nil {
		return c.Address()
	}
	return c.Address() + "@" + c.Grain.Key()
}

// Equal reports whether c and other are the same (possibly qualified) concept.
func (c Concept) Equal(other Concept) bool {
	return c.Key() == other.Key()
}

// WithGrain returns a copy of c qualified to g.
func (c Concept) WithGrain(g Grain) Concept {
	out := c
	qualified := NewGrain(g.Components...)
	out.Grain = &qualified
	return out
}

// Unqualified returns a copy of c without grain qualification.
func (c Concept) Unqualified() Concept {
	out := c
	out.Grain = nil
	return out
}

// AggregateOrDefault returns the aggregate to apply when grouping.
func (c Concept) AggregateOrDefault() Aggregate {
	if c.Aggregate == "" {
		return AggSum
	}
	return c.Aggregate
}

func (c Concept) String() string {
	if c.Grain == nil {
		return c.Address()
	}
	return fmt.Sprintf("%s@%s", c.Address(), c.Grain)
}

// Address splits a user-supplied reference into a full address. References
// without a dot are placed in DefaultNamespace.
func Address(ref string) string {
	if strings.Contains(ref, ".") {
		return ref
	}
	return DefaultNamespace + "." + ref
}

// UniqueConcepts removes later duplicates (by address) and keeps order.
func UniqueConcepts(cs []Concept) []Concept {
	seen := make(map[string]bool, len(cs))
	out := make([]Concept, 0, len(cs))
	for _, c := range cs {
		if seen[c.Address()] {
			continue
		}
		seen[c.Address()] = true
		out = append(out, c)
	}
	return out
}

// SortConcepts returns a copy of cs sorted by address.
func SortConcepts(cs []Concept) []Concept {
	out := slices.Clone(cs)
	slices.SortStableFunc(out, func(a, b Concept) int {
		return strings.Compare(a.Address(), b.Address())
	})
	return out
}

// UnionConcepts merges two concept lists by address and sorts the result.
// When both lists hold the same address the entry from a wins.
func UnionConcepts(a, b []Concept) []Concept {
	return SortConcepts(UniqueConcepts(append(slices.Clone(a), b...)))
}

// ContainsAddress reports whether any concept in cs has the given address.
func ContainsAddress(cs []Concept, address string) bool {
	for _, c := range cs {
		if c.Address() == address {
			return true
		}
	}
	return false
}

// ContainsConcept reports whether cs holds a concept equal to c (by Key).
func ContainsConcept(cs []Concept, c Concept) bool {
	key := c.Key()
	for _, x := range cs {
		if x.Key() == key {
			return true
		}
	}
	return false
}

// Addresses returns the addresses of cs in order.
func Addresses(cs []Concept) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Address()
	}
	return out
}
