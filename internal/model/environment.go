package model

import (
	"fmt"
	"slices"
	"strings"
)

// Environment is the catalog of concepts and base datasources a query is
// planned against. It is built once, then treated as a read-only snapshot.
type Environment struct {
	concepts    map[string]Concept
	datasources map[string]*BaseDatasource
}

// NewEnvironment returns an empty environment.
func NewEnvironment() *Environment {
	return &Environment{
		concepts:    make(map[string]Concept),
		datasources: make(map[string]*BaseDatasource),
	}
}

// AddConcept registers c. Registering a second concept with the same
// address is an error.
func (e *Environment) AddConcept(c Concept) error {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if _, exists := e.concepts[c.Address()]; exists {
		return fmt.Errorf("duplicate concept %q", c.Address())
	}
	e.concepts[c.Address()] = c.Unqualified()
	return nil
}

// AddDatasource registers ds. Every column concept is registered too if
// not already known.
func (e *Environment) AddDatasource(ds *BaseDatasource) error {
	if ds.Name == "" {
		return fmt.Errorf("datasource name is required")
	}
	if _, exists := e.datasources[ds.Name]; exists {
		return fmt.Errorf("duplicate datasource %q", ds.Name)
	}
	for _, col := range ds.Columns {
		if _, known := e.concepts[col.Concept.Address()]; !known {
			e.concepts[col.Concept.Address()] = col.Concept.Unqualified()
		}
	}
	e.datasources[ds.Name] = ds
	return nil
}

// Concept looks up a concept by reference (bare names use DefaultNamespace).
func (e *Environment) Concept(ref string) (Concept, bool) {
	c, ok := e.concepts[Address(ref)]
	return c, ok
}

// Datasource looks up a base datasource by name.
func (e *Environment) Datasource(name string) (*BaseDatasource, bool) {
	ds, ok := e.datasources[name]
	return ds, ok
}

// Concepts returns all concepts sorted by address.
func (e *Environment) Concepts() []Concept {
	out := make([]Concept, 0, len(e.concepts))
	for _, c := range e.concepts {
		out = append(out, c)
	}
	return SortConcepts(out)
}

// Datasources returns all base datasources sorted by name.
func (e *Environment) Datasources() []*BaseDatasource {
	out := make([]*BaseDatasource, 0, len(e.datasources))
	for _, ds := range e.datasources {
		out = append(out, ds)
	}
	slices.SortFunc(out, func(a, b *BaseDatasource) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
