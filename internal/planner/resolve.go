package planner

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/grainplan/internal/graph"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/search"
)

// ConceptMap maps a datasource identifier to the concepts it supplies.
type ConceptMap map[string][]model.Concept

// DatasourceMap maps a datasource identifier to the resolved datasource.
type DatasourceMap map[string]model.Datasource

// Identifiers returns the identifiers in sorted order.
func (m DatasourceMap) Identifiers() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SearchFunc finds one datasource able to supply a concept at a grain.
// search.Searcher.SearchDatasource is the default implementation.
type SearchFunc func(c model.Concept, grain model.Grain, env *model.Environment, g *graph.ReferenceGraph, wholeGrain bool) (model.Datasource, error)

// GraphFunc builds the reference graph for an environment.
type GraphFunc func(env *model.Environment) *graph.ReferenceGraph

// Resolve maps every concept the statement needs to a datasource.
//
// The algorithm:
//  1. Worklist = outputs, grain components and filter concepts, by address
//  2. Search each concept in direct mode; absorb the full output set of the
//     returned datasource and merge datasources seen more than once
//  3. If the concept map forms more than one connected component, search
//     the worklist again in whole-grain mode, stopping as soon as it is
//     connected
//
// A resolution that is still disconnected is logged and reported to
// Hooks.Disconnected but is not an error. A failed search aborts the whole
// resolution.
func (p *Planner) Resolve(env *model.Environment, g *graph.ReferenceGraph, stmt model.Select) (ConceptMap, DatasourceMap, error) {
	c := p.newCompilation(env, g, stmt)
	if err := c.resolve(); err != nil {
		return nil, nil, err
	}
	return c.concepts, c.datasources, nil
}

func (c *compilation) resolve() error {
	worklist := c.stmt.RequiredConcepts()
	if c.resolveFilters {
		worklist = model.UniqueConcepts(append(worklist, c.stmt.WhereConcepts(c.env)...))
	}

	for _, concept := range worklist {
		if err := c.absorb(concept, false); err != nil {
			return err
		}
	}

	count, _ := graph.ConnectedComponents(c.concepts)
	c.emitResolved("direct", count)
	if count <= 1 {
		return nil
	}

	c.logger.Info("resolution disconnected, retrying in whole-grain mode",
		"trace", c.traceID,
		"components", count,
		"grain", c.stmt.Grain.Key())
	c.hooks.Disconnected(c.event(StageDisconnected, "direct", count))

	for _, concept := range worklist {
		if err := c.absorb(concept, true); err != nil {
			return err
		}
		count, _ = graph.ConnectedComponents(c.concepts)
		if count <= 1 {
			break
		}
	}
	c.emitResolved("whole_grain", count)

	if count > 1 {
		_, components := graph.ConnectedComponents(c.concepts)
		islands := make([][]string, len(components))
		for i, comp := range components {
			islands[i] = comp.Datasources
		}
		c.logger.Warn("resolution still disconnected after whole-grain search",
			"trace", c.traceID,
			"components", count,
			"islands", islands)
		c.hooks.Disconnected(c.event(StageDisconnected, "whole_grain", count))
	}
	return nil
}

// absorb searches one concept and folds the result into the working maps.
func (c *compilation) absorb(concept model.Concept, wholeGrain bool) error {
	ds, err := c.search(concept, c.stmt.Grain, c.env, c.graph, wholeGrain)
	if err != nil {
		if errors.Is(err, search.ErrNoDatasource) {
			return NewNoDatasourceError(concept.Address(), c.stmt.Grain.String(), err)
		}
		return fmt.Errorf("search %s: %w", concept.Address(), err)
	}
	if ds == nil {
		return NewNoDatasourceError(concept.Address(), c.stmt.Grain.String(), nil)
	}

	id := ds.Identifier()
	c.concepts[id] = model.UnionConcepts(c.concepts[id], ds.Outputs())
	if existing, ok := c.datasources[id]; ok {
		merged, err := model.Merge(existing, ds)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", concept.Address(), err)
		}
		ds = merged
	}
	c.datasources[id] = ds

	c.logger.Debug("concept resolved",
		"trace", c.traceID,
		"concept", concept.Address(),
		"datasource", id,
		"whole_grain", wholeGrain)
	return nil
}

func (c *compilation) emitResolved(pass string, components int) {
	c.hooks.Resolved(c.event(StageResolved, pass, components))
}
