package graph

import (
	"slices"

	"github.com/roach88/grainplan/internal/model"
)

// ReferenceGraph is the concept-datasource graph of an Environment.
// It is read-only after Generate and safe for concurrent use.
type ReferenceGraph struct {
	datasources  map[string]*model.BaseDatasource
	byConcept    map[string][]string // concept address -> datasource names, sorted
	byDatasource map[string][]string // datasource name -> concept addresses, sorted
}

// Generate builds the reference graph for env.
func Generate(env *model.Environment) *ReferenceGraph {
	g := &ReferenceGraph{
		datasources:  make(map[string]*model.BaseDatasource),
		byConcept:    make(map[string][]string),
		byDatasource: make(map[string][]string),
	}
	for _, ds := range env.Datasources() {
		g.datasources[ds.Name] = ds
		for _, c := range ds.Outputs() {
			addr := c.Address()
			g.byConcept[addr] = append(g.byConcept[addr], ds.Name)
			g.byDatasource[ds.Name] = append(g.byDatasource[ds.Name], addr)
		}
	}
	for addr := range g.byConcept {
		slices.Sort(g.byConcept[addr])
	}
	return g
}

// DatasourcesFor returns the base datasources that output address, sorted
// by name.
func (g *ReferenceGraph) DatasourcesFor(address string) []*model.BaseDatasource {
	names := g.byConcept[address]
	out := make([]*model.BaseDatasource, 0, len(names))
	for _, name := range names {
		out = append(out, g.datasources[name])
	}
	return out
}

// Datasource returns the base datasource with the given name.
func (g *ReferenceGraph) Datasource(name string) (*model.BaseDatasource, bool) {
	ds, ok := g.datasources[name]
	return ds, ok
}

// Hop is one step of a join path: From joins To on the concept Via.
type Hop struct {
	From string
	Via  string
	To   string
}

// ShortestPath finds the fewest-hop path from any of the start datasources
// to a datasource that outputs target.
//
// Returns the hops (empty when a start datasource already outputs target),
// the datasource that outputs target, and whether a path exists. Ties are
// broken by start order, then by concept address, then by datasource name,
// so the result is deterministic.
func (g *ReferenceGraph) ShortestPath(start []string, target string) ([]Hop, string, bool) {
	prev := make(map[string]Hop)
	visited := make(map[string]bool)
	queue := make([]string, 0, len(start))
	for _, name := range start {
		if _, ok := g.datasources[name]; !ok || visited[name] {
			continue
		}
		visited[name] = true
		queue = append(queue, name)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if slices.Contains(g.byDatasource[current], target) {
			return g.walkBack(prev, current), current, true
		}

		for _, addr := range g.byDatasource[current] {
			for _, next := range g.byConcept[addr] {
				if visited[next] {
					continue
				}
				visited[next] = true
				prev[next] = Hop{From: current, Via: addr, To: next}
				queue = append(queue, next)
			}
		}
	}
	return nil, "", false
}

func (g *ReferenceGraph) walkBack(prev map[string]Hop, end string) []Hop {
	var hops []Hop
	for {
		hop, ok := prev[end]
		if !ok {
			break
		}
		hops = append(hops, hop)
		end = hop.From
	}
	slices.Reverse(hops)
	return hops
}
