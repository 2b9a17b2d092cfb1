package search

import (
	"cmp"
	"slices"

	"github.com/roach88/grainplan/internal/graph"
	"github.com/roach88/grainplan/internal/model"
)

// buildComposite joins together the datasources needed to supply c and
// every component of grain.
//
// The algorithm:
//  1. Pick an anchor: prefer grain equal to the target, then coarser, then
//     the most required concepts covered, then the lower name
//  2. For each required concept no member outputs, follow the shortest
//     reference-graph path from the members and LEFT_OUTER join each new
//     datasource on the keys it shares with its predecessor
//  3. Derive the composite grain from the members' grains, grouping to the
//     target when the result is not already at or above it and c can be
//     aggregated
//
// Returns false if some required concept is unreachable.
func buildComposite(c model.Concept, grain model.Grain, g *graph.ReferenceGraph) (*model.QueryDatasource, bool) {
	required := model.UniqueConcepts(append([]model.Concept{c}, grain.Components...))

	anchor, ok := pickAnchor(required, grain, g)
	if !ok {
		return nil, false
	}

	members := []*model.BaseDatasource{anchor}
	names := []string{anchor.Name}
	var joins []model.BaseJoin
	for _, r := range required {
		if providedBy(members, r.Address()) {
			continue
		}
		hops, _, found := g.ShortestPath(names, r.Address())
		if !found {
			return nil, false
		}
		for _, hop := range hops {
			if slices.Contains(names, hop.To) {
				continue
			}
			from, _ := g.Datasource(hop.From)
			to, _ := g.Datasource(hop.To)
			members = append(members, to)
			names = append(names, to.Name)
			joins = append(joins, model.BaseJoin{
				Left:     from,
				Right:    to,
				Concepts: joinConcepts(from, to, hop.Via),
				JoinType: model.JoinLeftOuter,
			})
		}
	}

	if len(members) == 1 {
		if classify(c, grain, anchor) == rankGroupable {
			return model.Group(anchor, grain), true
		}
		return model.Wrap(anchor), true
	}

	children := make([]model.Datasource, len(members))
	var outputs []model.Concept
	sourceMap := make(map[string][]model.Datasource)
	for i, m := range members {
		children[i] = m
		for _, out := range m.Outputs() {
			outputs = append(outputs, out)
			sourceMap[out.Address()] = append(sourceMap[out.Address()], m)
		}
	}
	outputs = model.SortConcepts(model.UniqueConcepts(outputs))

	composite := &model.QueryDatasource{
		OutputConcepts: outputs,
		InputConcepts:  outputs,
		SourceMap:      sourceMap,
		Grain:          minimalGrain(members, outputs),
		Datasources:    children,
		Joins:          joins,
	}

	// Only c is aggregated: other metrics may fan out across the joins.
	if !composite.Grain.IsSubset(grain) && allProvided(outputs, grain) &&
		(c.Purpose == model.PurposeMetric || grain.Contains(c.Address())) {
		composite.OutputConcepts = model.UnionConcepts(grain.Components, []model.Concept{c})
		composite.Grain = grain
		composite.GroupRequired = true
	}
	return composite, true
}

func pickAnchor(required []model.Concept, grain model.Grain, g *graph.ReferenceGraph) (*model.BaseDatasource, bool) {
	type scored struct {
		ds      *model.BaseDatasource
		fit     int
		covered int
	}
	seen := make(map[string]bool)
	var all []scored
	for _, r := range required {
		for _, ds := range g.DatasourcesFor(r.Address()) {
			if seen[ds.Name] {
				continue
			}
			seen[ds.Name] = true
			fit := 2
			switch {
			case ds.Grain.Equal(grain):
				fit = 0
			case ds.Grain.IsSubset(grain):
				fit = 1
			}
			covered := 0
			for _, req := range required {
				if _, ok := ds.ColumnFor(req.Address()); ok {
					covered++
				}
			}
			all = append(all, scored{ds: ds, fit: fit, covered: covered})
		}
	}
	if len(all) == 0 {
		return nil, false
	}
	slices.SortFunc(all, func(a, b scored) int {
		return cmp.Or(
			cmp.Compare(a.fit, b.fit),
			cmp.Compare(b.covered, a.covered),
			cmp.Compare(a.ds.Name, b.ds.Name),
		)
	})
	return all[0].ds, true
}

// joinConcepts returns the keys shared by from and to, falling back to via.
func joinConcepts(from, to *model.BaseDatasource, via string) []model.Concept {
	keys := from.Grain.Union(to.Grain)
	var shared []model.Concept
	for _, out := range from.Outputs() {
		if _, ok := to.ColumnFor(out.Address()); ok && keys.Contains(out.Address()) {
			shared = append(shared, out)
		}
	}
	if len(shared) > 0 {
		return shared
	}
	for _, out := range from.Outputs() {
		if out.Address() == via {
			return []model.Concept{out}
		}
	}
	return nil
}

// minimalGrain finds the smallest set of member grain components whose
// functional closure covers every output. Each member's grain determines
// all of that member's outputs.
func minimalGrain(members []*model.BaseDatasource, outputs []model.Concept) model.Grain {
	var union model.Grain
	for _, m := range members {
		union = union.Union(m.Grain)
	}
	key := slices.Clone(union.Components)

	for i := len(key) - 1; i >= 0; i-- {
		candidate := slices.Delete(slices.Clone(key), i, i+1)
		if covers(closure(candidate, members), outputs) {
			key = candidate
		}
	}
	return model.NewGrain(key...)
}

func closure(start []model.Concept, members []*model.BaseDatasource) map[string]bool {
	known := make(map[string]bool, len(start))
	for _, c := range start {
		known[c.Address()] = true
	}
	for changed := true; changed; {
		changed = false
		for _, m := range members {
			if !grainKnown(m.Grain, known) {
				continue
			}
			for _, out := range m.Outputs() {
				if !known[out.Address()] {
					known[out.Address()] = true
					changed = true
				}
			}
		}
	}
	return known
}

func grainKnown(g model.Grain, known map[string]bool) bool {
	for _, comp := range g.Components {
		if !known[comp.Address()] {
			return false
		}
	}
	return true
}

func covers(known map[string]bool, outputs []model.Concept) bool {
	for _, out := range outputs {
		if !known[out.Address()] {
			return false
		}
	}
	return true
}

func providedBy(members []*model.BaseDatasource, address string) bool {
	for _, m := range members {
		if _, ok := m.ColumnFor(address); ok {
			return true
		}
	}
	return false
}

func allProvided(outputs []model.Concept, grain model.Grain) bool {
	for _, comp := range grain.Components {
		if !model.ContainsAddress(outputs, comp.Address()) {
			return false
		}
	}
	return true
}
