package model

import (
	"cmp"
	"fmt"
	"slices"
)

// Merge combines two datasources that share an identifier.
//
// Output, input and filter concepts are unioned and sorted by address.
// Children with the same identifier are merged recursively and source map
// entries are unioned and deduplicated by identifier. Children and
// sources are sorted by identifier and joins are put in a canonical order
// that still introduces every left side before it is used, so the result
// does not depend on argument order or grouping.
func Merge(a, b Datasource) (Datasource, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("merge: nil datasource")
	}
	if a.Identifier() != b.Identifier() {
		return nil, fmt.Errorf("merge: identifier mismatch %q != %q", a.Identifier(), b.Identifier())
	}

	switch left := a.(type) {
	case *BaseDatasource:
		if _, ok := b.(*BaseDatasource); !ok {
			return nil, fmt.Errorf("merge: %q: cannot merge base with composite", a.Identifier())
		}
		return left, nil
	case *QueryDatasource:
		right, ok := b.(*QueryDatasource)
		if !ok {
			return nil, fmt.Errorf("merge: %q: cannot merge composite with base", a.Identifier())
		}
		return mergeQuery(left, right)
	default:
		return nil, fmt.Errorf("merge: unsupported datasource type %T", a)
	}
}

func mergeQuery(a, b *QueryDatasource) (*QueryDatasource, error) {
	children, err := mergeChildren(a.Datasources, b.Datasources)
	if err != nil {
		return nil, fmt.Errorf("merge %q: %w", a.Identifier(), err)
	}
	sortByIdentifier(children)
	byID := make(map[string]Datasource, len(children))
	for _, ds := range children {
		byID[ds.Identifier()] = ds
	}
	resolve := func(ds Datasource) Datasource {
		if merged, ok := byID[identifierOf(ds)]; ok {
			return merged
		}
		return ds
	}

	sourceMap := make(map[string][]Datasource)
	for _, m := range []map[string][]Datasource{a.SourceMap, b.SourceMap} {
		for addr, sources := range m {
			for _, ds := range sources {
				sourceMap[addr] = appendUnique(sourceMap[addr], resolve(ds))
			}
		}
	}
	for _, sources := range sourceMap {
		sortByIdentifier(sources)
	}

	joins := make([]BaseJoin, 0, len(a.Joins))
	seen := make(map[string]bool)
	for _, j := range append(slices.Clone(a.Joins), b.Joins...) {
		key := j.canonicalKey(identifierOf)
		if seen[key] {
			continue
		}
		seen[key] = true
		joins = append(joins, BaseJoin{
			Left:     resolve(j.Left),
			Right:    resolve(j.Right),
			Concepts: SortConcepts(j.Concepts),
			JoinType: j.JoinType,
		})
	}
	joins = orderJoins(joins)

	return &QueryDatasource{
		OutputConcepts: UnionConcepts(a.OutputConcepts, b.OutputConcepts),
		InputConcepts:  UnionConcepts(a.InputConcepts, b.InputConcepts),
		SourceMap:      sourceMap,
		Grain:          a.Grain,
		Datasources:    children,
		Joins:          joins,
		GroupRequired:  a.GroupRequired,
		Condition:      a.Condition,
		FilterConcepts: UnionConcepts(a.FilterConcepts, b.FilterConcepts),
	}, nil
}

// mergeChildren unions two child lists by identifier, merging duplicates
// in place of their first occurrence.
func mergeChildren(a, b []Datasource) ([]Datasource, error) {
	out := make([]Datasource, 0, len(a)+len(b))
	index := make(map[string]int, len(a)+len(b))
	for _, ds := range append(slices.Clone(a), b...) {
		id := ds.Identifier()
		i, ok := index[id]
		if !ok {
			index[id] = len(out)
			out = append(out, ds)
			continue
		}
		merged, err := Merge(out[i], ds)
		if err != nil {
			return nil, err
		}
		out[i] = merged
	}
	return out, nil
}

func appendUnique(list []Datasource, ds Datasource) []Datasource {
	for _, existing := range list {
		if existing.Identifier() == ds.Identifier() {
			return list
		}
	}
	return append(list, ds)
}

func sortByIdentifier(list []Datasource) {
	slices.SortStableFunc(list, func(a, b Datasource) int {
		return cmp.Compare(a.Identifier(), b.Identifier())
	})
}

// orderJoins sorts joins by key, then emits them so that each join's left
// side is an anchor or was already joined in. Joins that can never be
// reached keep key order at the end.
func orderJoins(joins []BaseJoin) []BaseJoin {
	slices.SortStableFunc(joins, func(a, b BaseJoin) int {
		return cmp.Compare(a.canonicalKey(identifierOf), b.canonicalKey(identifierOf))
	})
	rights := make(map[string]bool, len(joins))
	for _, j := range joins {
		rights[identifierOf(j.Right)] = true
	}
	available := make(map[string]bool, len(joins)+1)
	for _, j := range joins {
		if left := identifierOf(j.Left); !rights[left] {
			available[left] = true
		}
	}

	out := make([]BaseJoin, 0, len(joins))
	used := make([]bool, len(joins))
	for len(out) < len(joins) {
		next := -1
		for i, j := range joins {
			if !used[i] && available[identifierOf(j.Left)] {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		used[next] = true
		available[identifierOf(joins[next].Right)] = true
		out = append(out, joins[next])
	}
	for i, j := range joins {
		if !used[i] {
			out = append(out, j)
		}
	}
	return out
}
