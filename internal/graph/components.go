package graph

import (
	"slices"
	"strings"

	"github.com/roach88/grainplan/internal/model"
)

// Component is one connected island of datasources and concept addresses.
type Component struct {
	Datasources []string
	Concepts    []string
}

// ConnectedComponents reports how many connected components the resolution
// result forms.
//
// conceptMap maps a datasource identifier to the concepts it supplies. The
// graph has one node per datasource identifier, one node per distinct
// concept address, and an edge for each (datasource, concept) pair.
//
// Components are returned with sorted membership in a deterministic order.
func ConnectedComponents(conceptMap map[string][]model.Concept) (int, []Component) {
	const (
		dsPrefix      = "d\x00"
		conceptPrefix = "c\x00"
	)

	adjacency := make(map[string][]string)
	for id, concepts := range conceptMap {
		dsNode := dsPrefix + id
		if _, ok := adjacency[dsNode]; !ok {
			adjacency[dsNode] = nil
		}
		for _, c := range concepts {
			cNode := conceptPrefix + c.Address()
			adjacency[dsNode] = append(adjacency[dsNode], cNode)
			adjacency[cNode] = append(adjacency[cNode], dsNode)
		}
	}

	nodes := make([]string, 0, len(adjacency))
	for node := range adjacency {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)

	seen := make(map[string]bool, len(nodes))
	var components []Component
	for _, root := range nodes {
		if seen[root] {
			continue
		}
		var comp Component
		seen[root] = true
		queue := []string{root}
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			if id, ok := strings.CutPrefix(node, dsPrefix); ok {
				comp.Datasources = append(comp.Datasources, id)
			} else {
				comp.Concepts = append(comp.Concepts, strings.TrimPrefix(node, conceptPrefix))
			}
			for _, next := range adjacency[node] {
				if !seen[next] {
					seen[next] = true
					queue = append(queue, next)
				}
			}
		}
		slices.Sort(comp.Datasources)
		slices.Sort(comp.Concepts)
		components = append(components, comp)
	}
	return len(components), components
}
