// Package graph models the bipartite concept-datasource reference graph.
//
// Generate builds the graph for an Environment: one node per base
// datasource, one node per concept address, and an edge wherever a
// datasource outputs a concept. Datasources are reachable from one another
// through the concepts they share, which is how the planner discovers join
// paths.
//
// ConnectedComponents answers the planner's connectivity question over a
// resolution result: are all resolved datasources joinable through shared
// concepts, or did resolution produce islands?
package graph
