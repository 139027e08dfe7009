// Package graph builds dependency graphs, detects cycles, and computes
// wave-based execution plans. The same machinery schedules jobs inside
// one pipeline and pipelines inside a coordination plan.
package graph

import (
	"sort"

	"github.com/handleui/caliper/internal/workflow"
)

// Graph is a dependency graph. Edges point from a dependent node to each
// of its dependencies. Nodes whose edges reference missing nodes are
// degraded to unschedulable rather than failing the build.
type Graph struct {
	nodes         []string
	deps          map[string][]string
	dependents    map[string][]string
	unschedulable map[string][]string
}

// New constructs a graph from explicit nodes and dependency edges. It
// never fails: edges to unknown nodes degrade the referencing node and
// are reported via Unschedulable.
func New(nodes []string, deps map[string][]string) *Graph {
	g := &Graph{
		nodes:         make([]string, len(nodes)),
		deps:          make(map[string][]string, len(nodes)),
		dependents:    make(map[string][]string, len(nodes)),
		unschedulable: make(map[string][]string),
	}
	copy(g.nodes, nodes)
	sort.Strings(g.nodes)

	known := make(map[string]bool, len(g.nodes))
	for _, id := range g.nodes {
		known[id] = true
	}

	for _, id := range g.nodes {
		var valid []string
		for _, dep := range deps[id] {
			if !known[dep] {
				g.unschedulable[id] = append(g.unschedulable[id], dep)
				continue
			}
			valid = append(valid, dep)
		}
		sort.Strings(valid)
		g.deps[id] = valid
		for _, dep := range valid {
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}
	for id := range g.unschedulable {
		sort.Strings(g.unschedulable[id])
	}

	return g
}

// Build constructs the job dependency graph for a definition. Dangling
// `needs` references degrade the referencing job.
func Build(def *workflow.Definition) *Graph {
	ids := def.JobIDs()
	deps := make(map[string][]string, len(ids))
	for _, id := range ids {
		deps[id] = def.Jobs[id].Needs
	}
	return New(ids, deps)
}

// Nodes returns all node IDs in lexicographic order.
func (g *Graph) Nodes() []string {
	return g.nodes
}

// Dependencies returns the resolved dependencies of a node, sorted.
// Dangling references are not included.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Dependents returns the nodes that depend on the given node, sorted.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// Unschedulable returns the nodes with dangling references, mapped to
// the missing IDs. These nodes (and anything depending on them) are
// excluded from scheduling.
func (g *Graph) Unschedulable() map[string][]string {
	return g.unschedulable
}

// RootCount returns the number of nodes with no dependencies at all.
func (g *Graph) RootCount() int {
	count := 0
	for _, id := range g.nodes {
		if len(g.deps[id]) == 0 && len(g.unschedulable[id]) == 0 {
			count++
		}
	}
	return count
}
