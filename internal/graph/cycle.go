package graph

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle. Members holds the cycle's job
// IDs in traversal order, starting from the lexicographically first entry
// point.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	if len(e.Members) == 0 {
		return "dependency cycle detected"
	}
	return fmt.Sprintf("dependency cycle: %s -> %s", strings.Join(e.Members, " -> "), e.Members[0])
}

// DFS colors. A back edge to an in-progress (gray) node is a cycle.
const (
	white = iota // unvisited
	gray         // in progress
	black        // done
)

// CycleCheck runs a three-color depth-first traversal over the dependency
// edges and returns the first cycle found, or nil. Nodes and adjacency
// are visited in sorted order, so the reported cycle is deterministic for
// identical input.
func (g *Graph) CycleCheck() *CycleError {
	colors := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		colors[id] = gray
		stack = append(stack, id)

		for _, dep := range g.deps[id] {
			switch colors[dep] {
			case gray:
				// Back edge: the cycle is the stack suffix from the
				// gray node onward.
				for i, member := range stack {
					if member == dep {
						members := make([]string, len(stack)-i)
						copy(members, stack[i:])
						return &CycleError{Members: members}
					}
				}
			case white:
				if cerr := visit(dep); cerr != nil {
					return cerr
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range g.nodes {
		if colors[id] == white {
			if cerr := visit(id); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}
