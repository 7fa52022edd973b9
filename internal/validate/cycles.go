package validate

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/podstage/podstage/internal/quadlet"
)

// findCycles runs real cycle detection over the dependency edges and
// returns every distinct cycle found, each as the full node path with
// the starting node repeated at the end.
//
// Edges are normalized into a "depends on" digraph: Requires, Requisite,
// Wants, BindsTo, PartOf and After all point source -> target, while
// Before is the inverse ordering and points target -> source.
func findCycles(edges []quadlet.DependencyEdge) [][]string {
	g := graph.New(graph.StringHash, graph.Directed())

	for _, e := range edges {
		from := serviceNode(e.SourceUnit)
		to := serviceNode(e.TargetUnit)
		if e.Relation == quadlet.RelationBefore {
			from, to = to, from
		}

		_ = g.AddVertex(from)
		_ = g.AddVertex(to)
		_ = g.AddEdge(from, to)
	}

	adjacency, err := g.AdjacencyMap()
	if err != nil {
		return nil
	}

	nodes := make([]string, 0, len(adjacency))
	for node := range adjacency {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	const (
		white = iota // unvisited
		gray         // on the current DFS stack
		black        // fully explored
	)
	state := make(map[string]int, len(nodes))

	var cycles [][]string
	var stack []string

	var visit func(node string)
	visit = func(node string) {
		state[node] = gray
		stack = append(stack, node)

		neighbors := make([]string, 0, len(adjacency[node]))
		for n := range adjacency[node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)

		for _, next := range neighbors {
			switch state[next] {
			case white:
				visit(next)
			case gray:
				// Found a back edge: the cycle is the stack suffix
				// starting at next.
				for i, frame := range stack {
					if frame == next {
						cycle := append(append([]string{}, stack[i:]...), next)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[node] = black
	}

	for _, node := range nodes {
		if state[node] == white {
			visit(node)
		}
	}

	return cycles
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// serviceNode canonicalizes a dependency endpoint to a systemd service
// name so that a target written as "db.container" and the unit file
// "db.container" resolve to the same graph node.
func serviceNode(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if kind, ok := quadlet.ParseKind(ext); ok {
		return quadlet.ServiceName(strings.TrimSuffix(name, "."+ext), kind)
	}
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}
