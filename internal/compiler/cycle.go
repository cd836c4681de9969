package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/relgraph/internal/ir"
)

// CycleError describes a cycle among derived fields.
//
// Unlike a cycle in a workflow, a cycle among computed fields can never
// settle, so it is always an error.
type CycleError struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
}

func (e CycleError) Error() string {
	return e.Message
}

// AnalyzeCycles performs static cycle analysis on one model.
//
// The graph has an edge from every derived field to each field it reads:
// its dependencies, and for related fields the first hop of the path.
// Paths that leave the model are checked at first evaluation instead.
func AnalyzeCycles(spec ir.ModelSpec) []CycleError {
	graph := make(DependencyGraph)
	for _, f := range spec.Fields {
		if !f.IsDerived() {
			continue
		}
		edges := slices.Clone(f.Dependencies)
		if f.Related != "" {
			first, _, _ := strings.Cut(f.Related, ".")
			edges = append(edges, first)
		}
		graph[f.Name] = edges
	}
	return FindCycles(graph)
}

// DependencyGraph maps a node to the nodes it depends on.
type DependencyGraph map[string][]string

// FindCycles returns one CycleError per strongly connected component that
// forms a cycle (size > 1, or a self-loop). Results are ordered by node name.
func FindCycles(graph DependencyGraph) []CycleError {
	var cycles []CycleError
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], graph) {
			continue
		}
		path := reconstructCyclePath(scc, graph)
		cycles = append(cycles, CycleError{
			Path:    path,
			Message: fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")),
		})
	}
	return cycles
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph DependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are deterministic.
func tarjanSCC(graph DependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph DependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
