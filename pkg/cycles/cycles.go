// Package cycles finds cycles in directed entity graphs.
package cycles

import (
	"sort"
	"strings"
)

// Graph is a directed graph keyed by node id. Iteration is always in sorted
// order so results do not depend on insertion order.
type Graph struct {
	edges map[string]map[string]bool
}

func New() *Graph {
	return &Graph{edges: make(map[string]map[string]bool)}
}

// AddEdge adds from → to. Both nodes are created if missing.
func (g *Graph) AddEdge(from, to string) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]bool)
	}
	if g.edges[to] == nil {
		g.edges[to] = make(map[string]bool)
	}
	g.edges[from][to] = true
}

func (g *Graph) nodes() []string {
	out := make([]string, 0, len(g.edges))
	for n := range g.edges {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) successors(n string) []string {
	out := make([]string, 0, len(g.edges[n]))
	for m := range g.edges[n] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// FindCycle returns the first cycle reachable by DFS as a closed path
// [a, b, ..., a], or nil when the graph is acyclic.
func (g *Graph) FindCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.edges))
	var stack []string

	var visit func(n string) []string
	visit = func(n string) []string {
		color[n] = grey
		stack = append(stack, n)
		for _, m := range g.successors(n) {
			switch color[m] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == m {
						start = i
						break
					}
				}
				path := append([]string{}, stack[start:]...)
				return append(path, m)
			case white:
				if path := visit(m); path != nil {
					return path
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	for _, n := range g.nodes() {
		if color[n] == white {
			if path := visit(n); path != nil {
				return path
			}
		}
	}
	return nil
}

// Cycles returns every strongly connected component that contains a cycle,
// found with Tarjan's algorithm. Each component is sorted and the list is
// ordered by its first member.
func (g *Graph) Cycles() [][]string {
	var (
		index   int
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

		for _, w := range g.successors(v) {
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
			if len(scc) > 1 || g.edges[v][v] {
				sort.Strings(scc)
				sccs = append(sccs, scc)
			}
		}
	}

	for _, n := range g.nodes() {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}

	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs
}

// FormatPath renders a cycle path as "a -> b -> a".
func FormatPath(path []string) string {
	return strings.Join(path, " -> ")
}
