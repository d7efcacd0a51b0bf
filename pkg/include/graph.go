// Package include resolves the include tree of a root test: it loads every
// included document, compiles it into a test, rejects cycles and orders the
// includes that run before their parent.
package include

import "fmt"

// CycleError is returned when an include edge would close a cycle. Path is
// the included file that is already an ancestor.
type CycleError struct {
	From string
	Path string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("Circular dependencies for %s", e.Path)
}

// Graph is the include dependency graph of one root test. Nodes are file
// paths; an edge points from a document to a document it includes.
type Graph struct {
	ids        map[string]int
	paths      []string
	dependants map[int][]int
	inDegree   map[int]int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		ids:        map[string]int{},
		dependants: map[int][]int{},
		inDegree:   map[int]int{},
	}
}

func (g *Graph) node(path string) int {
	if id, ok := g.ids[path]; ok {
		return id
	}
	id := len(g.paths)
	g.ids[path] = id
	g.paths = append(g.paths, path)
	return id
}

// AddEdge adds from → to. An edge closing a cycle is rejected with a
// *CycleError and leaves the graph unchanged.
func (g *Graph) AddEdge(from, to string) error {
	if from == to {
		return &CycleError{From: from, Path: to}
	}
	u, v := g.node(from), g.node(to)
	g.dependants[u] = append(g.dependants[u], v)
	g.inDegree[v]++
	if g.isCyclic() {
		g.dependants[u] = g.dependants[u][:len(g.dependants[u])-1]
		g.inDegree[v]--
		return &CycleError{From: from, Path: to}
	}
	return nil
}

// Len is the number of nodes.
func (g *Graph) Len() int { return len(g.paths) }

// isCyclic checks for cycles using Kahn's algorithm.
func (g *Graph) isCyclic() bool {
	inDegree := make(map[int]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var queue []int
	for id := range g.paths {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		processed++
		for _, v := range g.dependants[u] {
			inDegree[v]--
			if inDegree[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	return processed != len(g.paths)
}
