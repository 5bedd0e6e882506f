// Package dag provides directed graph operations for view dependencies.
// It supports cycle detection, deterministic topological ordering, and
// upstream/downstream closure queries.
package dag

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Node is a view or an external table.
type Node struct {
	ID string
	// External marks nodes that are referenced but not defined locally.
	External bool
	Data     any
}

// CycleError is returned when an ordering is requested on a cyclic graph.
type CycleError struct {
	// Path is a closed walk along dependency edges: Path[0] == Path[len-1].
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " → ")
}

type set map[string]struct{}

// sortedIDs returns the members of s in ascending order.
func (s set) sortedIDs() []string {
	return slices.Sorted(maps.Keys(s))
}

// Graph is a directed graph whose edges run from a dependency to its
// dependent. All listings are sorted by node id.
type Graph struct {
	nodes      map[string]*Node
	dependents map[string]set
	deps       map[string]set
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      map[string]*Node{},
		dependents: map[string]set{},
		deps:       map[string]set{},
	}
}

// AddNode inserts a node; for an existing id only Data is replaced.
func (g *Graph) AddNode(id string, data any) *Node {
	if n, ok := g.nodes[id]; ok {
		n.Data = data
		return n
	}
	n := &Node{ID: id, Data: data}
	g.nodes[id] = n
	g.dependents[id] = set{}
	g.deps[id] = set{}
	return n
}

// AddExternal adds a node flagged external. An existing local node is left as is.
func (g *Graph) AddExternal(id string) *Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := g.AddNode(id, nil)
	n.External = true
	return n
}

// AddEdge records that child depends on parent. Both nodes must exist.
// Duplicate edges collapse. A self-loop is accepted and surfaces as a cycle.
func (g *Graph) AddEdge(parentID, childID string) error {
	for _, id := range []string{parentID, childID} {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("unknown node %q in edge %s -> %s", id, parentID, childID)
		}
	}
	g.dependents[parentID][childID] = struct{}{}
	g.deps[childID][parentID] = struct{}{}
	return nil
}

// GetNode looks a node up by id.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// GetParents returns the direct dependencies of id.
func (g *Graph) GetParents(id string) []string { return g.deps[id].sortedIDs() }

// GetChildren returns the direct dependents of id.
func (g *Graph) GetChildren(id string) []string { return g.dependents[id].sortedIDs() }

// GetAllNodes returns every node.
func (g *Graph) GetAllNodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, id := range g.ids() {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, s := range g.dependents {
		n += len(s)
	}
	return n
}

// FindCycle returns the first cycle found by a depth-first walk along
// dependency edges, as a closed path [a b c a] meaning a depends on b,
// b on c and c on a. Nodes and their dependencies are visited in sorted
// order so the result is stable. It returns nil for an acyclic graph.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		onPath
		finished
	)
	mark := make(map[string]int, len(g.nodes))
	var path, cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		mark[id] = onPath
		path = append(path, id)
		for _, dep := range g.GetParents(id) {
			switch mark[dep] {
			case onPath:
				start := slices.Index(path, dep)
				cycle = append(slices.Clone(path[start:]), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		mark[id] = finished
		return false
	}

	for _, id := range g.ids() {
		if mark[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// HasCycle reports whether the graph is cyclic, with the cycle FindCycle
// returns.
func (g *Graph) HasCycle() (bool, []string) {
	cycle := g.FindCycle()
	return cycle != nil, cycle
}

// TopologicalSort orders nodes so that every dependency precedes its
// dependents, using Kahn's algorithm with a lexically ordered ready set.
// A cyclic graph yields a *CycleError.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	pending := make(map[string]int, len(g.nodes))
	var ready []string
	for _, id := range g.ids() {
		pending[id] = len(g.deps[id])
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]*Node, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, g.nodes[id])

		for child := range g.dependents[id] {
			if pending[child]--; pending[child] == 0 {
				i, _ := slices.BinarySearch(ready, child)
				ready = slices.Insert(ready, i, child)
			}
		}
	}
	return order, nil
}

// GetExecutionLevels groups nodes by depth: level 0 has no dependencies and
// every node of level N depends only on nodes of lower levels, so one level
// can run in parallel once the previous ones are done.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(order))
	var levels [][]string
	for _, n := range order {
		d := 0
		for dep := range g.deps[n.ID] {
			d = max(d, depth[dep]+1)
		}
		depth[n.ID] = d
		if d == len(levels) {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], n.ID)
	}
	for _, level := range levels {
		slices.Sort(level)
	}
	if levels == nil {
		levels = [][]string{}
	}
	return levels, nil
}

// closure walks adjacency from the start ids and returns every id reached,
// the start ids included.
func (g *Graph) closure(start []string, adjacency map[string]set) set {
	seen := set{}
	queue := slices.Clone(start)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		for next := range adjacency[id] {
			queue = append(queue, next)
		}
	}
	return seen
}

// GetAffectedNodes returns the given nodes and all their transitive
// dependents. Unknown ids are ignored.
func (g *Graph) GetAffectedNodes(changedIDs []string) []string {
	known := slices.DeleteFunc(slices.Clone(changedIDs), func(id string) bool {
		_, ok := g.nodes[id]
		return !ok
	})
	return g.closure(known, g.dependents).sortedIDs()
}

// GetUpstreamNodes returns the transitive dependencies of id, excluding id.
func (g *Graph) GetUpstreamNodes(id string) []string {
	up := g.closure(g.GetParents(id), g.deps)
	delete(up, id)
	return up.sortedIDs()
}

// GetRoots returns the nodes without dependencies.
func (g *Graph) GetRoots() []string {
	return g.filter(func(id string) bool { return len(g.deps[id]) == 0 })
}

// GetLeaves returns the nodes without dependents.
func (g *Graph) GetLeaves() []string {
	return g.filter(func(id string) bool { return len(g.dependents[id]) == 0 })
}

// Subgraph returns the graph induced by nodeIDs. Unknown ids are ignored.
func (g *Graph) Subgraph(nodeIDs []string) *Graph {
	sub := NewGraph()
	for _, id := range nodeIDs {
		if n, ok := g.nodes[id]; ok {
			sub.AddNode(id, n.Data).External = n.External
		}
	}
	for id := range sub.nodes {
		for child := range g.dependents[id] {
			if _, ok := sub.nodes[child]; ok {
				_ = sub.AddEdge(id, child)
			}
		}
	}
	return sub
}

func (g *Graph) filter(keep func(id string) bool) []string {
	var out []string
	for _, id := range g.ids() {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) ids() []string {
	return slices.Sorted(maps.Keys(g.nodes))
}
