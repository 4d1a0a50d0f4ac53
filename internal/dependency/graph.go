package dependency

import (
	"fmt"
	"sort"
	"strings"
)

// NodeID is the unique identifier for a node inside a dependency graph.
// The planner uses resource keys rendered as Kind/namespace/name.
type NodeID string

// Node is one vertex together with its dependency list. A node depends on
// zero or more other nodes; edges to IDs that are not in the graph are kept
// but ignored by ordering queries.
type Node struct {
	ID        NodeID
	DependsOn []NodeID
}

// Graph answers dependency queries. It is *not* thread-safe; callers must
// synchronise if they write concurrently.
type Graph struct {
	nodes map[NodeID]*Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds (or replaces) a node in the graph.
func (g *Graph) AddNode(n Node) {
	if g.nodes == nil {
		g.nodes = make(map[NodeID]*Node)
	}
	copied := Node{ID: n.ID}
	seen := make(map[NodeID]bool, len(n.DependsOn))
	for _, dep := range n.DependsOn {
		if !seen[dep] {
			seen[dep] = true
			copied.DependsOn = append(copied.DependsOn, dep)
		}
	}
	g.nodes[n.ID] = &copied
}

// AddEdge records that from depends on to. Both nodes are created if needed.
// Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to NodeID) {
	if _, ok := g.nodes[to]; !ok {
		g.AddNode(Node{ID: to})
	}
	n, ok := g.nodes[from]
	if !ok {
		g.AddNode(Node{ID: from, DependsOn: []NodeID{to}})
		return
	}
	for _, dep := range n.DependsOn {
		if dep == to {
			return
		}
	}
	n.DependsOn = append(n.DependsOn, to)
}

// Get returns a pointer to the stored node or nil if it does not exist.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependencies returns a slice of immediate dependency IDs for the given node.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	if n, ok := g.nodes[id]; ok {
		depsCopy := make([]NodeID, len(n.DependsOn))
		copy(depsCopy, n.DependsOn)
		return depsCopy
	}
	return nil
}

// Dependents returns all node IDs that have a direct dependency on the given
// node, sorted.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var res []NodeID
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if dep == id {
				res = append(res, n.ID)
				break
			}
		}
	}
	sortIDs(res)
	return res
}

// TransitiveDependents returns every node that depends on id directly or
// through other nodes, sorted.
func (g *Graph) TransitiveDependents(id NodeID) []NodeID {
	seen := map[NodeID]bool{id: true}
	queue := []NodeID{id}
	var res []NodeID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.Dependents(cur) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			res = append(res, dep)
			queue = append(queue, dep)
		}
	}
	sortIDs(res)
	return res
}

// CycleError is returned when the graph is not acyclic.
type CycleError struct {
	// Cycle lists the nodes of one cycle in dependency order, starting and
	// ending with the same node.
	Cycle []NodeID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = string(id)
	}
	return fmt.Sprintf("dependency cycle: %s", strings.Join(parts, " -> "))
}

// Levels groups nodes so that every node only depends on nodes of earlier
// levels. Nodes inside a level are sorted. It returns a *CycleError when no
// such grouping exists.
func (g *Graph) Levels() ([][]NodeID, error) {
	remaining := make(map[NodeID]int, len(g.nodes))
	for id, n := range g.nodes {
		count := 0
		for _, dep := range n.DependsOn {
			if _, ok := g.nodes[dep]; ok && dep != id {
				count++
			} else if dep == id {
				return nil, &CycleError{Cycle: []NodeID{id, id}}
			}
		}
		remaining[id] = count
	}

	var levels [][]NodeID
	placed := 0
	for placed < len(g.nodes) {
		var level []NodeID
		for id, count := range remaining {
			if count == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			return nil, &CycleError{Cycle: g.findCycle(remaining)}
		}
		sortIDs(level)
		for _, id := range level {
			delete(remaining, id)
		}
		for _, id := range level {
			for _, dependent := range g.Dependents(id) {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}
		levels = append(levels, level)
		placed += len(level)
	}
	return levels, nil
}

// findCycle walks unplaced nodes until one repeats.
func (g *Graph) findCycle(remaining map[NodeID]int) []NodeID {
	candidates := make([]NodeID, 0, len(remaining))
	for id := range remaining {
		candidates = append(candidates, id)
	}
	sortIDs(candidates)
	index := map[NodeID]int{}
	var path []NodeID
	cur := candidates[0]
	for {
		if i, ok := index[cur]; ok {
			return append(path[i:], cur)
		}
		index[cur] = len(path)
		path = append(path, cur)

		var next NodeID
		deps := g.Dependencies(cur)
		sortIDs(deps)
		for _, dep := range deps {
			if _, ok := remaining[dep]; ok {
				next = dep
				break
			}
		}
		if next == "" {
			// unreachable: every unplaced node has an unplaced dependency
			return path
		}
		cur = next
	}
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
