package graph

import (
	"fmt"
	"sort"
)

type Node interface {
	// Name of the node
	Name() string

	// Names of the nodes that must complete before this node
	Dependencies() []string
}

// Graph models the wave dependency relation of a recovery plan. The relation
// must form a DAG; Validate and TopologicalSort both reject cycles.
type Graph struct {
	nodes  map[string]Node
	sorted []string
}

// New creates a new Graph from a list of nodes
func New(nodes []Node) *Graph {
	nodeMap := make(map[string]Node, len(nodes))
	for _, node := range nodes {
		nodeMap[node.Name()] = node
	}
	return &Graph{nodes: nodeMap}
}

// Get returns a node by name.
func (g *Graph) Get(name string) (Node, bool) {
	node, ok := g.nodes[name]
	return node, ok
}

// Validate checks that every dependency references a node in the graph and
// that the relation is acyclic.
func (g *Graph) Validate() error {
	for name, node := range g.nodes {
		for _, dep := range node.Dependencies() {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("node %q depends on unknown node %q", name, dep)
			}
		}
	}
	_, err := g.TopologicalSort()
	return err
}

// TopologicalSort returns a topological order of the nodes, using Kahn's
// algorithm. Ties are broken by name so the order is deterministic.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return []string{}, nil
	}
	if g.sorted != nil {
		return g.sorted, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node.Name()] = len(node.Dependencies())
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	if len(queue) == 0 {
		return nil, fmt.Errorf("invalid node dependencies: no starting point")
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		var unlocked []string
		for name, node := range g.nodes {
			for _, dep := range node.Dependencies() {
				if dep == current {
					inDegree[name]--
					if inDegree[name] == 0 {
						unlocked = append(unlocked, name)
					}
				}
			}
		}
		sort.Strings(unlocked)
		queue = append(queue, unlocked...)
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("invalid node dependencies: cycle detected")
	}
	g.sorted = result
	return result, nil
}

// Ready returns the names of nodes whose dependencies are all in the done
// set and which are not themselves done, sorted by name. Independent branches
// of the DAG surface together and may run concurrently.
func (g *Graph) Ready(done map[string]bool) []string {
	var ready []string
	for name, node := range g.nodes {
		if done[name] {
			continue
		}
		eligible := true
		for _, dep := range node.Dependencies() {
			if !done[dep] {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	return ready
}
