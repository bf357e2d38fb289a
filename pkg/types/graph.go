package types

import (
	"fmt"
	"sort"
)

// Node is one step in a PipelineGraph.
type Node struct {
	ID       string   `json:"id"`
	Kind     StepKind `json:"kind"`
	TaskName string   `json:"taskName,omitempty"`
	Table    TableRef `json:"table,omitempty"`
	Source   TableRef `json:"source,omitempty"`
	Schema   string   `json:"schema,omitempty"`
	Report   string   `json:"report,omitempty"`
	Upstream string   `json:"upstream,omitempty"`
}

// Edge declares that From must succeed before To starts.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PipelineGraph is a DAG of named steps handed to a workflow engine.
type PipelineGraph struct {
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node returns the node with the given id.
func (g *PipelineGraph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Predecessors returns the ids that must succeed before id, in edge order.
func (g *PipelineGraph) Predecessors(id string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.To == id {
			out = append(out, e.From)
		}
	}
	return out
}

// Successors returns the ids unblocked by id, in edge order.
func (g *PipelineGraph) Successors(id string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}

// ChainID returns the node id for one step of a migration chain.
func ChainID(taskName string, kind StepKind) string {
	return taskName + "_" + string(kind)
}

// Chain returns the seven node ids of a migration chain in execution order.
func (g *PipelineGraph) Chain(taskName string) []string {
	out := make([]string, 0, len(ChainSteps))
	for _, k := range ChainSteps {
		id := ChainID(taskName, k)
		if _, ok := g.Node(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// TopologicalOrder returns node ids so that every edge points forward. Ties
// are broken by declaration order, which keeps the result deterministic.
func (g *PipelineGraph) TopologicalOrder() ([]string, error) {
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if _, dup := index[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %q", n.ID)
		}
		index[n.ID] = i
	}

	inDegree := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		if _, ok := index[e.From]; !ok {
			return nil, fmt.Errorf("edge %s -> %s: unknown node %q", e.From, e.To, e.From)
		}
		if _, ok := index[e.To]; !ok {
			return nil, fmt.Errorf("edge %s -> %s: unknown node %q", e.From, e.To, e.To)
		}
		inDegree[e.To]++
	}

	var ready []string
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unblocked []string
		for _, next := range g.Successors(id) {
			inDegree[next]--
			if inDegree[next] == 0 {
				unblocked = append(unblocked, next)
			}
		}
		sort.SliceStable(unblocked, func(i, j int) bool { return index[unblocked[i]] < index[unblocked[j]] })
		ready = append(ready, unblocked...)
	}

	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("graph %q contains a cycle", g.Name)
	}
	return order, nil
}
