package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamond() *PipelineGraph {
	return &PipelineGraph{
		Name:  "g",
		Nodes: []Node{{ID: "start"}, {ID: "b"}, {ID: "a"}, {ID: "join"}},
		Edges: []Edge{
			{From: "start", To: "b"},
			{From: "start", To: "a"},
			{From: "a", To: "join"},
			{From: "b", To: "join"},
		},
	}
}

func TestPipelineGraph_Neighbours(t *testing.T) {
	g := diamond()
	assert.Equal(t, []string{"b", "a"}, g.Successors("start"))
	assert.Equal(t, []string{"a", "b"}, g.Predecessors("join"))
	assert.Empty(t, g.Predecessors("start"))

	n, ok := g.Node("a")
	assert.True(t, ok)
	assert.Equal(t, "a", n.ID)
	_, ok = g.Node("missing")
	assert.False(t, ok)
}

func TestPipelineGraph_TopologicalOrder(t *testing.T) {
	order, err := diamond().TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "b", "a", "join"}, order)
}

func TestPipelineGraph_TopologicalOrderCycle(t *testing.T) {
	g := &PipelineGraph{
		Name:  "loop",
		Nodes: []Node{{ID: "a"}, {ID: "b"}},
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	_, err := g.TopologicalOrder()
	assert.ErrorContains(t, err, "cycle")
}

func TestPipelineGraph_TopologicalOrderDanglingEdge(t *testing.T) {
	g := &PipelineGraph{Nodes: []Node{{ID: "a"}}, Edges: []Edge{{From: "a", To: "ghost"}}}
	_, err := g.TopologicalOrder()
	assert.ErrorContains(t, err, "ghost")
}

func TestPipelineGraph_TopologicalOrderDuplicateNode(t *testing.T) {
	g := &PipelineGraph{Nodes: []Node{{ID: "a"}, {ID: "a"}}}
	_, err := g.TopologicalOrder()
	assert.ErrorContains(t, err, "duplicate")
}

func TestPipelineGraph_Chain(t *testing.T) {
	g := &PipelineGraph{}
	for _, k := range ChainSteps {
		g.Nodes = append(g.Nodes, Node{ID: ChainID("orders", k), Kind: k, TaskName: "orders"})
	}
	chain := g.Chain("orders")
	require.Len(t, chain, 7)
	assert.Equal(t, "orders_drop_transient_table_if_exists", chain[0])
	assert.Equal(t, "orders_append_to_datalake", chain[6])
	assert.Empty(t, g.Chain("users"))
}
