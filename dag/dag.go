// Package dag holds the step graph of a saga definition.
//
// Steps are nodes named after the step; an edge from a to b means b runs after
// a. Ordering is recovered with a stable topological sort so the execution
// order is deterministic for any graph shape.
package dag

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type Graph struct {
	*simple.DirectedGraph
	attrs  encoding.Attributes
	byName map[string]*Node
	last   *Node
}

func New() *Graph {
	g := &Graph{
		DirectedGraph: simple.NewDirectedGraph(),
		byName:        make(map[string]*Node),
	}
	_ = g.attrs.SetAttribute(encoding.Attribute{Key: "rankdir", Value: "LR"})
	return g
}

// Node is a named step in the graph.
type Node struct {
	graph.Node
	name  string
	attrs encoding.Attributes
}

func (n *Node) Name() string { return n.name }

// DOTID makes the step name the node identifier in DOT output.
func (n *Node) DOTID() string { return n.name }

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// Append adds a node named name that runs after the previously appended node.
func (g *Graph) Append(name, label string) (*Node, error) {
	if _, exists := g.byName[name]; exists {
		return nil, fmt.Errorf("node with name '%s' already exists", name)
	}

	n := &Node{Node: g.DirectedGraph.NewNode(), name: name}
	if label != "" {
		if err := n.SetAttribute(encoding.Attribute{Key: "label", Value: label}); err != nil {
			return nil, err
		}
	}
	g.AddNode(n)
	g.byName[name] = n

	if g.last != nil {
		g.SetEdge(g.DirectedGraph.NewEdge(g.last, n))
	}
	g.last = n
	return n, nil
}

// Lookup returns the node with the given name.
func (g *Graph) Lookup(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Order returns node names in execution order. Ties are broken by node ID,
// which is insertion order.
func (g *Graph) Order() ([]string, error) {
	sorted, err := topo.SortStabilized(g.DirectedGraph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}

	names := make([]string, 0, len(sorted))
	for _, n := range sorted {
		named, ok := n.(*Node)
		if !ok {
			return nil, fmt.Errorf("unexpected node type %T", n)
		}
		names = append(names, named.name)
	}
	return names, nil
}

// DOTAttributers supplies the top-level graph attributes for DOT output.
func (g *Graph) DOTAttributers() (graphAttrs, nodeAttrs, edgeAttrs encoding.Attributer) {
	return &g.attrs, &encoding.Attributes{}, &encoding.Attributes{}
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot(name string) (string, error) {
	data, err := dot.Marshal(g, name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export graph to DOT format: %w", err)
	}
	return string(data), nil
}
