// Package graph defines the static structure of a pipeline: an owned DAG of
// nodes plus the input bindings that feed them. The engine walks this
// structure; it never mutates it after construction.
package graph

import (
	"errors"
	"fmt"
)

// NodeID identifies a node within a chain.
type NodeID int

// Kind distinguishes plain function nodes from iterator nodes that drive a
// nested body sub-graph.
type Kind int

const (
	KindFunction Kind = iota
	KindIterator
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindIterator:
		return "iterator"
	default:
		return "unknown"
	}
}

// Common errors returned by chain construction and validation.
var (
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrUnknownNode   = errors.New("unknown node id")
	ErrCyclicChain   = errors.New("chain contains a cycle")
)

// Node is one processing step in a chain. Parent is non-nil iff the node
// lives inside an iterator's body; such nodes are only executed by that
// iterator's sub-executions. Nodes are immutable once added to a chain.
type Node struct {
	ID       NodeID
	SchemaID string
	Kind     Kind
	Parent   *NodeID
}

// Free reports whether the node is a top-level node, owned by no iterator.
func (n *Node) Free() bool {
	return n.Parent == nil
}

// Edge connects one node's output slot to another node's input slot.
type Edge struct {
	Source      NodeID
	OutputIndex int
	Target      NodeID
	InputIndex  int
}

// Chain is an owned, directed multigraph of nodes. It must be a DAG;
// Validate rejects cycles before any execution begins.
type Chain struct {
	nodes    map[NodeID]*Node
	order    []NodeID
	outgoing map[NodeID][]Edge
	incoming map[NodeID][]Edge
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{
		nodes:    make(map[NodeID]*Node),
		outgoing: make(map[NodeID][]Edge),
		incoming: make(map[NodeID][]Edge),
	}
}

// AddNode inserts a free node into the chain.
func (c *Chain) AddNode(id NodeID, schemaID string, kind Kind) (*Node, error) {
	return c.add(id, schemaID, kind, nil)
}

// AddBodyNode inserts a node owned by the given iterator. The owner does not
// have to exist yet; Validate checks ownership consistency.
func (c *Chain) AddBodyNode(id NodeID, schemaID string, kind Kind, owner NodeID) (*Node, error) {
	return c.add(id, schemaID, kind, &owner)
}

func (c *Chain) add(id NodeID, schemaID string, kind Kind, parent *NodeID) (*Node, error) {
	if _, exists := c.nodes[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, id)
	}
	n := &Node{ID: id, SchemaID: schemaID, Kind: kind, Parent: parent}
	c.nodes[id] = n
	c.order = append(c.order, id)
	return n, nil
}

// Connect adds an edge from source's outputIndex to target's inputIndex.
func (c *Chain) Connect(source NodeID, outputIndex int, target NodeID, inputIndex int) error {
	if _, ok := c.nodes[source]; !ok {
		return fmt.Errorf("%w: edge source %d", ErrUnknownNode, source)
	}
	if _, ok := c.nodes[target]; !ok {
		return fmt.Errorf("%w: edge target %d", ErrUnknownNode, target)
	}
	e := Edge{Source: source, OutputIndex: outputIndex, Target: target, InputIndex: inputIndex}
	c.outgoing[source] = append(c.outgoing[source], e)
	c.incoming[target] = append(c.incoming[target], e)
	return nil
}

// Node returns the node with the given id.
func (c *Chain) Node(id NodeID) (*Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (c *Chain) Nodes() []*Node {
	out := make([]*Node, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.nodes[id])
	}
	return out
}

// FreeNodes returns the top-level nodes in insertion order.
func (c *Chain) FreeNodes() []*Node {
	var out []*Node
	for _, id := range c.order {
		if n := c.nodes[id]; n.Free() {
			out = append(out, n)
		}
	}
	return out
}

// Outgoing returns the edges leaving the given node.
func (c *Chain) Outgoing(id NodeID) []Edge {
	return c.outgoing[id]
}

// Incoming returns the edges arriving at the given node.
func (c *Chain) Incoming(id NodeID) []Edge {
	return c.incoming[id]
}

// SubChain returns the read-only view of the body owned by the given
// iterator node.
func (c *Chain) SubChain(owner NodeID) *SubChain {
	return &SubChain{chain: c, owner: owner}
}

// Validate checks structural integrity: every body node references an
// existing iterator node, and the edge set is acyclic. It must be called
// before execution; running a cyclic chain is a programmer error.
func (c *Chain) Validate() error {
	for _, id := range c.order {
		n := c.nodes[id]
		if n.Parent == nil {
			continue
		}
		owner, ok := c.nodes[*n.Parent]
		if !ok {
			return fmt.Errorf("%w: node %d references missing iterator %d", ErrUnknownNode, id, *n.Parent)
		}
		if owner.Kind != KindIterator {
			return fmt.Errorf("node %d is owned by non-iterator node %d", id, owner.ID)
		}
	}
	return c.checkAcyclic()
}

// checkAcyclic runs a three-color depth-first search over the edge set.
func (c *Chain) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(c.nodes))

	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		color[id] = gray
		for _, e := range c.outgoing[id] {
			switch color[e.Target] {
			case gray:
				return fmt.Errorf("%w: via node %d", ErrCyclicChain, e.Target)
			case white:
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range c.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// SubChain is a filtered view of a chain restricted to one iterator's body.
// It does not copy nodes; the underlying chain stays the single owner.
type SubChain struct {
	chain *Chain
	owner NodeID
}

// Owner returns the iterator node id this view belongs to.
func (s *SubChain) Owner() NodeID {
	return s.owner
}

// Chain returns the underlying chain.
func (s *SubChain) Chain() *Chain {
	return s.chain
}

// Nodes returns the body nodes in insertion order.
func (s *SubChain) Nodes() []*Node {
	var out []*Node
	for _, id := range s.chain.order {
		n := s.chain.nodes[id]
		if n.Parent != nil && *n.Parent == s.owner {
			out = append(out, n)
		}
	}
	return out
}
