// Package cache decides how long each node's output is retained during a run
// and provides the hierarchical memo store the executors share.
package cache

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// StrategyKind enumerates the retention policies.
type StrategyKind int

const (
	// KindNoCache drops the value immediately after the broadcast step.
	KindNoCache StrategyKind = iota
	// KindCounted retains the value for a fixed number of reads.
	KindCounted
	// KindStatic retains the value for the whole run.
	KindStatic
)

// Strategy is the retention policy for one node's output, derived once per
// chain before any node runs.
type Strategy struct {
	Kind StrategyKind
	// Hits is the number of reads a counted value survives. Zero for the
	// other kinds.
	Hits int
}

// NoCache returns the drop-immediately strategy.
func NoCache() Strategy {
	return Strategy{Kind: KindNoCache}
}

// Counted returns a strategy retaining the value for n reads. Non-positive n
// degenerates to NoCache.
func Counted(n int) Strategy {
	if n <= 0 {
		return NoCache()
	}
	return Strategy{Kind: KindCounted, Hits: n}
}

// Static returns the whole-run retention strategy.
func Static() Strategy {
	return Strategy{Kind: KindStatic}
}

func (s Strategy) String() string {
	switch s.Kind {
	case KindStatic:
		return "static"
	case KindCounted:
		return fmt.Sprintf("counted(%d)", s.Hits)
	default:
		return "nocache"
	}
}

// DeriveStrategies computes the retention policy for every node in the chain.
//
// A free node with at least one consumer inside an iterator body is static:
// the iterator re-executes its body many times and the upstream value must
// survive all of them. Every other node is counted by its number of outgoing
// edges; a node nobody consumes is not retained at all.
//
// The returned table is computed once per run and shared read-only by the
// root executor and all of its sub-executors.
func DeriveStrategies(chain *graph.Chain) map[graph.NodeID]Strategy {
	strategies := make(map[graph.NodeID]Strategy)
	for _, n := range chain.Nodes() {
		out := chain.Outgoing(n.ID)
		if n.Free() && feedsIteratorBody(chain, out) {
			strategies[n.ID] = Static()
			continue
		}
		strategies[n.ID] = Counted(len(out))
	}
	return strategies
}

func feedsIteratorBody(chain *graph.Chain, edges []graph.Edge) bool {
	for _, e := range edges {
		if target, ok := chain.Node(e.Target); ok && !target.Free() {
			return true
		}
	}
	return false
}
