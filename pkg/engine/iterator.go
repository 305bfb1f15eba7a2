package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/node"
)

// iteratorContext lets an iterator node drive repeated execution of its body
// sub-graph. It is bound to one iterator node and its owning executor. Each
// iteration runs on a fresh sub-executor sharing the owner's chain, pool,
// sink, and progress controller, with a child cache parented to the owner's.
type iteratorContext struct {
	owner *Executor
	iter  *graph.Node
	body  *graph.SubChain
	scope *graph.InputMap
}

var _ node.IteratorContext = (*iteratorContext)(nil)

func newIteratorContext(e *Executor, n *graph.Node) *iteratorContext {
	return &iteratorContext{
		owner: e,
		iter:  n,
		body:  e.chain.SubChain(n.ID),
		scope: e.inputs.Child(),
	}
}

// Helper locates the single body node carrying the given schema id. A
// missing helper is a contract violation in the graph's construction and
// fails the run.
func (ic *iteratorContext) Helper(schemaID string) (graph.NodeID, error) {
	for _, n := range ic.body.Nodes() {
		if n.SchemaID == schemaID {
			return n.ID, nil
		}
	}
	return 0, fmt.Errorf("iterator %d: no body node with schema %q", ic.iter.ID, schemaID)
}

// Inject binds a raw per-item value to a body node's input slot for the
// current iteration. The value bypasses enforcement: it is engine-supplied,
// not client input.
func (ic *iteratorContext) Inject(id graph.NodeID, inputIndex int, value interface{}) {
	ic.scope.Override(id, inputIndex, graph.Literal(value))
}

// Run drives the iteration loop. Per-item failures other than an abort are
// collected and raised as one aggregate error after the loop; an abort stops
// the loop immediately and propagates unchanged. A false return from the
// before hook ends the loop early without error.
func (ic *iteratorContext) Run(ctx context.Context, items []interface{}, before node.BeforeFunc) error {
	total := len(items)
	if total == 0 {
		// Nothing to iterate; still report the loop as complete so progress
		// consumers see it reach 100%.
		ic.emitProgress(ctx, 1, nil)
		return nil
	}
	bodyIDs := ic.bodyNodeIDs()

	var failures []error
	for i, item := range items {
		if err := ic.owner.controller.Suspend(ctx); err != nil {
			return err
		}
		if before != nil && !before(item, i) {
			break
		}

		ic.emitProgress(ctx, float64(i)/float64(total), bodyIDs)

		sub := ic.owner.newSubExecutor(ic.scope)
		if err := sub.runSubChain(ctx, ic.body); err != nil {
			if errors.Is(err, ErrAborted) {
				return err
			}
			ic.owner.logger.Warn("iteration failed",
				zap.Int("iterator", int(ic.iter.ID)),
				zap.Int("item", i),
				zap.Error(err))
			failures = append(failures, fmt.Errorf("item %d: %w", i, err))
		}

		ic.emitProgress(ctx, float64(i+1)/float64(total), nil)
	}

	if len(failures) > 0 {
		return &IterationError{Iterator: ic.iter.ID, Total: total, Failures: failures}
	}
	return nil
}

func (ic *iteratorContext) bodyNodeIDs() []graph.NodeID {
	nodes := ic.body.Nodes()
	ids := make([]graph.NodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func (ic *iteratorContext) emitProgress(ctx context.Context, percent float64, running []graph.NodeID) {
	ic.owner.publish(ctx, events.NewIteratorProgress(ic.owner.runID, ic.iter.ID, percent, running))
}
