package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/node"
)

// listIterator drives its body once per element of its "items" input,
// injecting the element into the body's helper node.
func listIterator(helperSchema string) *fakeIterator {
	return &fakeIterator{
		inputs: []node.InputPort{{Name: "items"}},
		runIter: func(ctx context.Context, inputs []interface{}, ic node.IteratorContext) error {
			items, ok := inputs[0].([]interface{})
			if !ok {
				return fmt.Errorf("items must be a list, got %T", inputs[0])
			}
			helper, err := ic.Helper(helperSchema)
			if err != nil {
				return err
			}
			return ic.Run(ctx, items, func(item interface{}, _ int) bool {
				ic.Inject(helper, 0, item)
				return true
			})
		},
	}
}

// itemHelper passes the injected value through as its single output.
func itemHelper() *fakeNode {
	return &fakeNode{
		kind:    node.KindIteratorHelper,
		inputs:  []node.InputPort{{Name: "item", Optional: true}},
		outputs: []node.OutputPort{{Name: "item"}},
		run: func(_ context.Context, inputs []interface{}) ([]interface{}, error) {
			return []interface{}{inputs[0]}, nil
		},
	}
}

func items(values ...interface{}) []interface{} { return values }

func TestIterationRunsBodyPerItem(t *testing.T) {
	h := newHarness(t)
	var seen []interface{}
	register(h.registry, "iter", listIterator("item"))
	register(h.registry, "item", itemHelper())
	register(h.registry, "consume", consumer(&seen, nil))

	chain := graph.NewChain()
	_, err := chain.AddNode(1, "iter", graph.KindIterator)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(2, "item", graph.KindFunction, 1)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(3, "consume", graph.KindFunction, 1)
	require.NoError(t, err)
	require.NoError(t, chain.Connect(2, 0, 3, 0))

	inputs := graph.NewInputMap()
	inputs.Set(1, graph.Literal(items("a", "b", "c")))
	inputs.Set(3, graph.FromNode(2, 0))

	exec := h.executor(t, chain, inputs)
	require.NoError(t, exec.Run(context.Background()))
	assert.Equal(t, items("a", "b", "c"), seen)

	// The iterator itself emits a node-finish once the loop completes.
	var iterFinished bool
	for _, e := range h.sink.OfType(events.TypeNodeFinish) {
		if e.NodeFinish.NodeID == 1 {
			iterFinished = true
		}
	}
	assert.True(t, iterFinished)
}

func TestFreeFeederIsComputedOnceAcrossIterations(t *testing.T) {
	// Free node 1 feeds the body of iterator 2. Its static value must be
	// computed by the first iteration and served from cache to the other nine.
	h := newHarness(t)
	var feederCalls, consumerCalls atomic.Int32
	register(h.registry, "feeder", producer("shared", &feederCalls))
	register(h.registry, "consume", consumer(nil, &consumerCalls))
	register(h.registry, "iter", &fakeIterator{
		inputs: []node.InputPort{{Name: "items"}},
		runIter: func(ctx context.Context, inputs []interface{}, ic node.IteratorContext) error {
			return ic.Run(ctx, inputs[0].([]interface{}), nil)
		},
	})

	chain := graph.NewChain()
	_, err := chain.AddNode(1, "feeder", graph.KindFunction)
	require.NoError(t, err)
	_, err = chain.AddNode(2, "iter", graph.KindIterator)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(3, "consume", graph.KindFunction, 2)
	require.NoError(t, err)
	require.NoError(t, chain.Connect(1, 0, 3, 0))

	tenItems := make([]interface{}, 10)
	inputs := graph.NewInputMap()
	inputs.Set(2, graph.Literal(tenItems))
	inputs.Set(3, graph.FromNode(1, 0))

	exec := h.executor(t, chain, inputs)
	require.NoError(t, exec.Run(context.Background()))

	assert.Equal(t, int32(1), feederCalls.Load())
	assert.Equal(t, int32(10), consumerCalls.Load())
}

func TestIterationFailuresAreAggregated(t *testing.T) {
	h := newHarness(t)
	var succeeded []interface{}
	failing := &fakeNode{
		inputs:      []node.InputPort{{Name: "in"}},
		sideEffects: true,
		run: func(_ context.Context, inputs []interface{}) ([]interface{}, error) {
			v := inputs[0].(string)
			if v == "b" || v == "d" {
				return nil, fmt.Errorf("cannot handle %q", v)
			}
			succeeded = append(succeeded, v)
			return []interface{}{}, nil
		},
	}
	register(h.registry, "iter", listIterator("item"))
	register(h.registry, "item", itemHelper())
	register(h.registry, "failing", failing)

	chain := graph.NewChain()
	_, err := chain.AddNode(1, "iter", graph.KindIterator)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(2, "item", graph.KindFunction, 1)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(3, "failing", graph.KindFunction, 1)
	require.NoError(t, err)
	require.NoError(t, chain.Connect(2, 0, 3, 0))

	inputs := graph.NewInputMap()
	inputs.Set(1, graph.Literal(items("a", "b", "c", "d", "e")))
	inputs.Set(3, graph.FromNode(2, 0))

	exec := h.executor(t, chain, inputs)
	err = exec.Run(context.Background())

	// Failing items do not stop their siblings; the failures surface once,
	// aggregated, after the loop.
	assert.Equal(t, items("a", "c", "e"), succeeded)

	var iterErr *IterationError
	require.ErrorAs(t, err, &iterErr)
	assert.Equal(t, graph.NodeID(1), iterErr.Iterator)
	assert.Equal(t, 5, iterErr.Total)
	require.Len(t, iterErr.Failures, 2)
	assert.Contains(t, iterErr.Error(), "item 1")
	assert.Contains(t, iterErr.Error(), "item 3")
}

func TestIterationProgressEvents(t *testing.T) {
	h := newHarness(t)
	register(h.registry, "iter", listIterator("item"))
	register(h.registry, "item", itemHelper())
	register(h.registry, "consume", consumer(nil, nil))

	chain := graph.NewChain()
	_, err := chain.AddNode(1, "iter", graph.KindIterator)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(2, "item", graph.KindFunction, 1)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(3, "consume", graph.KindFunction, 1)
	require.NoError(t, err)
	require.NoError(t, chain.Connect(2, 0, 3, 0))

	inputs := graph.NewInputMap()
	inputs.Set(1, graph.Literal(items("x", "y")))
	inputs.Set(3, graph.FromNode(2, 0))

	exec := h.executor(t, chain, inputs)
	require.NoError(t, exec.Run(context.Background()))

	progressEvents := h.sink.OfType(events.TypeIteratorProgress)
	require.Len(t, progressEvents, 4)

	// Before/after pair per item: the "before" carries the running body ids,
	// the "after" does not.
	assert.Equal(t, 0.0, progressEvents[0].IteratorProgress.Percent)
	assert.NotEmpty(t, progressEvents[0].IteratorProgress.RunningNodeIDs)
	assert.Equal(t, 0.5, progressEvents[1].IteratorProgress.Percent)
	assert.Empty(t, progressEvents[1].IteratorProgress.RunningNodeIDs)
	assert.Equal(t, 0.5, progressEvents[2].IteratorProgress.Percent)
	assert.Equal(t, 1.0, progressEvents[3].IteratorProgress.Percent)
	for _, e := range progressEvents {
		assert.Equal(t, graph.NodeID(1), e.IteratorProgress.IteratorID)
	}
}

func TestEmptyIterationReportsCompletion(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	register(h.registry, "iter", listIterator("item"))
	register(h.registry, "item", itemHelper())
	register(h.registry, "consume", consumer(nil, &calls))

	chain := graph.NewChain()
	_, err := chain.AddNode(1, "iter", graph.KindIterator)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(2, "item", graph.KindFunction, 1)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(3, "consume", graph.KindFunction, 1)
	require.NoError(t, err)
	require.NoError(t, chain.Connect(2, 0, 3, 0))

	inputs := graph.NewInputMap()
	inputs.Set(1, graph.Literal(items()))
	inputs.Set(3, graph.FromNode(2, 0))

	exec := h.executor(t, chain, inputs)
	require.NoError(t, exec.Run(context.Background()))
	assert.Zero(t, calls.Load())

	// An empty loop still reaches 100%: one progress event, no running body.
	progressEvents := h.sink.OfType(events.TypeIteratorProgress)
	require.Len(t, progressEvents, 1)
	assert.Equal(t, graph.NodeID(1), progressEvents[0].IteratorProgress.IteratorID)
	assert.Equal(t, 1.0, progressEvents[0].IteratorProgress.Percent)
	assert.Empty(t, progressEvents[0].IteratorProgress.RunningNodeIDs)
}

func TestBeforeHookEndsLoopEarly(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	register(h.registry, "consume", consumer(nil, &calls))
	register(h.registry, "iter", &fakeIterator{
		inputs: []node.InputPort{{Name: "items"}},
		runIter: func(ctx context.Context, inputs []interface{}, ic node.IteratorContext) error {
			return ic.Run(ctx, inputs[0].([]interface{}), func(_ interface{}, index int) bool {
				return index < 2
			})
		},
	})

	chain := graph.NewChain()
	_, err := chain.AddNode(1, "iter", graph.KindIterator)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(2, "consume", graph.KindFunction, 1)
	require.NoError(t, err)

	inputs := graph.NewInputMap()
	inputs.Set(1, graph.Literal(items(0, 1, 2, 3, 4)))
	inputs.Set(2, graph.Literal("fixed"))

	exec := h.executor(t, chain, inputs)
	require.NoError(t, exec.Run(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestAbortStopsIterationImmediately(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	aborting := &fakeNode{
		inputs:      []node.InputPort{{Name: "in", Optional: true}},
		sideEffects: true,
		run: func(context.Context, []interface{}) ([]interface{}, error) {
			calls.Add(1)
			h.controller.Abort()
			return []interface{}{}, nil
		},
	}
	register(h.registry, "aborting", aborting)
	register(h.registry, "iter", &fakeIterator{
		inputs: []node.InputPort{{Name: "items"}},
		runIter: func(ctx context.Context, inputs []interface{}, ic node.IteratorContext) error {
			return ic.Run(ctx, inputs[0].([]interface{}), nil)
		},
	})

	chain := graph.NewChain()
	_, err := chain.AddNode(1, "iter", graph.KindIterator)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(2, "aborting", graph.KindFunction, 1)
	require.NoError(t, err)

	inputs := graph.NewInputMap()
	inputs.Set(1, graph.Literal(items("a", "b", "c")))

	exec := h.executor(t, chain, inputs)
	err = exec.Run(context.Background())

	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, int32(1), calls.Load(), "no further iteration after abort")

	var iterErr *IterationError
	assert.False(t, errors.As(err, &iterErr), "an abort is not an iteration failure")
}

func TestHelperLookupFailsForUnknownSchema(t *testing.T) {
	h := newHarness(t)
	register(h.registry, "iter", listIterator("nonexistent"))
	register(h.registry, "item", itemHelper())

	chain := graph.NewChain()
	_, err := chain.AddNode(1, "iter", graph.KindIterator)
	require.NoError(t, err)
	_, err = chain.AddBodyNode(2, "item", graph.KindFunction, 1)
	require.NoError(t, err)

	inputs := graph.NewInputMap()
	inputs.Set(1, graph.Literal(items("a")))

	exec := h.executor(t, chain, inputs)
	err = exec.Run(context.Background())

	var nodeErr *NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, nodeErr.Error(), "nonexistent")
}
