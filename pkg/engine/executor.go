// Package engine contains the orchestrator of a run: it resolves node inputs
// recursively, offloads blocking node bodies to the worker pool, memoizes
// outputs in the hierarchical cache, and emits lifecycle events. Graph
// traversal and cache bookkeeping stay on one logical goroutine per
// executor; concurrency comes only from the worker pool and the broadcast
// tasks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/cache"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/progress"
	"github.com/wehubfusion/Daedalus/pkg/worker"
)

// Config assembles an executor for one run.
type Config struct {
	// RunID correlates events with the client's run. Required.
	RunID string
	// Chain is the validated pipeline graph. Required.
	Chain *graph.Chain
	// Inputs binds literal values and edges to node input slots. Required.
	Inputs *graph.InputMap
	// Registry resolves schema ids to node implementations. Required.
	Registry *node.Registry
	// Pool runs blocking node bodies. Required; shared across runs.
	Pool *worker.Pool
	// Sink receives lifecycle events. Defaults to events.Discard.
	Sink events.Sink
	// Controller is the shared pause/abort token. A fresh one is created
	// when nil.
	Controller *progress.Controller
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Executor drives one execution scope: the whole run for the root executor,
// or one iterator iteration for a sub-executor. Sub-executors share the
// chain, registry, strategy table, pool, sink, and controller with their
// parent; each has its own child cache.
type Executor struct {
	runID      string
	chain      *graph.Chain
	inputs     *graph.InputMap
	registry   *node.Registry
	strategies map[graph.NodeID]cache.Strategy
	cache      *cache.OutputCache
	pool       *worker.Pool
	sink       events.Sink
	controller *progress.Controller
	logger     *zap.Logger

	// parent is non-nil for sub-executors created per iterator iteration.
	parent *Executor

	broadcasts sync.WaitGroup
	running    atomic.Bool
}

// New creates the root executor for a run. The chain is validated and the
// cache strategy table derived here, once, before any node runs.
func New(cfg Config) (*Executor, error) {
	if cfg.Chain == nil {
		return nil, errors.New("chain cannot be nil")
	}
	if cfg.Inputs == nil {
		return nil, errors.New("input map cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if cfg.Pool == nil {
		return nil, errors.New("worker pool cannot be nil")
	}
	if err := cfg.Chain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chain: %w", err)
	}

	sink := cfg.Sink
	if sink == nil {
		sink = events.Discard
	}
	controller := cfg.Controller
	if controller == nil {
		controller = progress.NewController()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		runID:      cfg.RunID,
		chain:      cfg.Chain,
		inputs:     cfg.Inputs,
		registry:   cfg.Registry,
		strategies: cache.DeriveStrategies(cfg.Chain),
		cache:      cache.NewOutputCache(logger),
		pool:       cfg.Pool,
		sink:       sink,
		controller: controller,
		logger:     logger,
	}, nil
}

// newSubExecutor creates the executor for one iterator iteration. It shares
// everything with its parent except the input scope and the cache, which is
// a child of the parent's.
func (e *Executor) newSubExecutor(scope *graph.InputMap) *Executor {
	return &Executor{
		runID:      e.runID,
		chain:      e.chain,
		inputs:     scope,
		registry:   e.registry,
		strategies: e.strategies,
		cache:      e.cache.NewChild(),
		pool:       e.pool,
		sink:       e.sink,
		controller: e.controller,
		logger:     e.logger,
		parent:     e,
	}
}

// RunID returns the run identifier events are stamped with.
func (e *Executor) RunID() string { return e.runID }

// Controller returns the shared pause/abort token.
func (e *Executor) Controller() *progress.Controller { return e.controller }

// Pause blocks the run at its next suspension point.
func (e *Executor) Pause() { e.controller.Pause() }

// Resume releases a paused run.
func (e *Executor) Resume() { e.controller.Resume() }

// Kill aborts the run. Irreversible; in-flight node bodies finish but no
// further ones are dispatched.
func (e *Executor) Kill() { e.controller.Abort() }

// IsRunning reports whether Run is in progress on this executor.
func (e *Executor) IsRunning() bool { return e.running.Load() }

// IsPaused reports whether the run is paused.
func (e *Executor) IsPaused() bool { return e.controller.Paused() }

// IsAborted reports whether the run has been aborted.
func (e *Executor) IsAborted() bool { return e.controller.Aborted() }

// Run executes all terminal nodes of the top-level chain: free nodes that
// either are iterators or declare side effects. All pending broadcast tasks
// are awaited before Run returns, so no event is lost even though payloads
// are computed off the critical path.
func (e *Executor) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("executor is already running")
	}
	defer e.running.Store(false)
	defer e.broadcasts.Wait()

	for _, n := range e.chain.FreeNodes() {
		terminal, err := e.isTerminal(n)
		if err != nil {
			return err
		}
		if !terminal {
			continue
		}
		if _, err := e.process(ctx, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// runSubChain executes the terminal nodes of one iterator body. Called by
// the iterator context, once per iteration, on a fresh sub-executor.
func (e *Executor) runSubChain(ctx context.Context, body *graph.SubChain) error {
	defer e.broadcasts.Wait()

	for _, n := range body.Nodes() {
		terminal, err := e.isTerminal(n)
		if err != nil {
			return err
		}
		if !terminal {
			continue
		}
		if _, err := e.process(ctx, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// isTerminal reports whether a node must be executed for its own sake.
// Iterator nodes are always treated as side-effecting.
func (e *Executor) isTerminal(n *graph.Node) (bool, error) {
	if n.Kind == graph.KindIterator {
		return true, nil
	}
	impl, err := e.registry.Resolve(n.SchemaID)
	if err != nil {
		return false, newNodeError(n, err)
	}
	return impl.HasSideEffects(), nil
}

// Process resolves and executes one node, memoized. It fails with a
// NodeExecutionError on any node failure and propagates ErrAborted
// unchanged.
func (e *Executor) Process(ctx context.Context, id graph.NodeID) ([]interface{}, error) {
	return e.process(ctx, id)
}

func (e *Executor) process(ctx context.Context, id graph.NodeID) ([]interface{}, error) {
	if err := e.controller.Suspend(ctx); err != nil {
		return nil, err
	}

	n, ok := e.chain.Node(id)
	if !ok {
		return nil, &NodeExecutionError{Node: id, Cause: fmt.Errorf("%w: %d", graph.ErrUnknownNode, id)}
	}

	if outputs, hit := e.cache.Get(id); hit {
		e.logger.Debug("cache hit", zap.Int("node", int(id)))
		e.publish(ctx, events.NewCacheHit(e.runID, e.cache.Keys(), id))
		return outputs, nil
	}

	impl, err := e.registry.Resolve(n.SchemaID)
	if err != nil {
		return nil, newNodeError(n, err)
	}

	raw, err := e.resolveInputs(ctx, n, impl)
	if err != nil {
		return nil, err
	}

	enforced, err := e.enforceInputs(n, impl, raw)
	if err != nil {
		return nil, err
	}

	if n.Kind == graph.KindIterator {
		return e.dispatchIterator(ctx, n, impl, enforced)
	}
	return e.dispatchFunction(ctx, n, impl, enforced)
}

// resolveInputs produces the raw input values of a node in declared order:
// literals verbatim, edge references by recursively processing the upstream
// node and indexing into its output tuple.
func (e *Executor) resolveInputs(ctx context.Context, n *graph.Node, impl node.Implementation) ([]interface{}, error) {
	ports := impl.Inputs()
	slots, _ := e.inputs.Lookup(n.ID)

	values := make([]interface{}, len(ports))
	for i, port := range ports {
		if err := e.controller.Suspend(ctx); err != nil {
			return nil, err
		}
		if i >= len(slots) {
			if port.Optional {
				continue
			}
			return nil, newNodeError(n, fmt.Errorf("missing binding for required input %q", port.Name))
		}

		slot := slots[i]
		if slot.IsLiteral() {
			values[i] = slot.Value()
			continue
		}

		source, outputIndex := slot.Source()
		upstream, err := e.process(ctx, source)
		if err != nil {
			return nil, err
		}
		if outputIndex < 0 || outputIndex >= len(upstream) {
			return nil, newNodeError(n, fmt.Errorf("node %d has no output %d", source, outputIndex))
		}
		values[i] = upstream[outputIndex]
	}
	return values, nil
}

// enforceInputs runs each value through its input port's coercion. Iterator
// helpers are exempt: their inputs are injected raw by the enclosing
// iterator and must not be re-validated as client input.
func (e *Executor) enforceInputs(n *graph.Node, impl node.Implementation, raw []interface{}) ([]interface{}, error) {
	if impl.Kind() == node.KindIteratorHelper {
		return raw, nil
	}

	ports := impl.Inputs()
	enforced := make([]interface{}, len(raw))
	copy(enforced, raw)
	for i, port := range ports {
		if port.Enforce == nil {
			continue
		}
		if raw[i] == nil && port.Optional {
			continue
		}
		v, err := port.Enforce(raw[i])
		if err != nil {
			return nil, newNodeErrorWithInputs(n, fmt.Errorf("input %q rejected: %w", port.Name, err), ports, raw)
		}
		enforced[i] = v
	}
	return enforced, nil
}

// dispatchIterator hands control to the iterator node's implementation,
// which drives its body through the iterator context. Iterator nodes have no
// direct return value; outputs, if any, were broadcast as the iteration
// proceeded.
func (e *Executor) dispatchIterator(ctx context.Context, n *graph.Node, impl node.Implementation, inputs []interface{}) ([]interface{}, error) {
	it, ok := impl.(node.Iterator)
	if !ok {
		return nil, newNodeError(n, fmt.Errorf("schema %q does not implement the iterator contract", n.SchemaID))
	}

	ic := newIteratorContext(e, n)
	start := time.Now()
	if err := it.RunIterator(ctx, inputs, ic); err != nil {
		return nil, e.translateFailure(n, impl, inputs, err)
	}
	elapsed := time.Since(start)

	e.publish(ctx, events.NewNodeFinish(e.runID, e.cache.Keys(), n.ID, elapsed, nil))
	return []interface{}{}, nil
}

// dispatchFunction offloads the node body to the worker pool, awaits the
// result, caches it, and schedules the broadcast.
func (e *Executor) dispatchFunction(ctx context.Context, n *graph.Node, impl node.Implementation, inputs []interface{}) ([]interface{}, error) {
	fn, ok := impl.(node.Function)
	if !ok {
		return nil, newNodeError(n, fmt.Errorf("schema %q does not implement the function contract", n.SchemaID))
	}

	value, elapsed, err := e.pool.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return fn.Run(ctx, inputs)
	})
	if err != nil {
		return nil, e.translateFailure(n, impl, inputs, err)
	}

	outputs, _ := value.([]interface{})
	if len(outputs) != len(impl.Outputs()) {
		return nil, newNodeError(n, fmt.Errorf("schema %q declared %d outputs but produced %d",
			n.SchemaID, len(impl.Outputs()), len(outputs)))
	}

	e.cacheTarget(n).Set(n.ID, outputs, e.strategies[n.ID])
	e.logger.Debug("node executed",
		zap.Int("node", int(n.ID)),
		zap.String("schema_id", n.SchemaID),
		zap.Duration("elapsed", elapsed))

	e.broadcast(ctx, n, impl, outputs, elapsed)
	return outputs, nil
}

// translateFailure wraps a raw node-body error into a NodeExecutionError
// exactly once. ErrAborted and already-constructed engine errors pass
// through unchanged.
func (e *Executor) translateFailure(n *graph.Node, impl node.Implementation, inputs []interface{}, err error) error {
	if errors.Is(err, ErrAborted) {
		return err
	}
	var nodeErr *NodeExecutionError
	if errors.As(err, &nodeErr) {
		return err
	}
	var iterErr *IterationError
	if errors.As(err, &iterErr) {
		return err
	}
	return newNodeErrorWithInputs(n, err, impl.Inputs(), inputs)
}

// cacheTarget picks where a freshly computed output is stored. A free node
// computed inside an iterator iteration is written to the root cache so its
// static value persists and is shared across iterations instead of dying
// with the iteration's child cache.
func (e *Executor) cacheTarget(n *graph.Node) *cache.OutputCache {
	if e.parent == nil || !n.Free() {
		return e.cache
	}
	root := e
	for root.parent != nil {
		root = root.parent
	}
	return root.cache
}

// broadcast turns a freshly computed output into a client-visible
// node-finish event. Payload rendering runs off the hot path on its own
// goroutine; a node with no outputs emits synchronously with a null payload.
// Run waits for all spawned broadcast tasks before returning.
func (e *Executor) broadcast(ctx context.Context, n *graph.Node, impl node.Implementation, outputs []interface{}, elapsed time.Duration) {
	if len(outputs) == 0 {
		e.publish(ctx, events.NewNodeFinish(e.runID, e.cache.Keys(), n.ID, elapsed, nil))
		return
	}

	e.broadcasts.Add(1)
	go func() {
		defer e.broadcasts.Done()

		var data interface{}
		if previewer, ok := impl.(node.Previewer); ok {
			payload := make(map[string]interface{})
			for i, port := range impl.Outputs() {
				if p := previewer.Preview(i, outputs[i]); p != nil {
					payload[port.Name] = p
				}
			}
			if len(payload) > 0 {
				data = payload
			}
		}
		e.publish(ctx, events.NewNodeFinish(e.runID, e.cache.Keys(), n.ID, elapsed, data))
	}()
}

// publish delivers an event best-effort; a failing sink never fails the run.
func (e *Executor) publish(ctx context.Context, event events.Event) {
	if err := e.sink.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
