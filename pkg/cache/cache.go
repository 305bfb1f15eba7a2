package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// countedEntry pairs a cached output tuple with its remaining hits-to-live.
type countedEntry struct {
	outputs   []interface{}
	remaining int
}

// OutputCache is the per-execution memo store. It holds a static tier for
// whole-run values and a counted tier whose entries expire after a fixed
// number of reads. A cache may delegate to a parent: sub-executors created
// for iterator iterations get a child cache whose misses fall through to the
// owning executor's cache, so static free-node values computed once by an
// ancestor are visible to every descendant without recomputation.
//
// The parent must outlive the child; a child never outlives its
// sub-execution.
type OutputCache struct {
	mu      sync.Mutex
	static  map[graph.NodeID][]interface{}
	counted map[graph.NodeID]*countedEntry
	parent  *OutputCache
	logger  *zap.Logger
}

// NewOutputCache creates an empty root cache.
func NewOutputCache(logger *zap.Logger) *OutputCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutputCache{
		static:  make(map[graph.NodeID][]interface{}),
		counted: make(map[graph.NodeID]*countedEntry),
		logger:  logger,
	}
}

// NewChild creates an empty cache that delegates misses to this one.
func (c *OutputCache) NewChild() *OutputCache {
	child := NewOutputCache(c.logger)
	child.parent = c
	return child
}

// Get returns the cached output tuple for a node, if present. The static
// tier is checked first, then the counted tier, then the parent chain.
//
// Reading a counted entry consumes one hit; an entry reaching zero remaining
// hits is evicted before the value is returned, atomically with the read, so
// a later lookup of the same node recomputes instead of reading stale data.
func (c *OutputCache) Get(id graph.NodeID) ([]interface{}, bool) {
	c.mu.Lock()
	if outputs, ok := c.static[id]; ok {
		c.mu.Unlock()
		return outputs, true
	}
	if entry, ok := c.counted[id]; ok {
		entry.remaining--
		outputs := entry.outputs
		if entry.remaining <= 0 {
			delete(c.counted, id)
			c.logger.Debug("evicted counted cache entry", zap.Int("node", int(id)))
		}
		c.mu.Unlock()
		return outputs, true
	}
	c.mu.Unlock()

	if c.parent != nil {
		return c.parent.Get(id)
	}
	return nil, false
}

// Set stores a node's output tuple under the given strategy. NoCache is a
// no-op: the value lives only as long as the caller holds it.
func (c *OutputCache) Set(id graph.NodeID, outputs []interface{}, strategy Strategy) {
	switch strategy.Kind {
	case KindNoCache:
		return
	case KindStatic:
		c.mu.Lock()
		c.static[id] = outputs
		c.mu.Unlock()
	case KindCounted:
		c.mu.Lock()
		c.counted[id] = &countedEntry{outputs: outputs, remaining: strategy.Hits}
		c.mu.Unlock()
	}
}

// Has reports whether any tier of this cache or an ancestor holds a value
// for the node. It never consumes a hit.
func (c *OutputCache) Has(id graph.NodeID) bool {
	c.mu.Lock()
	_, inStatic := c.static[id]
	_, inCounted := c.counted[id]
	c.mu.Unlock()
	if inStatic || inCounted {
		return true
	}
	if c.parent != nil {
		return c.parent.Has(id)
	}
	return false
}

// Keys returns the ids resident in this cache and its ancestors, used to
// build the "finished so far" lists carried by progress events. It never
// consumes a hit.
func (c *OutputCache) Keys() []graph.NodeID {
	seen := make(map[graph.NodeID]bool)
	var out []graph.NodeID
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		for id := range cur.static {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		for id := range cur.counted {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		cur.mu.Unlock()
	}
	return out
}

// SnapshotStatic returns a copy of the static tier of this cache only.
func (c *OutputCache) SnapshotStatic() map[graph.NodeID][]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[graph.NodeID][]interface{}, len(c.static))
	for id, outputs := range c.static {
		out[id] = outputs
	}
	return out
}

// SnapshotAll returns a copy of both tiers of this cache only, without
// consuming hits.
func (c *OutputCache) SnapshotAll() map[graph.NodeID][]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[graph.NodeID][]interface{}, len(c.static)+len(c.counted))
	for id, outputs := range c.static {
		out[id] = outputs
	}
	for id, entry := range c.counted {
		out[id] = entry.outputs
	}
	return out
}
