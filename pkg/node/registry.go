package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownSchema is returned when no factory is registered for a schema id.
var ErrUnknownSchema = errors.New("no node implementation registered for schema")

// Factory constructs a fresh implementation for one node binding.
type Factory func() (Implementation, error)

// Registry maps schema ids to implementation factories. The engine resolves
// every node through a registry at dispatch time.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register binds a factory to a schema id, replacing any previous binding.
func (r *Registry) Register(schemaID string, factory Factory) {
	r.mu.Lock()
	r.factories[schemaID] = factory
	r.mu.Unlock()
	r.logger.Debug("registered node schema", zap.String("schema_id", schemaID))
}

// Has reports whether a factory exists for the schema id.
func (r *Registry) Has(schemaID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[schemaID]
	return ok
}

// Resolve constructs an implementation for the schema id.
func (r *Registry) Resolve(schemaID string) (Implementation, error) {
	r.mu.RLock()
	factory, ok := r.factories[schemaID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, schemaID)
	}
	impl, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to construct node for schema %q: %w", schemaID, err)
	}
	return impl, nil
}

// Schemas returns the registered schema ids, sorted.
func (r *Registry) Schemas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for id := range r.factories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
