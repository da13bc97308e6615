package provider

import (
	"fmt"
	"sort"
	"sync"
)

// ChunkingFactory creates a ChunkingStrategy from configuration.
type ChunkingFactory func(config ChunkingConfig) (ChunkingStrategy, error)

// SinkFactory creates a ChunkSink from configuration.
type SinkFactory func(config SinkConfig) (ChunkSink, error)

// Registry holds factories for all provider types.
type Registry struct {
	mu sync.RWMutex

	chunkingFactories map[string]ChunkingFactory
	sinkFactories     map[string]SinkFactory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		chunkingFactories: make(map[string]ChunkingFactory),
		sinkFactories:     make(map[string]SinkFactory),
	}
}

// RegisterChunking registers a chunking strategy factory.
func (r *Registry) RegisterChunking(name string, factory ChunkingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkingFactories[name] = factory
}

// RegisterSink registers a chunk sink factory.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinkFactories[name] = factory
}

// CreateChunking creates a chunking strategy by name.
func (r *Registry) CreateChunking(name string, config ChunkingConfig) (ChunkingStrategy, error) {
	r.mu.RLock()
	factory, ok := r.chunkingFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown chunking strategy: %s (available: %v)", name, r.ListChunkings())
	}
	return factory(config)
}

// CreateSink creates a chunk sink by name.
func (r *Registry) CreateSink(name string, config SinkConfig) (ChunkSink, error) {
	r.mu.RLock()
	factory, ok := r.sinkFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown sink: %s (available: %v)", name, r.ListSinks())
	}
	return factory(config)
}

// ListChunkings returns all registered chunking strategy names, sorted.
func (r *Registry) ListChunkings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.chunkingFactories))
	for name := range r.chunkingFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListSinks returns all registered sink names, sorted.
func (r *Registry) ListSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sinkFactories))
	for name := range r.sinkFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global default registry.
var DefaultRegistry = NewRegistry()

// Register functions for the default registry.

// RegisterChunking registers a chunking strategy in the default registry.
func RegisterChunking(name string, factory ChunkingFactory) {
	DefaultRegistry.RegisterChunking(name, factory)
}

// RegisterSink registers a chunk sink in the default registry.
func RegisterSink(name string, factory SinkFactory) {
	DefaultRegistry.RegisterSink(name, factory)
}
