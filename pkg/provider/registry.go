package provider

import (
	"fmt"
	"sync"
)

// EmbeddingFactory creates an EmbeddingProvider from configuration.
type EmbeddingFactory func(config EmbeddingConfig) (EmbeddingProvider, error)

// VectorIndexFactory creates a VectorIndex.
type VectorIndexFactory func() (VectorIndex, error)

// MetadataStoreFactory creates a MetadataStore.
type MetadataStoreFactory func() (MetadataStore, error)

// Registry holds factories for all provider types.
type Registry struct {
	mu sync.RWMutex

	embeddingFactories     map[string]EmbeddingFactory
	vectorIndexFactories   map[string]VectorIndexFactory
	metadataStoreFactories map[string]MetadataStoreFactory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		embeddingFactories:     make(map[string]EmbeddingFactory),
		vectorIndexFactories:   make(map[string]VectorIndexFactory),
		metadataStoreFactories: make(map[string]MetadataStoreFactory),
	}
}

// RegisterEmbedding registers an embedding provider factory.
func (r *Registry) RegisterEmbedding(name string, factory EmbeddingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddingFactories[name] = factory
}

// RegisterVectorIndex registers a vector index factory.
func (r *Registry) RegisterVectorIndex(name string, factory VectorIndexFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectorIndexFactories[name] = factory
}

// RegisterMetadataStore registers a metadata store factory.
func (r *Registry) RegisterMetadataStore(name string, factory MetadataStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadataStoreFactories[name] = factory
}

// CreateEmbedding creates an embedding provider by name.
func (r *Registry) CreateEmbedding(name string, config EmbeddingConfig) (EmbeddingProvider, error) {
	r.mu.RLock()
	factory, ok := r.embeddingFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s (available: %v)", name, r.ListEmbeddings())
	}
	return factory(config)
}

// CreateVectorIndex creates a vector index by name.
func (r *Registry) CreateVectorIndex(name string) (VectorIndex, error) {
	r.mu.RLock()
	factory, ok := r.vectorIndexFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown vector index: %s (available: %v)", name, r.ListVectorIndexes())
	}
	return factory()
}

// CreateMetadataStore creates a metadata store by name.
func (r *Registry) CreateMetadataStore(name string) (MetadataStore, error) {
	r.mu.RLock()
	factory, ok := r.metadataStoreFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown metadata store: %s (available: %v)", name, r.ListMetadataStores())
	}
	return factory()
}

// ListEmbeddings returns all registered embedding provider names.
func (r *Registry) ListEmbeddings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.embeddingFactories))
	for name := range r.embeddingFactories {
		names = append(names, name)
	}
	return names
}

// ListVectorIndexes returns all registered vector index names.
func (r *Registry) ListVectorIndexes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.vectorIndexFactories))
	for name := range r.vectorIndexFactories {
		names = append(names, name)
	}
	return names
}

// ListMetadataStores returns all registered metadata store names.
func (r *Registry) ListMetadataStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metadataStoreFactories))
	for name := range r.metadataStoreFactories {
		names = append(names, name)
	}
	return names
}

// HasEmbedding checks if an embedding provider is registered.
func (r *Registry) HasEmbedding(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.embeddingFactories[name]
	return ok
}

// HasVectorIndex checks if a vector index is registered.
func (r *Registry) HasVectorIndex(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vectorIndexFactories[name]
	return ok
}

// HasMetadataStore checks if a metadata store is registered.
func (r *Registry) HasMetadataStore(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.metadataStoreFactories[name]
	return ok
}

// DefaultRegistry is the global default registry.
var DefaultRegistry = NewRegistry()

// Register functions for the default registry.

// RegisterEmbedding registers an embedding provider in the default registry.
func RegisterEmbedding(name string, factory EmbeddingFactory) {
	DefaultRegistry.RegisterEmbedding(name, factory)
}

// RegisterVectorIndex registers a vector index in the default registry.
func RegisterVectorIndex(name string, factory VectorIndexFactory) {
	DefaultRegistry.RegisterVectorIndex(name, factory)
}

// RegisterMetadataStore registers a metadata store in the default registry.
func RegisterMetadataStore(name string, factory MetadataStoreFactory) {
	DefaultRegistry.RegisterMetadataStore(name, factory)
}
