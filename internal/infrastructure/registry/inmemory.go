package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/ecomhub/gateway/internal/domain/shared"
)

// InMemoryServiceRegistry implements gateway.ServiceRegistry with a
// process-local map. Descriptors are stored and returned by value so
// callers cannot mutate registry state through a shared pointer.
type InMemoryServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]gateway.ServiceDescriptor
}

// NewInMemoryServiceRegistry creates a new InMemoryServiceRegistry
func NewInMemoryServiceRegistry() *InMemoryServiceRegistry {
	return &InMemoryServiceRegistry{
		services: make(map[string]gateway.ServiceDescriptor),
	}
}

// Register validates the descriptor, fills registration defaults and
// stores it by name, replacing any previous registration.
func (r *InMemoryServiceRegistry) Register(_ context.Context, descriptor *gateway.ServiceDescriptor) error {
	if err := descriptor.Validate(); err != nil {
		return err
	}
	descriptor.ApplyDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[descriptor.Name] = *descriptor
	return nil
}

// Get finds a descriptor by service name
func (r *InMemoryServiceRegistry) Get(_ context.Context, name string) (*gateway.ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptor, ok := r.services[name]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &descriptor, nil
}

// List returns all registered descriptors ordered by name
func (r *InMemoryServiceRegistry) List(_ context.Context) ([]*gateway.ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]*gateway.ServiceDescriptor, 0, len(r.services))
	for name := range r.services {
		descriptor := r.services[name]
		descriptors = append(descriptors, &descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors, nil
}

// Deregister removes a descriptor by service name
func (r *InMemoryServiceRegistry) Deregister(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[name]; !ok {
		return shared.ErrNotFound
	}
	delete(r.services, name)
	return nil
}

// Ensure InMemoryServiceRegistry implements ServiceRegistry
var _ gateway.ServiceRegistry = (*InMemoryServiceRegistry)(nil)
