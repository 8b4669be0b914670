package plugins

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the plugin instances the host is running
type Registry struct {
	instances map[string]*Instance
	mu        sync.RWMutex
}

// NewRegistry creates an empty instance registry
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Register adds an instance to the registry
func (r *Registry) Register(instance *Instance) error {
	if instance == nil {
		return fmt.Errorf("cannot register nil plugin instance")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[instance.ID]; exists {
		return fmt.Errorf("plugin already registered: %s", instance.ID)
	}

	r.instances[instance.ID] = instance
	return nil
}

// Unregister removes an instance. Removing an unknown id is not an error.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.instances[id]
	delete(r.instances, id)
	return exists
}

// Get retrieves an instance by plugin id
func (r *Registry) Get(id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, exists := r.instances[id]
	if !exists {
		return nil, NewError(KindNotFound, "get", id, ErrPluginNotFound)
	}

	return instance, nil
}

// Has checks if an instance is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.instances[id]
	return exists
}

// List returns all registered instances ordered by id
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Instance, 0, len(r.instances))
	for _, instance := range r.instances {
		result = append(result, instance)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Count returns the number of registered instances
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.instances)
}
