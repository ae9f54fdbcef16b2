package schema

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry manages all entity metadata for one engine instance. Registration
// happens during startup; Finalize resolves every relation against both sides'
// metadata and freezes the registry. A frozen registry is safe for
// unsynchronized concurrent reads.
type Registry struct {
	mu          sync.RWMutex
	entities    map[string]*EntityMetadata
	descriptors map[string]*EntityDescriptor
	order       []string
	frozen      bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entities:    make(map[string]*EntityMetadata),
		descriptors: make(map[string]*EntityDescriptor),
	}
}

// Register validates the descriptor and stores its metadata. Registering the
// same name with an identical shape is idempotent and returns the existing
// metadata; a different shape fails with ErrSchemaConflict. Registration after
// Finalize fails with ErrRegistryFrozen.
func (r *Registry) Register(d *EntityDescriptor) (*EntityMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, d.Name)
	}

	if existing, ok := r.entities[d.Name]; ok {
		if reflect.DeepEqual(r.descriptors[d.Name], d) {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrSchemaConflict, d.Name)
	}

	meta, err := d.build()
	if err != nil {
		return nil, err
	}

	r.entities[d.Name] = meta
	r.descriptors[d.Name] = d
	r.order = append(r.order, d.Name)
	return meta, nil
}

// Resolve returns the metadata for the named entity
func (r *Registry) Resolve(name string) (*EntityMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return meta, nil
}

// AllEntities returns every registered entity in registration order
func (r *Registry) AllEntities() []*EntityMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*EntityMetadata, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entities[name])
	}
	return result
}

// Count returns the number of registered entities
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Frozen reports whether Finalize has completed
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Finalize resolves all relations and freezes the registry. Resolution needs
// both sides of every relation, so it can only run once all entities are
// registered. Any resolution failure is fatal: the registry stays unfrozen and
// must not be used for query building.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}

	for _, name := range r.order {
		owner := r.entities[name]
		for _, rel := range owner.Relations {
			target, ok := r.entities[rel.Target]
			if !ok {
				return fmt.Errorf("%w: relation %s.%s targets %s", ErrUnknownEntity, owner.Name, rel.Name, rel.Target)
			}
			resolved, err := resolveRelation(owner, rel, target)
			if err != nil {
				return err
			}
			rel.resolved = resolved
		}
	}

	r.frozen = true
	return nil
}

// DependencyOrder returns entity names such that every entity appears after
// the entities its to-one relations reference. Mutually referencing entities
// are reported in registration order at the end.
func (r *Registry) DependencyOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := newDependencyGraph(r.order, r.entities)
	return g.topologicalSort()
}

// DetectCycles returns every cycle of to-one references between entities
func (r *Registry) DetectCycles() [][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := newDependencyGraph(r.order, r.entities)
	return g.detectCycles()
}
