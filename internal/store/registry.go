package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soltixdb/distro/internal/models"
)

// Schema validates values before they are accepted into a store
type Schema interface {
	Name() string
	Validate(value []byte) error
}

type entry struct {
	store  Store
	schema Schema
}

// Registry holds the stores a node replicates, each with its value schema
type Registry struct {
	mu     sync.RWMutex
	stores map[string]entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]entry)}
}

// Register adds a store. A nil schema accepts any value.
func (r *Registry) Register(s Store, schema Schema) {
	if schema == nil {
		schema = RawSchema{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[s.Name()] = entry{store: s, schema: schema}
}

// Get returns a registered store
func (r *Registry) Get(name string) (Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.stores[name]
	return e.store, ok
}

// Lookup returns a registered store or ErrStoreNotFound
func (r *Registry) Lookup(name string) (Store, error) {
	s, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	return s, nil
}

// Names returns registered store names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a value against the schema of store name
func (r *Registry) Validate(name string, value []byte) error {
	r.mu.RLock()
	e, ok := r.stores[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	if err := e.schema.Validate(value); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, e.schema.Name(), err)
	}
	return nil
}

// Snapshot copies every store's full contents
func (r *Registry) Snapshot() models.StoreItems {
	out := make(models.StoreItems)
	for _, name := range r.Names() {
		s, _ := r.Get(name)
		out[name] = s.GetBatch(s.Keys())
	}
	return out
}

// LoadSnapshot bulk loads a snapshot, skipping unknown stores and values that
// fail validation. It returns the number of items written.
func (r *Registry) LoadSnapshot(snapshot models.StoreItems) (int, error) {
	total := 0
	var firstErr error

	for name, items := range snapshot {
		s, ok := r.Get(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", ErrStoreNotFound, name)
			}
			continue
		}

		valid := make(models.Items, len(items))
		for key, item := range items {
			if err := r.Validate(name, item.Value); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("key %s: %w", key, err)
				}
				continue
			}
			valid[key] = item
		}
		total += s.Load(valid)
	}

	return total, firstErr
}
