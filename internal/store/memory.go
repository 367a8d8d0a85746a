package store

import (
	"sync"

	"github.com/soltixdb/distro/internal/models"
)

// MemoryStore is a concurrent in-memory Store
type MemoryStore struct {
	name string

	mu    sync.RWMutex
	items map[string]models.Item

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewMemoryStore creates an empty store
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:  name,
		items: make(map[string]models.Item),
	}
}

func (s *MemoryStore) Name() string {
	return s.name
}

func (s *MemoryStore) Get(key string) (models.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	return item, ok
}

func (s *MemoryStore) GetBatch(keys []string) models.Items {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(models.Items, len(keys))
	for _, key := range keys {
		if item, ok := s.items[key]; ok {
			out[key] = item
		}
	}
	return out
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	return keys
}

func (s *MemoryStore) Checksum(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	if !ok {
		return "", false
	}
	return item.Checksum, true
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) Put(key string, value []byte) models.Item {
	item := NewItem(value)

	s.mu.Lock()
	if prev, ok := s.items[key]; ok && item.LastModified <= prev.LastModified {
		// keep timestamps strictly increasing per key
		item.LastModified = prev.LastModified + 1
	}
	s.items[key] = item
	s.mu.Unlock()

	s.notify(Event{Store: s.name, Key: key, Op: OpChange, Item: item})
	return item
}

func (s *MemoryStore) Apply(key string, item models.Item) bool {
	item.Checksum = ChecksumOf(item.Value)

	s.mu.Lock()
	prev, ok := s.items[key]
	if ok && prev.Checksum == item.Checksum {
		// same value rewritten on the owner: adopt its timestamp without an event
		if item.LastModified > prev.LastModified {
			prev.LastModified = item.LastModified
			s.items[key] = prev
		}
		s.mu.Unlock()
		return false
	}
	if ok && item.LastModified < prev.LastModified {
		s.mu.Unlock()
		return false
	}
	s.items[key] = item
	s.mu.Unlock()

	s.notify(Event{Store: s.name, Key: key, Op: OpChange, Item: item})
	return true
}

func (s *MemoryStore) Repair(key string, item models.Item, seen string) bool {
	item.Checksum = ChecksumOf(item.Value)

	s.mu.Lock()
	prev, ok := s.items[key]
	if prev.Checksum != seen {
		// written since the comparison; let timestamps decide
		s.mu.Unlock()
		return s.Apply(key, item)
	}
	s.items[key] = item
	s.mu.Unlock()

	if ok && prev.Checksum == item.Checksum {
		return false
	}
	s.notify(Event{Store: s.name, Key: key, Op: OpChange, Item: item})
	return true
}

func (s *MemoryStore) Set(key string, item models.Item) {
	item.Checksum = ChecksumOf(item.Value)

	s.mu.Lock()
	prev, ok := s.items[key]
	s.items[key] = item
	s.mu.Unlock()

	if ok && prev.Checksum == item.Checksum {
		return
	}
	s.notify(Event{Store: s.name, Key: key, Op: OpChange, Item: item})
}

func (s *MemoryStore) Load(items models.Items) int {
	for key, item := range items {
		s.Set(key, item)
	}
	return len(items)
}

func (s *MemoryStore) Remove(key string) bool {
	s.mu.Lock()
	item, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()

	if ok {
		s.notify(Event{Store: s.name, Key: key, Op: OpDelete, Item: item})
	}
	return ok
}

func (s *MemoryStore) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *MemoryStore) notify(ev Event) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}
