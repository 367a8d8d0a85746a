package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/distro/internal/distro"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/middleware"
	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/store"
)

type checksumCall struct {
	source string
	digest models.Checksums
}

// mockNode is a single-store node whose ownership is decided by a fixed map
type mockNode struct {
	mu sync.Mutex

	self        string
	initialized bool
	healthy     []string
	owners      map[string]string // key -> owner, self when absent
	stores      map[string]models.Items

	received  []models.StoreItems
	modified  bool
	checksums []checksumCall
	puts      []string
}

func newMockNode(self string) *mockNode {
	return &mockNode{
		self:        self,
		initialized: true,
		healthy:     []string{self},
		owners:      map[string]string{},
		stores:      map[string]models.Items{"instances": {}},
	}
}

func (m *mockNode) Put(storeName, key string, value []byte) (models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.stores[storeName]
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName)
	}
	if string(value) == "invalid" {
		return models.Item{}, fmt.Errorf("%w: rejected", store.ErrInvalidValue)
	}
	item := store.NewItem(value)
	items[key] = item
	m.puts = append(m.puts, key)
	return item, nil
}

func (m *mockNode) Get(storeName, key string) (models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.stores[storeName]
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName)
	}
	item, ok := items[key]
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %s/%s", store.ErrKeyNotFound, storeName, key)
	}
	return item, nil
}

func (m *mockNode) Remove(storeName, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.stores[storeName]
	if !ok {
		return false, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName)
	}
	_, existed := items[key]
	delete(items, key)
	return existed, nil
}

func (m *mockNode) OnReceiveItems(data models.StoreItems) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, data)
	return m.modified, nil
}

func (m *mockNode) ItemsFor(storeName string, keys []string) (models.Items, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.stores[storeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName)
	}
	out := models.Items{}
	for _, k := range keys {
		if item, ok := items[k]; ok {
			out[k] = item
		}
	}
	return out, nil
}

func (m *mockNode) Snapshot() models.StoreItems {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := models.StoreItems{}
	for name, items := range m.stores {
		cp := models.Items{}
		for k, v := range items {
			cp[k] = v
		}
		out[name] = cp
	}
	return out
}

func (m *mockNode) OnReceiveChecksums(_ context.Context, source string, digest models.Checksums) (distro.ReconcileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checksums = append(m.checksums, checksumCall{source: source, digest: digest})
	return distro.ReconcileResult{}, nil
}

func (m *mockNode) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *mockNode) Responsible(key string) bool {
	return m.Owner(key) == m.self
}

func (m *mockNode) Owner(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.owners[key]; ok {
		return owner
	}
	return m.self
}

func (m *mockNode) Self() string { return m.self }

func (m *mockNode) HealthyMembers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.healthy...)
}

func (m *mockNode) putKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}

type staticMembers []models.Member

func (s staticMembers) Members() []models.Member { return s }

// newTestApp mounts every handler the way the router does, minus auth
func newTestApp(node *mockNode, cfg Config) (*fiber.App, *Handler) {
	logger := logging.NewDevelopment()
	h := New(logger, node, nil, cfg)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger)})
	app.Get("/health", h.Health)
	app.Put("/distro/items", h.PushItems)
	app.Get("/distro/items", h.GetItems)
	app.Get("/distro/all/items", h.GetAllItems)
	app.Put("/distro/checksum", h.PushChecksums)
	app.Get("/v1/members", h.Members)
	app.Put("/v1/stores/:store/items/:key", h.PutItem)
	app.Get("/v1/stores/:store/items/:key", h.GetItem)
	app.Delete("/v1/stores/:store/items/:key", h.DeleteItem)
	app.Use(h.NotFound)
	return app, h
}
