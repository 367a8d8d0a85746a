package distro

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/metrics"
	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/store"
)

var errPeerDown = errors.New("peer down")

// mockTransport records peer calls and serves canned responses
type mockTransport struct {
	mu sync.Mutex

	pushes        []pushCall
	checksumCalls []checksumCall
	fetchCalls    []fetchCall

	failPush     map[string]int // target -> remaining failures, -1 forever
	snapshots    map[string]models.StoreItems
	snapshotErr  map[string]error
	remoteItems  map[string]models.StoreItems // target -> store -> items for FetchItems
	pushNotifyCh chan pushCall
	onFetch      func(keys []string) // runs after the response is built
	failFetch    map[string]bool     // a fetch naming any of these keys fails
}

type pushCall struct {
	Target string
	Items  models.StoreItems
}

type checksumCall struct {
	Target    string
	Checksums models.Checksums
}

type fetchCall struct {
	Target string
	Store  string
	Keys   []string
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		failPush:    make(map[string]int),
		snapshots:   make(map[string]models.StoreItems),
		snapshotErr: make(map[string]error),
		remoteItems: make(map[string]models.StoreItems),
		failFetch:   make(map[string]bool),
	}
}

func (m *mockTransport) PushItems(_ context.Context, target string, items models.StoreItems) error {
	m.mu.Lock()
	call := pushCall{Target: target, Items: items}
	m.pushes = append(m.pushes, call)
	ch := m.pushNotifyCh
	var err error
	if n, ok := m.failPush[target]; ok && n != 0 {
		if n > 0 {
			m.failPush[target] = n - 1
		}
		err = errPeerDown
	}
	m.mu.Unlock()

	if ch != nil {
		ch <- call
	}
	return err
}

func (m *mockTransport) FetchItems(_ context.Context, target, storeName string, keys []string) (models.Items, error) {
	m.mu.Lock()
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	m.fetchCalls = append(m.fetchCalls, fetchCall{Target: target, Store: storeName, Keys: sorted})

	remote, ok := m.remoteItems[target]
	for _, key := range keys {
		ok = ok && !m.failFetch[key]
	}
	if !ok {
		m.mu.Unlock()
		return nil, errPeerDown
	}
	out := make(models.Items)
	for _, key := range keys {
		if item, ok := remote[storeName][key]; ok {
			out[key] = item
		}
	}
	hook := m.onFetch
	m.mu.Unlock()

	if hook != nil {
		hook(keys)
	}
	return out, nil
}

func (m *mockTransport) FetchSnapshot(_ context.Context, target string) (models.StoreItems, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.snapshotErr[target]; err != nil {
		return nil, err
	}
	snap, ok := m.snapshots[target]
	if !ok {
		return nil, errPeerDown
	}
	return snap, nil
}

func (m *mockTransport) PushChecksums(_ context.Context, target string, checksums models.Checksums) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checksumCalls = append(m.checksumCalls, checksumCall{Target: target, Checksums: checksums})
	return nil
}

func (m *mockTransport) pushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pushes)
}

func (m *mockTransport) pushesTo(target string) []pushCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pushCall
	for _, p := range m.pushes {
		if p.Target == target {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockTransport) checksumsSent() []checksumCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]checksumCall(nil), m.checksumCalls...)
}

func (m *mockTransport) fetches() []fetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fetchCall(nil), m.fetchCalls...)
}

// mockMembership is a static member list that can be changed by tests
type mockMembership struct {
	mu        sync.Mutex
	self      string
	healthy   []string
	listeners []func([]string)
}

func newMockMembership(self string, healthy ...string) *mockMembership {
	return &mockMembership{self: self, healthy: healthy}
}

func (m *mockMembership) Self() string { return m.self }

func (m *mockMembership) HealthyMembers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.healthy...)
}

func (m *mockMembership) Subscribe(fn func([]string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *mockMembership) set(healthy ...string) {
	m.mu.Lock()
	m.healthy = healthy
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(append([]string(nil), healthy...))
	}
}

// deliver notifies listeners with an arbitrary list, leaving the view as is
func (m *mockMembership) deliver(healthy ...string) {
	m.mu.Lock()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(healthy)
	}
}

// mockMembers is a fixed memberView/peerLister
type mockMembers struct {
	mu      sync.Mutex
	peers   []string
	healthy map[string]bool
}

func newMockMembers(peers ...string) *mockMembers {
	m := &mockMembers{healthy: make(map[string]bool)}
	m.setPeers(peers...)
	return m
}

func (m *mockMembers) setPeers(peers ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = peers
	m.healthy = make(map[string]bool)
	for _, p := range peers {
		m.healthy[p] = true
	}
}

func (m *mockMembers) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.peers...)
}

func (m *mockMembers) IsHealthy(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy[addr]
}

// recordingSubmitter captures tasks handed over by the dispatcher
type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []*SyncTask
	ch    chan *SyncTask
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{ch: make(chan *SyncTask, 1024)}
}

func (r *recordingSubmitter) Submit(task *SyncTask, _ time.Duration) bool {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	r.ch <- task
	return true
}

func testRegistry(names ...string) *store.Registry {
	reg := store.NewRegistry()
	for _, name := range names {
		reg.Register(store.NewMemoryStore(name), nil)
	}
	return reg
}

func mustStore(reg *store.Registry, name string) store.Store {
	st, ok := reg.Get(name)
	if !ok {
		panic("missing store " + name)
	}
	return st
}

func testLogger() *logging.Logger {
	return logging.NewDevelopment()
}

func testMetrics() *metrics.Distro {
	return metrics.NewUnregistered()
}
