package distro

import (
	"math"
	"sort"
	"sync/atomic"
	"unicode/utf16"

	"github.com/soltixdb/distro/internal/logging"
)

// Mapper assigns every key to exactly one healthy member. Assignment is
// recomputed from the current member snapshot on each call, nothing is cached
// per key.
type Mapper struct {
	self       string
	enabled    bool
	standalone bool
	analyzers  []KeyAnalyzer
	logger     *logging.Logger

	healthy atomic.Pointer[[]string]
}

// NewMapper creates a mapper with an empty member list
func NewMapper(self string, enabled, standalone bool, analyzers []KeyAnalyzer, logger *logging.Logger) *Mapper {
	m := &Mapper{
		self:       self,
		enabled:    enabled,
		standalone: standalone,
		analyzers:  analyzers,
		logger:     logger,
	}
	empty := []string{}
	m.healthy.Store(&empty)
	return m
}

// OnMembershipChange replaces the healthy member list
func (m *Mapper) OnMembershipChange(healthy []string) {
	sorted := make([]string, len(healthy))
	copy(sorted, healthy)
	sort.Strings(sorted)
	m.healthy.Store(&sorted)

	m.logger.Info("Healthy member list updated", "members", sorted)
}

// Self returns the local address
func (m *Mapper) Self() string {
	return m.self
}

// Healthy returns the sorted healthy member snapshot. Callers must not modify it.
func (m *Mapper) Healthy() []string {
	return *m.healthy.Load()
}

// Peers returns healthy members other than self
func (m *Mapper) Peers() []string {
	healthy := m.Healthy()
	peers := make([]string, 0, len(healthy))
	for _, addr := range healthy {
		if addr != m.self {
			peers = append(peers, addr)
		}
	}
	return peers
}

// IsHealthy reports whether addr is in the healthy list
func (m *Mapper) IsHealthy(addr string) bool {
	healthy := m.Healthy()
	i := sort.SearchStrings(healthy, addr)
	return i < len(healthy) && healthy[i] == addr
}

// Responsible reports whether this node owns key. A node that cannot find
// itself exactly once in the healthy list claims every key.
func (m *Mapper) Responsible(key string) bool {
	if !m.enabled || m.standalone {
		return true
	}

	healthy := m.Healthy()
	first, last := -1, -1
	for i, addr := range healthy {
		if addr == m.self {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 || first != last {
		return true
	}

	target := DistroHash(m.analyze(key)) % len(healthy)
	return target >= first && target <= last
}

// MapServer returns the owner of key, falling back to self when the member
// list is empty or distro is disabled
func (m *Mapper) MapServer(key string) string {
	healthy := m.Healthy()
	if len(healthy) == 0 || !m.enabled {
		return m.self
	}

	index := DistroHash(m.analyze(key)) % len(healthy)
	if index < 0 || index >= len(healthy) {
		m.logger.Warn("Distro hash out of range, routing to self", "key", key, "index", index)
		return m.self
	}
	return healthy[index]
}

func (m *Mapper) analyze(key string) string {
	for _, a := range m.analyzers {
		if a.Interested(key) {
			return a.Analyze(key)
		}
	}
	return key
}

// DistroHash is abs(h) mod MaxInt32 where h is the 31-polynomial hash over
// the key's UTF-16 code units with int32 wraparound. Every node must compute
// identical values.
func DistroHash(key string) int {
	var h int32
	for _, unit := range utf16.Encode([]rune(key)) {
		h = 31*h + int32(unit)
	}
	r := int64(h) % math.MaxInt32
	if r < 0 {
		r = -r
	}
	return int(r)
}
