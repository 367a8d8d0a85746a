// Package cluster tracks which members of the cluster are alive. The distro
// protocol routes keys over the healthy list it publishes.
package cluster

import (
	"slices"
	"sort"
	"sync"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
)

// view holds the member list and fans changes out to subscribers
type view struct {
	self   string
	logger *logging.Logger

	// notifyMu orders apply calls so subscribers see changes in sequence
	notifyMu  sync.Mutex
	mu        sync.RWMutex
	members   map[string]bool // address -> healthy
	listeners []func([]string)
}

func newView(self string, logger *logging.Logger) *view {
	return &view{
		self:    self,
		logger:  logger,
		members: map[string]bool{self: true},
	}
}

// Self returns this node's address
func (v *view) Self() string {
	return v.self
}

// Subscribe registers fn to receive the healthy list after every change
func (v *view) Subscribe(fn func(healthy []string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// HealthyMembers returns healthy addresses in sorted order, self included
func (v *view) HealthyMembers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.healthyLocked()
}

// Members returns every known member with its health
func (v *view) Members() []models.Member {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]models.Member, 0, len(v.members))
	for addr, healthy := range v.members {
		out = append(out, models.Member{Address: addr, Healthy: healthy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (v *view) healthyLocked() []string {
	healthy := make([]string, 0, len(v.members))
	for addr, ok := range v.members {
		if ok {
			healthy = append(healthy, addr)
		}
	}
	sort.Strings(healthy)
	return healthy
}

// apply replaces the member table and notifies subscribers when the healthy
// list changed
func (v *view) apply(members map[string]bool) {
	members[v.self] = true

	v.notifyMu.Lock()
	defer v.notifyMu.Unlock()

	v.mu.Lock()
	before := v.healthyLocked()
	v.members = members
	after := v.healthyLocked()
	listeners := slices.Clone(v.listeners)
	v.mu.Unlock()

	if slices.Equal(before, after) {
		return
	}

	v.logger.Info("Cluster membership changed", "healthy", after, "previous", before)
	for _, fn := range listeners {
		fn(slices.Clone(after))
	}
}
