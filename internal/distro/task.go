package distro

import (
	"sync"
	"sync/atomic"
	"time"
)

// SyncTask is one push of a batch of keys from one store to one peer
type SyncTask struct {
	Store         string
	Keys          []string
	Target        string
	RetryCount    int
	LastExecuteAt time.Time
}

// nextAttempt returns the task to hand to the retry policy after a failure
func (t *SyncTask) nextAttempt(now time.Time) *SyncTask {
	keys := make([]string, len(t.Keys))
	copy(keys, t.Keys)
	return &SyncTask{
		Store:         t.Store,
		Keys:          keys,
		Target:        t.Target,
		RetryCount:    t.RetryCount + 1,
		LastExecuteAt: now,
	}
}

type pendingKey struct {
	store  string
	key    string
	target string
}

// dedupSet tracks (store, key, target) triples with a push in flight
type dedupSet struct {
	m sync.Map
	n atomic.Int64
}

// tryAdd claims the triple and reports whether it was free
func (d *dedupSet) tryAdd(storeName, key, target string) bool {
	_, loaded := d.m.LoadOrStore(pendingKey{store: storeName, key: key, target: target}, struct{}{})
	if !loaded {
		d.n.Add(1)
	}
	return !loaded
}

func (d *dedupSet) contains(storeName, key, target string) bool {
	_, ok := d.m.Load(pendingKey{store: storeName, key: key, target: target})
	return ok
}

func (d *dedupSet) release(t *SyncTask) {
	for _, key := range t.Keys {
		if _, loaded := d.m.LoadAndDelete(pendingKey{store: t.Store, key: key, target: t.Target}); loaded {
			d.n.Add(-1)
		}
	}
}

func (d *dedupSet) len() int {
	return int(d.n.Load())
}
