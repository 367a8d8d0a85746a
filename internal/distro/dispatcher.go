package distro

import (
	"runtime"
	"sync"
	"time"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/metrics"
	"github.com/soltixdb/distro/internal/models"
)

const defaultPollTimeout = time.Second

// taskSubmitter is the part of the Syncer the dispatcher feeds
type taskSubmitter interface {
	Submit(task *SyncTask, delay time.Duration) bool
}

// peerLister is the part of the Mapper the dispatcher reads
type peerLister interface {
	Peers() []string
}

// Dispatcher shards changed keys over a fixed set of workers. A key always
// lands on the same worker, so changes to one key are batched in order.
type Dispatcher struct {
	workers  []*dispatchWorker
	tunables *Tunables
	peers    peerLister
	syncer   taskSubmitter
	logger   *logging.Logger
	metrics  *metrics.Distro

	pollTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type dispatchWorker struct {
	id    int
	queue chan models.DistroKey
}

// NewDispatcher creates a dispatcher with workers shards (0 means one per CPU)
func NewDispatcher(
	workers int,
	queueSize int,
	tunables *Tunables,
	peers peerLister,
	syncer taskSubmitter,
	logger *logging.Logger,
	m *metrics.Distro,
) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	d := &Dispatcher{
		workers:     make([]*dispatchWorker, workers),
		tunables:    tunables,
		peers:       peers,
		syncer:      syncer,
		logger:      logger,
		metrics:     m,
		pollTimeout: defaultPollTimeout,
		stopCh:      make(chan struct{}),
	}
	for i := range d.workers {
		d.workers[i] = &dispatchWorker{
			id:    i,
			queue: make(chan models.DistroKey, queueSize),
		}
	}
	return d
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	for _, w := range d.workers {
		d.wg.Add(1)
		go d.runWorker(w)
	}
	d.logger.Info("Task dispatcher started", "workers", len(d.workers))
}

// AddTask queues a changed key. A full queue drops the key; anti-entropy
// will repair the peer later.
func (d *Dispatcher) AddTask(storeName, key string) bool {
	w := d.workers[DistroHash(key)%len(d.workers)]

	select {
	case <-d.stopCh:
		return false
	default:
	}

	select {
	case w.queue <- models.DistroKey{Store: storeName, Key: key}:
		d.metrics.TasksQueued.Inc()
		return true
	default:
		d.metrics.TasksDropped.WithLabelValues("queue_full").Inc()
		d.logger.Warn("Dispatcher queue full, key dropped",
			"worker", w.id, "store", storeName, "key", key, "capacity", cap(w.queue))
		return false
	}
}

func (d *Dispatcher) runWorker(w *dispatchWorker) {
	defer d.wg.Done()

	batchSize := d.tunables.BatchSyncKeyCount()
	period := d.tunables.TaskDispatchPeriod()

	pending := make(map[string][]string) // store -> keys in arrival order
	seen := make(map[models.DistroKey]struct{})
	lastFlush := time.Now()

	poll := time.NewTimer(d.pollTimeout)
	defer poll.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case k := <-w.queue:
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				pending[k.Store] = append(pending[k.Store], k.Key)
			}
		case <-poll.C:
			poll.Reset(d.pollTimeout)
		}

		if len(seen) == 0 {
			continue
		}
		if len(seen) < batchSize && time.Since(lastFlush) < period {
			continue
		}

		d.flush(pending)
		pending = make(map[string][]string)
		seen = make(map[models.DistroKey]struct{})
		lastFlush = time.Now()

		batchSize = d.tunables.BatchSyncKeyCount()
		period = d.tunables.TaskDispatchPeriod()
	}
}

// flush turns a batch into one sync task per store and peer
func (d *Dispatcher) flush(pending map[string][]string) {
	peers := d.peers.Peers()
	if len(peers) == 0 {
		n := 0
		for _, keys := range pending {
			n += len(keys)
		}
		d.metrics.TasksDropped.WithLabelValues("no_peers").Add(float64(n))
		return
	}

	d.metrics.Flushes.Inc()
	delay := d.tunables.SyncDelay()
	for storeName, keys := range pending {
		for _, peer := range peers {
			task := &SyncTask{
				Store:  storeName,
				Keys:   append([]string(nil), keys...),
				Target: peer,
			}
			d.syncer.Submit(task, delay)
		}
	}
}

// Stop signals the workers and waits for them to exit. Keys still queued
// are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
		d.logger.Info("Task dispatcher stopped")
	})
}
