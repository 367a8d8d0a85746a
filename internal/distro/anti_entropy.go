package distro

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/metrics"
	"github.com/soltixdb/distro/internal/models"
)

const (
	defaultFetchBatchKeys = 100
	// maxFetchQueryBytes keeps one escaped keys= query well under the
	// receiving server's header buffer
	maxFetchQueryBytes = 2048
)

// ownership is the part of the Mapper reconciliation depends on
type ownership interface {
	Responsible(key string) bool
	MapServer(key string) string
	Peers() []string
}

// ReconcileResult summarizes one processed checksum message
type ReconcileResult struct {
	Updated int
	Removed int
}

// AntiEntropy periodically sends checksums of owned keys to every peer and
// repairs the local copy of other owners' keys when their checksums arrive
type AntiEntropy struct {
	interval       time.Duration
	initialDelay   time.Duration
	timeout        time.Duration
	fetchBatchKeys int

	owner     ownership
	stores    StoreRegistry
	transport Transport
	ready     func() bool
	logger    *logging.Logger
	metrics   *metrics.Distro

	// per-source guard for OnReceiveChecksums
	reconciling sync.Map

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAntiEntropy creates the scanner. ready gates the periodic push so a node
// that has not bootstrapped does not advertise an empty digest. fetchBatchKeys
// <= 0 selects the default pull batch.
func NewAntiEntropy(
	interval, initialDelay, timeout time.Duration,
	fetchBatchKeys int,
	owner ownership,
	stores StoreRegistry,
	transport Transport,
	ready func() bool,
	logger *logging.Logger,
	m *metrics.Distro,
) *AntiEntropy {
	if fetchBatchKeys <= 0 {
		fetchBatchKeys = defaultFetchBatchKeys
	}
	return &AntiEntropy{
		interval:       interval,
		initialDelay:   initialDelay,
		timeout:        timeout,
		fetchBatchKeys: fetchBatchKeys,
		owner:          owner,
		stores:         stores,
		transport:      transport,
		ready:          ready,
		logger:         logger,
		metrics:        m,
		stopCh:         make(chan struct{}),
	}
}

// Start starts the periodic checksum push
func (ae *AntiEntropy) Start(ctx context.Context) {
	ae.logger.Info("Starting anti-entropy", "interval", ae.interval, "initial_delay", ae.initialDelay)

	ae.wg.Add(1)
	go ae.run(ctx)
}

// Stop stops the scanner and waits for in-flight digest pushes
func (ae *AntiEntropy) Stop() {
	ae.once.Do(func() {
		close(ae.stopCh)
		ae.wg.Wait()
		ae.logger.Info("Anti-entropy stopped")
	})
}

func (ae *AntiEntropy) run(ctx context.Context) {
	defer ae.wg.Done()

	initialDelay := time.NewTimer(ae.initialDelay)
	defer initialDelay.Stop()

	select {
	case <-initialDelay.C:
		ae.RunOnce(ctx)
	case <-ae.stopCh:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(ae.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ae.RunOnce(ctx)
		case <-ae.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Digest computes checksums of the keys this node owns. Every store is
// present, with an empty map when it owns nothing, so receivers can drop
// keys the owner deleted.
func (ae *AntiEntropy) Digest() models.Checksums {
	digest := make(models.Checksums)
	for _, name := range ae.stores.Names() {
		st, _ := ae.stores.Get(name)
		sums := make(map[string]string)
		for _, key := range st.Keys() {
			if !ae.owner.Responsible(key) {
				continue
			}
			if sum, ok := st.Checksum(key); ok {
				sums[key] = sum
			}
		}
		digest[name] = sums
	}
	return digest
}

// RunOnce sends one digest to every peer, each peer on its own goroutine.
// The whole digest goes in one message: receivers treat missing keys as
// deleted, so splitting it would delete data.
func (ae *AntiEntropy) RunOnce(ctx context.Context) {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	if ae.ready != nil && !ae.ready() {
		ae.logger.Debug("Skipping anti-entropy round, not initialized")
		return
	}

	peers := ae.owner.Peers()
	if len(peers) == 0 {
		return
	}

	digest := ae.Digest()
	ae.metrics.ChecksumRounds.Inc()

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			pushCtx, cancel := context.WithTimeout(ctx, ae.timeout)
			defer cancel()
			if err := ae.transport.PushChecksums(pushCtx, peer, digest); err != nil {
				ae.logger.Warn("Checksum push failed", "target", peer, "error", err)
			}
		}(peer)
	}
	wg.Wait()
}

// OnReceiveChecksums reconciles local replicas owned by source against its
// digest. Keys that differ are pulled from source in one batch per store,
// keys routed to source but absent from the digest are removed. A digest
// naming any key this node owns is rejected whole.
func (ae *AntiEntropy) OnReceiveChecksums(ctx context.Context, source string, digest models.Checksums) (ReconcileResult, error) {
	var result ReconcileResult

	if _, busy := ae.reconciling.LoadOrStore(source, struct{}{}); busy {
		ae.logger.Warn("Checksum reconciliation already running for source", "source", source)
		return result, ErrReconcileInProgress
	}
	defer ae.reconciling.Delete(source)

	ae.metrics.ChecksumsReceived.Inc()

	storeNames := make([]string, 0, len(digest))
	for name, sums := range digest {
		for key := range sums {
			if ae.owner.Responsible(key) {
				ae.metrics.ProtocolViolations.Inc()
				ae.logger.Error("Received checksum for locally owned key, message discarded",
					"source", source, "store", name, "key", key)
				return result, fmt.Errorf("%w: %s/%s from %s", ErrProtocolViolation, name, key, source)
			}
		}
		storeNames = append(storeNames, name)
	}
	sort.Strings(storeNames)

	for _, name := range storeNames {
		updated, removed := ae.reconcileStore(ctx, source, name, digest[name])
		result.Updated += updated
		result.Removed += removed
	}
	return result, nil
}

func (ae *AntiEntropy) reconcileStore(ctx context.Context, source, name string, sums map[string]string) (int, int) {
	st, ok := ae.stores.Get(name)
	if !ok {
		ae.logger.Warn("Checksums received for unknown store", "source", source, "store", name)
		return 0, 0
	}

	var toUpdate, toRemove []string
	// local checksum each pulled key was compared against
	seen := make(map[string]string)
	for key, sum := range sums {
		if local, ok := st.Checksum(key); !ok || local != sum {
			toUpdate = append(toUpdate, key)
			seen[key] = local
		}
	}
	for _, key := range st.Keys() {
		if _, listed := sums[key]; listed {
			continue
		}
		if ae.owner.MapServer(key) == source && !ae.owner.Responsible(key) {
			toRemove = append(toRemove, key)
		}
	}

	removed := 0
	for _, key := range toRemove {
		if st.Remove(key) {
			removed++
		}
	}
	ae.metrics.ReconciledKeys.WithLabelValues("remove").Add(float64(removed))

	if len(toRemove) > 0 || len(toUpdate) > 0 {
		ae.logger.Info("Reconciling store",
			"source", source, "store", name, "to_update", len(toUpdate), "to_remove", len(toRemove))
	}

	sort.Strings(toUpdate)
	updated := 0
	for _, batch := range chunkKeys(toUpdate, ae.fetchBatchKeys, maxFetchQueryBytes) {
		items, err := ae.fetch(ctx, source, name, batch)
		if err != nil {
			ae.logger.Error("Failed to fetch items from source",
				"source", source, "store", name, "keys", len(batch), "error", err)
			continue
		}

		for key, item := range items {
			if ae.owner.Responsible(key) {
				continue
			}
			if err := ae.stores.Validate(name, item.Value); err != nil {
				ae.logger.Warn("Dropping invalid item from source", "source", source, "store", name, "key", key, "error", err)
				continue
			}
			if st.Repair(key, item, seen[key]) {
				updated++
			}
		}
	}
	ae.metrics.ReconciledKeys.WithLabelValues("update").Add(float64(updated))
	return updated, removed
}

func (ae *AntiEntropy) fetch(ctx context.Context, source, name string, keys []string) (models.Items, error) {
	ctx, cancel := context.WithTimeout(ctx, ae.timeout)
	defer cancel()
	return ae.transport.FetchItems(ctx, source, name, keys)
}

// chunkKeys splits keys into batches of at most maxKeys whose escaped,
// comma-joined form stays within maxBytes. A single key longer than maxBytes
// still gets a batch of its own.
func chunkKeys(keys []string, maxKeys, maxBytes int) [][]string {
	var batches [][]string
	var cur []string
	size := 0
	for _, key := range keys {
		n := len(url.QueryEscape(key))
		if len(cur) > 0 {
			n += len("%2C")
		}
		if len(cur) > 0 && (len(cur) >= maxKeys || size+n > maxBytes) {
			batches = append(batches, cur)
			cur, size = nil, 0
			n = len(url.QueryEscape(key))
		}
		cur = append(cur, key)
		size += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
