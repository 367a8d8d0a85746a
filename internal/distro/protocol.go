package distro

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/metrics"
	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/store"
)

// Protocol owns the replication components of one node and their lifecycle
type Protocol struct {
	cfg        Config
	membership Membership
	stores     StoreRegistry
	transport  Transport
	logger     *logging.Logger
	metrics    *metrics.Distro

	mapper      *Mapper
	tunables    *Tunables
	syncer      *Syncer
	dispatcher  *Dispatcher
	antiEntropy *AntiEntropy

	initialized atomic.Bool
	started     atomic.Bool
	stopped     atomic.Bool

	membersMu sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// Option customizes a Protocol
type Option func(*options)

type options struct {
	metrics   *metrics.Distro
	retries   *RetryRegistry
	analyzers *AnalyzerRegistry
}

// WithMetrics reports to m instead of a private registry
func WithMetrics(m *metrics.Distro) Option {
	return func(o *options) { o.metrics = m }
}

// WithRetryRegistry makes additional retry policies selectable by name
func WithRetryRegistry(r *RetryRegistry) Option {
	return func(o *options) { o.retries = r }
}

// WithAnalyzerRegistry makes additional key analyzers selectable by name
func WithAnalyzerRegistry(r *AnalyzerRegistry) Option {
	return func(o *options) { o.analyzers = r }
}

// NewProtocol wires the protocol components
func NewProtocol(
	cfg Config,
	membership Membership,
	stores StoreRegistry,
	transport Transport,
	logger *logging.Logger,
	opts ...Option,
) (*Protocol, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	if o.retries == nil {
		o.retries = NewRetryRegistry()
	}
	if o.analyzers == nil {
		o.analyzers = NewAnalyzerRegistry()
	}

	analyzers, err := o.analyzers.Build(cfg.KeyAnalyzers)
	if err != nil {
		return nil, err
	}

	p := &Protocol{
		cfg:        cfg,
		membership: membership,
		stores:     stores,
		transport:  transport,
		logger:     logger,
		metrics:    o.metrics,
		tunables:   NewTunables(cfg.BatchSyncKeyCount, cfg.TaskDispatchPeriod, cfg.SyncDelay),
	}

	p.mapper = NewMapper(membership.Self(), cfg.Enabled, cfg.Standalone, analyzers, logger.Component("mapper"))

	p.syncer = NewSyncer(stores, transport, p.mapper, cfg.RequestTimeout, cfg.MaxConcurrentPushes,
		cfg.MaxRetries, logger.Component("syncer"), p.metrics)
	policy, err := o.retries.Build(cfg.RetryPolicy, cfg.Retry, p.syncer)
	if err != nil {
		return nil, err
	}
	p.syncer.SetRetryPolicy(policy)

	p.dispatcher = NewDispatcher(cfg.Workers, cfg.TaskQueueSize, p.tunables, p.mapper, p.syncer,
		logger.Component("dispatcher"), p.metrics)

	p.antiEntropy = NewAntiEntropy(cfg.AntiEntropyInterval, cfg.AntiEntropyInitialDelay, cfg.RequestTimeout, cfg.FetchBatchKeys,
		p.mapper, stores, transport, p.Initialized, logger.Component("anti-entropy"), p.metrics)

	return p, nil
}

// Start begins dispatching, anti-entropy and bootstrap. It never fails
// because peers are unreachable; bootstrap keeps retrying in the background.
func (p *Protocol) Start(ctx context.Context) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("distro protocol already started")
	}

	ctx, p.cancel = context.WithCancel(ctx)

	p.membership.Subscribe(p.onMembershipChange)
	p.refreshMembers()

	p.dispatcher.Start()
	p.antiEntropy.Start(ctx)

	p.logger.Info("Distro protocol starting",
		"self", p.membership.Self(),
		"standalone", p.cfg.Standalone,
		"retry_policy", p.cfg.RetryPolicy,
		"key_analyzers", p.cfg.KeyAnalyzers)

	if p.cfg.Standalone {
		p.markInitialized()
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.bootstrap(ctx)
	}()
	return nil
}

// onMembershipChange ignores the delivered list and re-reads the view, so a
// late notification can never install an older list over a newer one.
func (p *Protocol) onMembershipChange([]string) {
	p.refreshMembers()
}

func (p *Protocol) refreshMembers() {
	p.membersMu.Lock()
	defer p.membersMu.Unlock()

	healthy := p.membership.HealthyMembers()
	p.mapper.OnMembershipChange(healthy)
	p.metrics.Members.Set(float64(len(healthy)))
}

func (p *Protocol) markInitialized() {
	p.initialized.Store(true)
	p.metrics.Initialized.Set(1)
	p.logger.Info("Distro protocol initialized")
}

// bootstrap waits for peers and loads the first snapshot one of them serves
func (p *Protocol) bootstrap(ctx context.Context) {
	for len(p.mapper.Healthy()) <= 1 {
		if !sleepCtx(ctx, p.cfg.BootstrapPollInterval) {
			return
		}
	}

	for {
		for pass := 0; pass < p.cfg.BootstrapPasses; pass++ {
			if p.loadFromPeers(ctx) {
				p.markInitialized()
				return
			}
			if ctx.Err() != nil {
				return
			}
		}

		p.logger.Warn("Bootstrap exhausted its retry budget, retrying in background",
			"passes", p.cfg.BootstrapPasses, "retry_delay", p.cfg.BootstrapRetryDelay)
		if !sleepCtx(ctx, p.cfg.BootstrapRetryDelay) {
			return
		}
	}
}

// loadFromPeers makes one pass over the peers and reports whether a
// snapshot was loaded
func (p *Protocol) loadFromPeers(ctx context.Context) bool {
	for _, peer := range p.mapper.Peers() {
		fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		snapshot, err := p.transport.FetchSnapshot(fetchCtx, peer)
		cancel()
		if err != nil {
			p.logger.Warn("Snapshot pull failed", "peer", peer, "error", err)
			continue
		}

		n, err := p.stores.LoadSnapshot(snapshot)
		if err != nil {
			p.logger.Warn("Snapshot partially rejected", "peer", peer, "loaded", n, "error", err)
			if n == 0 && snapshot.Len() > 0 {
				continue
			}
		}
		p.logger.Info("Snapshot loaded", "peer", peer, "items", n)
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Submit queues a locally changed key for replication
func (p *Protocol) Submit(storeName, key string) bool {
	return p.dispatcher.AddTask(storeName, key)
}

// Put writes a value to the local store and replicates it
func (p *Protocol) Put(storeName, key string, value []byte) (models.Item, error) {
	st, ok := p.stores.Get(storeName)
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName)
	}
	if err := p.stores.Validate(storeName, value); err != nil {
		return models.Item{}, err
	}

	item := st.Put(key, value)
	p.Submit(storeName, key)
	return item, nil
}

// Get reads a value from the local store
func (p *Protocol) Get(storeName, key string) (models.Item, error) {
	st, ok := p.stores.Get(storeName)
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName)
	}
	item, ok := st.Get(key)
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %s/%s", store.ErrKeyNotFound, storeName, key)
	}
	return item, nil
}

// Remove deletes a key locally. Peers drop their copy on the next
// anti-entropy round.
func (p *Protocol) Remove(storeName, key string) (bool, error) {
	st, ok := p.stores.Get(storeName)
	if !ok {
		return false, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName)
	}
	return st.Remove(key), nil
}

// OnReceiveItems applies a push from a peer and reports whether anything
// changed. Items that fail schema validation are skipped.
func (p *Protocol) OnReceiveItems(data models.StoreItems) (bool, error) {
	modified := false
	var errs []error

	for storeName, items := range data {
		st, ok := p.stores.Get(storeName)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName))
			continue
		}
		for key, item := range items {
			if err := p.stores.Validate(storeName, item.Value); err != nil {
				p.metrics.ReceivedItems.WithLabelValues("rejected").Inc()
				errs = append(errs, fmt.Errorf("key %s: %w", key, err))
				continue
			}
			if st.Apply(key, item) {
				modified = true
				p.metrics.ReceivedItems.WithLabelValues("applied").Inc()
			} else {
				p.metrics.ReceivedItems.WithLabelValues("unchanged").Inc()
			}
		}
	}

	return modified, errors.Join(errs...)
}

// ItemsFor returns the named keys of a store
func (p *Protocol) ItemsFor(storeName string, keys []string) (models.Items, error) {
	st, ok := p.stores.Get(storeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrStoreNotFound, storeName)
	}
	return st.GetBatch(keys), nil
}

// Snapshot returns every store's contents
func (p *Protocol) Snapshot() models.StoreItems {
	return p.stores.Snapshot()
}

// OnReceiveChecksums reconciles against a peer's digest
func (p *Protocol) OnReceiveChecksums(ctx context.Context, source string, digest models.Checksums) (ReconcileResult, error) {
	return p.antiEntropy.OnReceiveChecksums(ctx, source, digest)
}

// Initialized reports whether bootstrap has completed
func (p *Protocol) Initialized() bool {
	return p.initialized.Load()
}

// Responsible reports whether this node owns key
func (p *Protocol) Responsible(key string) bool {
	return p.mapper.Responsible(key)
}

// Owner returns the address of the member owning key
func (p *Protocol) Owner(key string) string {
	return p.mapper.MapServer(key)
}

// Self returns this node's address
func (p *Protocol) Self() string {
	return p.mapper.Self()
}

// HealthyMembers returns the sorted healthy member snapshot
func (p *Protocol) HealthyMembers() []string {
	return p.mapper.Healthy()
}

// Tunables exposes the live-tunable settings
func (p *Protocol) Tunables() *Tunables {
	return p.tunables
}

// Stop shuts down anti-entropy, then the syncer, then the dispatcher. It is
// safe to call more than once.
func (p *Protocol) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		if p.cancel != nil {
			p.cancel()
		}
		p.antiEntropy.Stop()
		p.syncer.Stop()
		p.dispatcher.Stop()
		p.wg.Wait()
		p.logger.Info("Distro protocol stopped")
	})
}
