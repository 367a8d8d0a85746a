package distro

import (
	"sync/atomic"
	"time"
)

// Config holds configuration for the distro protocol
type Config struct {
	// Enabled=false makes this node responsible for every key
	Enabled bool

	// Standalone skips bootstrap and replication entirely
	Standalone bool

	// Workers is the number of dispatcher shards, 0 means runtime.NumCPU()
	Workers int

	// TaskQueueSize bounds each dispatcher shard's queue
	TaskQueueSize int

	// BatchSyncKeyCount, TaskDispatchPeriod and SyncDelay are live tunables,
	// see Tunables
	BatchSyncKeyCount  int
	TaskDispatchPeriod time.Duration
	SyncDelay          time.Duration

	RetryPolicy string
	Retry       RetryConfig
	MaxRetries  int // 0 means unlimited

	AntiEntropyInterval     time.Duration
	AntiEntropyInitialDelay time.Duration

	BootstrapPollInterval time.Duration
	BootstrapPasses       int
	BootstrapRetryDelay   time.Duration

	// FetchBatchKeys caps the keys pulled in one reconcile request
	FetchBatchKeys int

	// RequestTimeout bounds every outbound peer call
	RequestTimeout      time.Duration
	MaxConcurrentPushes int

	KeyAnalyzers []string
}

// DefaultConfig returns the default protocol configuration
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		TaskQueueSize:      128 * 1024,
		BatchSyncKeyCount:  1000,
		TaskDispatchPeriod: 2 * time.Second,
		RetryPolicy:        TimeWeightedPolicy,
		Retry: RetryConfig{
			BaseDelay:      5 * time.Second,
			MaxCoefficient: 4,
			MaxDelay:       time.Minute,
		},
		AntiEntropyInterval:     5 * time.Second,
		AntiEntropyInitialDelay: 5 * time.Second,
		BootstrapPollInterval:   time.Second,
		BootstrapPasses:         5,
		BootstrapRetryDelay:     30 * time.Second,
		FetchBatchKeys:          100,
		RequestTimeout:          5 * time.Second,
		MaxConcurrentPushes:     64,
	}
}

// Validate fills zero values with defaults
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.TaskQueueSize <= 0 {
		c.TaskQueueSize = d.TaskQueueSize
	}
	if c.BatchSyncKeyCount <= 0 {
		c.BatchSyncKeyCount = d.BatchSyncKeyCount
	}
	if c.TaskDispatchPeriod <= 0 {
		c.TaskDispatchPeriod = d.TaskDispatchPeriod
	}
	if c.SyncDelay < 0 {
		c.SyncDelay = 0
	}
	if c.RetryPolicy == "" {
		c.RetryPolicy = d.RetryPolicy
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if c.Retry.MaxCoefficient <= 0 {
		c.Retry.MaxCoefficient = d.Retry.MaxCoefficient
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.AntiEntropyInterval <= 0 {
		c.AntiEntropyInterval = d.AntiEntropyInterval
	}
	if c.AntiEntropyInitialDelay < 0 {
		c.AntiEntropyInitialDelay = 0
	}
	if c.BootstrapPollInterval <= 0 {
		c.BootstrapPollInterval = d.BootstrapPollInterval
	}
	if c.BootstrapPasses <= 0 {
		c.BootstrapPasses = d.BootstrapPasses
	}
	if c.BootstrapRetryDelay <= 0 {
		c.BootstrapRetryDelay = d.BootstrapRetryDelay
	}
	if c.FetchBatchKeys <= 0 {
		c.FetchBatchKeys = d.FetchBatchKeys
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxConcurrentPushes <= 0 {
		c.MaxConcurrentPushes = d.MaxConcurrentPushes
	}
	return nil
}

// Tunables are the settings that may change while the protocol runs.
// Dispatcher workers re-read them after every flush.
type Tunables struct {
	batchSyncKeyCount  atomic.Int64
	taskDispatchPeriod atomic.Int64
	syncDelay          atomic.Int64
}

// NewTunables creates tunables from initial values
func NewTunables(batchSyncKeyCount int, taskDispatchPeriod, syncDelay time.Duration) *Tunables {
	t := &Tunables{}
	t.Update(batchSyncKeyCount, taskDispatchPeriod, syncDelay)
	return t
}

// Update replaces the values; non-positive batch size or period are ignored
func (t *Tunables) Update(batchSyncKeyCount int, taskDispatchPeriod, syncDelay time.Duration) {
	if batchSyncKeyCount > 0 {
		t.batchSyncKeyCount.Store(int64(batchSyncKeyCount))
	}
	if taskDispatchPeriod > 0 {
		t.taskDispatchPeriod.Store(int64(taskDispatchPeriod))
	}
	if syncDelay >= 0 {
		t.syncDelay.Store(int64(syncDelay))
	}
}

func (t *Tunables) BatchSyncKeyCount() int {
	return int(t.batchSyncKeyCount.Load())
}

func (t *Tunables) TaskDispatchPeriod() time.Duration {
	return time.Duration(t.taskDispatchPeriod.Load())
}

func (t *Tunables) SyncDelay() time.Duration {
	return time.Duration(t.syncDelay.Load())
}
