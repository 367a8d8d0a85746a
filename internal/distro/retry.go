package distro

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	TimeWeightedPolicy = "time-weighted"
	ExponentialPolicy  = "exponential"
	FixedPolicy        = "fixed"
)

// Resubmitter receives tasks back from a retry policy
type Resubmitter interface {
	RetrySync(task *SyncTask, delay time.Duration) bool
}

// RetryPolicy decides when a failed sync task runs again
type RetryPolicy interface {
	Name() string
	// Delay returns the wait before attempt number retryCount
	Delay(retryCount int) time.Duration
	Retry(task *SyncTask)
}

// RetryConfig parameterizes the built-in policies
type RetryConfig struct {
	BaseDelay      time.Duration
	MaxCoefficient int
	MaxDelay       time.Duration
}

// RetryFactory builds a policy bound to a resubmitter
type RetryFactory func(cfg RetryConfig, target Resubmitter) RetryPolicy

// RetryRegistry maps policy names to factories
type RetryRegistry struct {
	factories map[string]RetryFactory
}

// NewRetryRegistry returns a registry with the built-in policies
func NewRetryRegistry() *RetryRegistry {
	r := &RetryRegistry{factories: make(map[string]RetryFactory)}
	r.Register(TimeWeightedPolicy, func(cfg RetryConfig, target Resubmitter) RetryPolicy {
		return &TimeWeighted{cfg: cfg, target: target}
	})
	r.Register(ExponentialPolicy, func(cfg RetryConfig, target Resubmitter) RetryPolicy {
		return &Exponential{cfg: cfg, target: target}
	})
	r.Register(FixedPolicy, func(cfg RetryConfig, target Resubmitter) RetryPolicy {
		return &Fixed{cfg: cfg, target: target}
	})
	return r
}

// Register adds or replaces a policy factory
func (r *RetryRegistry) Register(name string, factory RetryFactory) {
	r.factories[name] = factory
}

// Names lists registered policies
func (r *RetryRegistry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named policy
func (r *RetryRegistry) Build(name string, cfg RetryConfig, target Resubmitter) (RetryPolicy, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRetryPolicy, name)
	}
	return factory(cfg, target), nil
}

// TimeWeighted grows the delay with the square root of the attempt count,
// capped at MaxCoefficient times the base delay
type TimeWeighted struct {
	cfg    RetryConfig
	target Resubmitter
}

func (p *TimeWeighted) Name() string { return TimeWeightedPolicy }

func (p *TimeWeighted) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	coefficient := int(math.Round(math.Sqrt(float64(retryCount))))
	if coefficient > p.cfg.MaxCoefficient {
		coefficient = p.cfg.MaxCoefficient
	}
	return time.Duration(coefficient) * p.cfg.BaseDelay
}

func (p *TimeWeighted) Retry(task *SyncTask) {
	p.target.RetrySync(task, p.Delay(task.RetryCount))
}

// Exponential doubles the delay per attempt with jitter, bounded by MaxDelay
type Exponential struct {
	cfg    RetryConfig
	target Resubmitter
}

func (p *Exponential) Name() string { return ExponentialPolicy }

func (p *Exponential) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BaseDelay
	b.RandomizationFactor = 0.2
	b.Multiplier = 2
	b.MaxInterval = p.cfg.MaxDelay
	b.MaxElapsedTime = 0 // don't stop
	b.Reset()
	return b
}

func (p *Exponential) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	if retryCount > 64 {
		retryCount = 64 // long past MaxDelay
	}
	b := p.newBackoff()
	var d time.Duration
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p *Exponential) Retry(task *SyncTask) {
	p.target.RetrySync(task, p.Delay(task.RetryCount))
}

// Fixed always waits BaseDelay
type Fixed struct {
	cfg    RetryConfig
	target Resubmitter
}

func (p *Fixed) Name() string { return FixedPolicy }

func (p *Fixed) Delay(_ int) time.Duration {
	return p.cfg.BaseDelay
}

func (p *Fixed) Retry(task *SyncTask) {
	p.target.RetrySync(task, p.Delay(task.RetryCount))
}
