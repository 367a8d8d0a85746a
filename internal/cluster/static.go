package cluster

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/soltixdb/distro/internal/logging"
)

// StaticConfig lists a fixed set of members
type StaticConfig struct {
	Self     string
	Members  []string      // host:port, self may be included
	Interval time.Duration // probe period, 0 disables probing
	Timeout  time.Duration // per-probe timeout
	Path     string        // probe path, /health by default
}

// Static is a configured member list whose health is probed over HTTP.
// Every member starts out healthy.
type Static struct {
	*view
	cfg    StaticConfig
	client *resty.Client

	mu      sync.Mutex
	members []string

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewStatic creates a static membership
func NewStatic(cfg StaticConfig, logger *logging.Logger) *Static {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/health"
	}

	s := &Static{
		view:   newView(cfg.Self, logger),
		cfg:    cfg,
		client: resty.New().SetTimeout(cfg.Timeout).SetRetryCount(0),
		stopCh: make(chan struct{}),
	}
	s.SetMembers(cfg.Members)
	return s
}

// Client exposes the probe client
func (s *Static) Client() *resty.Client {
	return s.client
}

// SetMembers replaces the member list. New members are assumed healthy
// until a probe says otherwise.
func (s *Static) SetMembers(members []string) {
	s.mu.Lock()
	s.members = append([]string(nil), members...)
	s.mu.Unlock()

	s.view.mu.RLock()
	previous := s.view.members
	s.view.mu.RUnlock()

	next := make(map[string]bool, len(members)+1)
	for _, addr := range members {
		healthy, known := previous[addr]
		next[addr] = !known || healthy
	}
	s.apply(next)
}

// Start launches the probe loop
func (s *Static) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Probe(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Probe checks every member once and publishes the result
func (s *Static) Probe(ctx context.Context) {
	s.mu.Lock()
	members := append([]string(nil), s.members...)
	s.mu.Unlock()

	var mu sync.Mutex
	next := make(map[string]bool, len(members)+1)

	var wg sync.WaitGroup
	for _, addr := range members {
		if addr == s.self {
			continue
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			healthy := s.probe(ctx, addr)
			mu.Lock()
			next[addr] = healthy
			mu.Unlock()
		}(addr)
	}
	wg.Wait()

	s.apply(next)
}

func (s *Static) probe(ctx context.Context, addr string) bool {
	res, err := s.client.R().SetContext(ctx).Get("http://" + addr + s.cfg.Path)
	if err != nil {
		s.logger.Debug("Member probe failed", "member", addr, "error", err)
		return false
	}
	return res.StatusCode() < http.StatusInternalServerError
}

// Stop ends probing
func (s *Static) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}
