package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
)

// EtcdConfig configures etcd-backed membership
type EtcdConfig struct {
	Self     string
	Prefix   string // members register under Prefix + address
	LeaseTTL int64  // seconds
	Version  string
}

// Etcd registers this node under a lease and watches the member prefix.
// A member is healthy while its lease is alive.
type Etcd struct {
	*view
	client *clientv3.Client
	cfg    EtcdConfig
	info   models.MemberInfo

	mu      sync.Mutex
	leaseID clientv3.LeaseID

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEtcd creates the membership; Start registers and begins watching
func NewEtcd(client *clientv3.Client, cfg EtcdConfig, logger *logging.Logger) *Etcd {
	if cfg.Prefix == "" {
		cfg.Prefix = "/distro/members/"
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10
	}

	now := time.Now()
	return &Etcd{
		view:   newView(cfg.Self, logger),
		client: client,
		cfg:    cfg,
		info: models.MemberInfo{
			Address:   cfg.Self,
			Version:   cfg.Version,
			Status:    "up",
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

func (e *Etcd) key(addr string) string {
	return e.cfg.Prefix + addr
}

// Start registers this node, loads the current members and watches for changes
func (e *Etcd) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if err := e.register(ctx); err != nil {
		return err
	}

	rev, err := e.load(ctx)
	if err != nil {
		return err
	}

	e.wg.Add(2)
	go e.keepAlive(ctx)
	go e.watch(ctx, rev+1)
	return nil
}

// register grants a lease and writes this node's info under it
func (e *Etcd) register(ctx context.Context) error {
	lease, err := e.client.Grant(ctx, e.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	e.mu.Lock()
	e.leaseID = lease.ID
	e.info.UpdatedAt = time.Now()
	data, err := json.Marshal(e.info)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal member info: %w", err)
	}

	if _, err := e.client.Put(ctx, e.key(e.self), string(data), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register member: %w", err)
	}

	e.logger.Info("Member registered", "address", e.self, "lease_id", int64(lease.ID), "ttl", e.cfg.LeaseTTL)
	return nil
}

// load reads every registered member and returns the revision it saw
func (e *Etcd) load(ctx context.Context) (int64, error) {
	resp, err := e.client.Get(ctx, e.cfg.Prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list members: %w", err)
	}

	members := make(map[string]bool, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if addr := e.addressOf(kv.Key, kv.Value); addr != "" {
			members[addr] = true
		}
	}
	e.apply(members)
	return resp.Header.Revision, nil
}

func (e *Etcd) addressOf(key, value []byte) string {
	var info models.MemberInfo
	if err := json.Unmarshal(value, &info); err == nil && info.Address != "" {
		return info.Address
	}
	return strings.TrimPrefix(string(key), e.cfg.Prefix)
}

// keepAlive maintains the lease and re-registers if it is lost
func (e *Etcd) keepAlive(ctx context.Context) {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		leaseID := e.leaseID
		e.mu.Unlock()

		ch, err := e.client.KeepAlive(ctx, leaseID)
		if err != nil {
			e.logger.Error("Failed to start keep-alive", "error", err)
		} else {
			for ka := range ch {
				e.logger.Debug("Heartbeat sent", "lease_id", int64(leaseID), "ttl", ka.TTL)
			}
		}

		if ctx.Err() != nil {
			e.logger.Info("Keep-alive stopped (context done)")
			return
		}

		e.logger.Warn("Keep-alive channel closed, attempting re-registration")
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return
		}
		if err := e.register(ctx); err != nil {
			e.logger.Error("Failed to re-register", "error", err)
		}
	}
}

// watch applies member puts and deletes from rev onwards
func (e *Etcd) watch(ctx context.Context, rev int64) {
	defer e.wg.Done()

	for ctx.Err() == nil {
		wch := e.client.Watch(ctx, e.cfg.Prefix, clientv3.WithPrefix(), clientv3.WithRev(rev))
		for resp := range wch {
			if err := resp.Err(); err != nil {
				e.logger.Warn("Member watch error", "error", err)
				break
			}
			rev = resp.Header.Revision + 1

			e.view.mu.RLock()
			next := make(map[string]bool, len(e.view.members))
			for addr, healthy := range e.view.members {
				next[addr] = healthy
			}
			e.view.mu.RUnlock()

			for _, ev := range resp.Events {
				switch ev.Type {
				case clientv3.EventTypePut:
					if addr := e.addressOf(ev.Kv.Key, ev.Kv.Value); addr != "" {
						next[addr] = true
					}
				case clientv3.EventTypeDelete:
					delete(next, strings.TrimPrefix(string(ev.Kv.Key), e.cfg.Prefix))
				}
			}
			e.apply(next)
		}

		if ctx.Err() != nil {
			return
		}
		// compacted or broken watch: resync from a fresh listing
		newRev, err := e.load(ctx)
		if err != nil {
			e.logger.Error("Failed to reload members", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		rev = newRev + 1
	}
}

// Deregister removes this node and revokes its lease
func (e *Etcd) Deregister(ctx context.Context) error {
	e.logger.Info("Deregistering member", "address", e.self)

	_, err := e.client.Delete(ctx, e.key(e.self))
	if err != nil {
		e.logger.Error("Failed to delete member key", "error", err)
	}

	e.mu.Lock()
	leaseID := e.leaseID
	e.mu.Unlock()
	if leaseID != 0 {
		if _, rerr := e.client.Revoke(ctx, leaseID); rerr != nil {
			e.logger.Error("Failed to revoke lease", "error", rerr)
		}
	}
	return err
}

// Stop ends the keep-alive and watch loops
func (e *Etcd) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}
