package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/soltixdb/distro/internal/cluster"
	"github.com/soltixdb/distro/internal/config"
	"github.com/soltixdb/distro/internal/distro"
	"github.com/soltixdb/distro/internal/handlers"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/metrics"
	"github.com/soltixdb/distro/internal/notify"
	"github.com/soltixdb/distro/internal/router"
	"github.com/soltixdb/distro/internal/store"
	"github.com/soltixdb/distro/internal/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

// membership is what the node needs from either membership backend
type membership interface {
	distro.Membership
	handlers.MemberLister
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Distro node starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	// 3. Resolve the address peers know us by
	self, err := cfg.GetAdvertiseAddress(getOutboundIP)
	if err != nil {
		logger.Fatal("Failed to resolve advertise address", "error", err)
	}
	logger.Info("Advertise address resolved", "address", self, "bind", cfg.GetBindAddress())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	distroMetrics := metrics.NewDistro(reg)

	// 5. Replicated stores
	stores := newStores(cfg.Distro.Stores)
	logger.Info("Stores registered", "stores", stores.Names())

	// 6. Change notifications
	publisher, err := notify.NewPublisher(cfg.Notify)
	if err != nil {
		logger.Fatal("Failed to create change publisher", "type", cfg.Notify.Type, "error", err)
	}
	notifier := notify.NewNotifier(publisher, cfg.Notify.SubjectPrefix, logger.Component("notify"))
	for _, name := range stores.Names() {
		st, _ := stores.Get(name)
		notifier.Attach(st)
	}
	notifier.Start()
	logger.Info("Change notifier started", "type", cfg.Notify.Type, "prefix", cfg.Notify.SubjectPrefix)

	// 7. Peer transport
	peers, err := transport.New(transport.Config{
		Self:          self,
		Timeout:       cfg.Distro.HTTPTimeout,
		Codec:         cfg.Distro.Codec,
		Compression:   cfg.Distro.Compression,
		ClientVersion: cfg.Distro.ClientVersion,
		Identity:      cfg.Auth.Identity,
	}, logger.Component("transport"))
	if err != nil {
		logger.Fatal("Failed to create peer transport", "error", err)
	}

	// 8. Membership
	members, stopMembers, err := startMembership(ctx, cfg, self, logger.Component("membership"))
	if err != nil {
		logger.Fatal("Failed to start membership", "backend", cfg.Cluster.Membership, "error", err)
	}
	logger.Info("Membership started",
		"backend", cfg.Cluster.Membership,
		"standalone", cfg.Cluster.Standalone,
		"healthy", members.HealthyMembers(),
	)

	// 9. Replication protocol
	protocol, err := distro.NewProtocol(protocolConfig(cfg), members, stores, peers, logger.Component("distro"),
		distro.WithMetrics(distroMetrics))
	if err != nil {
		logger.Fatal("Failed to create distro protocol", "error", err)
	}
	if err := protocol.Start(ctx); err != nil {
		logger.Fatal("Failed to start distro protocol", "error", err)
	}

	// 10. Live tunables
	if *configPath != "" {
		err := config.Watch(*configPath, func(c *config.Config) {
			protocol.Tunables().Update(c.Distro.BatchSyncKeyCount, c.Distro.TaskDispatchPeriod, c.Distro.SyncDelay)
			logger.Info("Distro tunables reloaded",
				"batch_sync_key_count", c.Distro.BatchSyncKeyCount,
				"task_dispatch_period", c.Distro.TaskDispatchPeriod,
				"sync_delay", c.Distro.SyncDelay,
			)
		}, func(err error) {
			logger.Warn("Ignoring invalid config change", "error", err)
		})
		if err != nil {
			logger.Warn("Config watch disabled", "error", err)
		}
	}

	// Log authentication status
	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}
	if cfg.Auth.Identity == "" {
		logger.Warn("Peer identity not configured - /distro endpoints accept any caller")
	}

	// 11. HTTP server
	h := handlers.New(logger, protocol, members, handlers.Config{
		Version: Version,
		PeerURL: peers.BaseURL,
	})
	app := router.New(logger, h, *cfg, reg)

	go func() {
		addr := cfg.GetBindAddress()
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// 12. Wait for shutdown signal
	waitForShutdown(logger, cancel)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	h.Wait()

	protocol.Stop()
	stopMembers()
	if err := notifier.Stop(); err != nil {
		logger.Warn("Failed to close change publisher", "error", err)
	}

	logger.Info("Distro node stopped")
	_ = logger.Sync()
}

func newStores(names []string) *store.Registry {
	reg := store.NewRegistry()
	for _, name := range names {
		var schema store.Schema = store.RawSchema{}
		if name == "instances" {
			schema = store.NewInstanceSchema()
		}
		reg.Register(store.NewMemoryStore(name), schema)
	}
	return reg
}

func protocolConfig(cfg *config.Config) distro.Config {
	d := cfg.Distro
	return distro.Config{
		Enabled:            d.Enabled,
		Standalone:         cfg.Cluster.Standalone,
		Workers:            d.Workers,
		TaskQueueSize:      d.TaskQueueSize,
		BatchSyncKeyCount:  d.BatchSyncKeyCount,
		TaskDispatchPeriod: d.TaskDispatchPeriod,
		SyncDelay:          d.SyncDelay,
		RetryPolicy:        d.RetryPolicy,
		Retry: distro.RetryConfig{
			BaseDelay:      d.RetryBaseDelay,
			MaxCoefficient: d.RetryMaxCoefficient,
			MaxDelay:       d.RetryMaxDelay,
		},
		MaxRetries:              d.MaxRetries,
		AntiEntropyInterval:     d.AntiEntropyInterval,
		AntiEntropyInitialDelay: d.AntiEntropyInitialDelay,
		BootstrapPollInterval:   d.BootstrapPollInterval,
		BootstrapPasses:         d.BootstrapPasses,
		BootstrapRetryDelay:     d.BootstrapRetryDelay,
		RequestTimeout:          d.HTTPTimeout,
		MaxConcurrentPushes:     d.MaxConcurrentPushes,
		FetchBatchKeys:          d.FetchBatchKeys,
		KeyAnalyzers:            d.KeyAnalyzers,
	}
}

// startMembership builds the configured backend and returns its stop func
func startMembership(ctx context.Context, cfg *config.Config, self string, logger *logging.Logger) (membership, func(), error) {
	if !cfg.IsEtcdMembership() {
		members := cfg.Cluster.Members
		if cfg.Cluster.Standalone {
			members = nil
		}
		static := cluster.NewStatic(cluster.StaticConfig{
			Self:     self,
			Members:  members,
			Interval: cfg.Cluster.HealthCheckInterval,
			Timeout:  cfg.Cluster.HealthCheckTimeout,
		}, logger)
		if !cfg.Cluster.Standalone {
			static.Start(ctx)
		}
		return static, static.Stop, nil
	}

	logger.Info("Connecting to etcd", "endpoints", cfg.Etcd.Endpoints)
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: cfg.Etcd.DialTimeout,
		Username:    cfg.Etcd.Username,
		Password:    cfg.Etcd.Password,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	etcd := cluster.NewEtcd(client, cluster.EtcdConfig{
		Self:     self,
		Prefix:   cfg.Cluster.EtcdPrefix,
		LeaseTTL: cfg.Cluster.LeaseTTL,
		Version:  Version,
	}, logger)
	if err := etcd.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	stop := func() {
		deregCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := etcd.Deregister(deregCtx); err != nil {
			logger.Warn("Failed to deregister from etcd", "error", err)
		}
		etcd.Stop()
		_ = client.Close()
	}
	return etcd, stop, nil
}

// waitForShutdown waits for interrupt signal and cancels background work
func waitForShutdown(logger *logging.Logger, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())
	cancel()
}

// getOutboundIP gets the non-loopback IP address of this machine
// by attempting to establish a UDP connection to a public DNS server.
func getOutboundIP() string {
	// No packets are sent; dialing only selects the local address
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer func() { _ = conn.Close() }()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
