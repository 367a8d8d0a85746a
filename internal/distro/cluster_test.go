package distro_test

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/soltixdb/distro/internal/cluster"
	"github.com/soltixdb/distro/internal/config"
	"github.com/soltixdb/distro/internal/distro"
	"github.com/soltixdb/distro/internal/handlers"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/metrics"
	"github.com/soltixdb/distro/internal/middleware"
	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/router"
	"github.com/soltixdb/distro/internal/store"
	"github.com/soltixdb/distro/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storeName = "instances"

// clusterNode is one member of an in-process cluster talking real HTTP
type clusterNode struct {
	addr     string
	ln       net.Listener
	stores   *store.Registry
	members  *cluster.Static
	protocol *distro.Protocol
	metrics  *metrics.Distro
	app      *fiber.App
}

func (n *clusterNode) store(t *testing.T) store.Store {
	t.Helper()
	st, ok := n.stores.Get(storeName)
	require.True(t, ok)
	return st
}

func (n *clusterNode) item(key string) (models.Item, bool) {
	st, _ := n.stores.Get(storeName)
	return st.Get(key)
}

type nodeOptions struct {
	antiEntropy time.Duration
	// before runs ahead of every route, used to inject peer failures
	before fiber.Handler
}

func clusterConfig(opts nodeOptions) distro.Config {
	cfg := distro.DefaultConfig()
	cfg.Workers = 2
	cfg.TaskDispatchPeriod = 20 * time.Millisecond
	cfg.RetryPolicy = distro.FixedPolicy
	cfg.Retry.BaseDelay = 20 * time.Millisecond
	cfg.AntiEntropyInterval = time.Hour
	if opts.antiEntropy > 0 {
		cfg.AntiEntropyInterval = opts.antiEntropy
	}
	cfg.AntiEntropyInitialDelay = 0
	cfg.BootstrapPollInterval = 10 * time.Millisecond
	cfg.BootstrapRetryDelay = 50 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	cfg.KeyAnalyzers = []string{"service"}
	return cfg
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

// startNode brings up one member whose static view lists members
func startNode(t *testing.T, ln net.Listener, members []string, opts nodeOptions) *clusterNode {
	t.Helper()
	logger := logging.NewDevelopment()
	addr := ln.Addr().String()

	n := &clusterNode{
		addr:    addr,
		ln:      ln,
		stores:  store.NewRegistry(),
		metrics: metrics.NewDistro(prometheus.NewRegistry()),
	}
	n.stores.Register(store.NewMemoryStore(storeName), store.RawSchema{})
	n.members = cluster.NewStatic(cluster.StaticConfig{Self: addr, Members: members}, logger)

	peers, err := transport.New(transport.Config{
		Self:        addr,
		Timeout:     2 * time.Second,
		Codec:       "json",
		Compression: "gzip",
	}, logger)
	require.NoError(t, err)

	n.protocol, err = distro.NewProtocol(clusterConfig(opts), n.members, n.stores, peers, logger,
		distro.WithMetrics(n.metrics))
	require.NoError(t, err)

	h := handlers.New(logger, n.protocol, n.members, handlers.Config{PeerURL: peers.BaseURL})
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	n.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})
	if opts.before != nil {
		n.app.Use(opts.before)
	}
	router.Setup(n.app, logger, h, *cfg, nil)
	go func() { _ = n.app.Listener(ln) }()

	require.NoError(t, n.protocol.Start(context.Background()))
	t.Cleanup(func() {
		n.protocol.Stop()
		_ = n.app.Shutdown()
		h.Wait()
		n.members.Stop()
	})
	return n
}

func startCluster(t *testing.T, size int, opts nodeOptions) []*clusterNode {
	t.Helper()
	lns := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range lns {
		lns[i] = listen(t)
		addrs[i] = lns[i].Addr().String()
	}

	nodes := make([]*clusterNode, size)
	for i, ln := range lns {
		nodes[i] = startNode(t, ln, addrs, opts)
	}
	for _, n := range nodes {
		require.Eventually(t, n.protocol.Initialized, 2*time.Second, 10*time.Millisecond)
	}
	return nodes
}

// ownedBy finds a key of the form svc-N#inst1 routed to node
func ownedBy(t *testing.T, node *clusterNode) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("svc-%d#inst1", i)
		if node.protocol.Responsible(key) {
			return key
		}
	}
	t.Fatalf("no key routed to %s", node.addr)
	return ""
}

func ownerOf(nodes []*clusterNode, key string) *clusterNode {
	owner := nodes[0].protocol.Owner(key)
	for _, n := range nodes {
		if n.addr == owner {
			return n
		}
	}
	return nil
}

func TestCluster_WriteReachesEveryMember(t *testing.T) {
	nodes := startCluster(t, 3, nodeOptions{})

	key := "svc-A#inst1"
	owner := ownerOf(nodes, key)
	require.NotNil(t, owner)

	written, err := owner.protocol.Put(storeName, key, []byte(`{"ip":"10.0.0.1","port":8080}`))
	require.NoError(t, err)

	for _, n := range nodes {
		require.Eventually(t, func() bool {
			got, ok := n.item(key)
			return ok && got.Checksum == written.Checksum
		}, 2*time.Second, 10*time.Millisecond, "replica on %s", n.addr)

		got, _ := n.item(key)
		assert.Equal(t, written, got, "replica on %s must be identical", n.addr)
	}
}

func TestCluster_JoiningMemberBootstraps(t *testing.T) {
	ln1, ln2, ln3 := listen(t), listen(t), listen(t)
	a1, a2, a3 := ln1.Addr().String(), ln2.Addr().String(), ln3.Addr().String()

	// two-member cluster with data
	n1 := startNode(t, ln1, []string{a1, a3}, nodeOptions{})
	n3 := startNode(t, ln3, []string{a1, a3}, nodeOptions{})
	require.Eventually(t, n1.protocol.Initialized, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, n3.protocol.Initialized, 2*time.Second, 10*time.Millisecond)

	want := map[string]string{}
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("svc-%d#inst1", i)
		owner := n1
		if !n1.protocol.Responsible(key) {
			owner = n3
		}
		item, err := owner.protocol.Put(storeName, key, []byte(fmt.Sprintf(`"v%d"`, i)))
		require.NoError(t, err)
		want[key] = item.Checksum
	}
	for _, n := range []*clusterNode{n1, n3} {
		require.Eventually(t, func() bool { return n.store(t).Len() == len(want) }, 2*time.Second, 10*time.Millisecond)
	}

	// a third member joins with an empty store
	all := []string{a1, a2, a3}
	n1.members.SetMembers(all)
	n3.members.SetMembers(all)
	n2 := startNode(t, ln2, all, nodeOptions{})

	require.Eventually(t, n2.protocol.Initialized, 2*time.Second, 10*time.Millisecond)
	for key, sum := range want {
		got, ok := n2.item(key)
		require.True(t, ok, "key %s missing after bootstrap", key)
		assert.Equal(t, sum, got.Checksum)
	}
}

func TestCluster_PushRetriedUntilPeerRecovers(t *testing.T) {
	var pushes, failures atomic.Int32
	failFirst := func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPut && c.Path() == transport.PathItems {
			if pushes.Add(1) <= 3 {
				failures.Add(1)
				return c.SendStatus(fiber.StatusServiceUnavailable)
			}
		}
		return c.Next()
	}

	ln1, ln2 := listen(t), listen(t)
	addrs := []string{ln1.Addr().String(), ln2.Addr().String()}
	n1 := startNode(t, ln1, addrs, nodeOptions{})
	n2 := startNode(t, ln2, addrs, nodeOptions{before: failFirst})
	require.Eventually(t, n1.protocol.Initialized, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, n2.protocol.Initialized, 2*time.Second, 10*time.Millisecond)

	key := ownedBy(t, n1)
	written, err := n1.protocol.Put(storeName, key, []byte(`"v1"`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := n2.item(key)
		return ok && got.Checksum == written.Checksum
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(3), failures.Load())
	assert.LessOrEqual(t, pushes.Load(), int32(4))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(n1.metrics.InFlightKeys) == 0
	}, time.Second, 10*time.Millisecond, "dedup entry must be released after success")
}

func TestCluster_AntiEntropyRepairsStaleReplica(t *testing.T) {
	nodes := startCluster(t, 2, nodeOptions{antiEntropy: 50 * time.Millisecond})
	n1, n2 := nodes[0], nodes[1]

	key := ownedBy(t, n1)
	written, err := n1.protocol.Put(storeName, key, []byte(`"fresh"`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, ok := n2.item(key)
		return ok && got.Checksum == written.Checksum
	}, 2*time.Second, 10*time.Millisecond)

	// the replica diverges without any write on the owner
	n2.store(t).Set(key, store.NewItem([]byte(`"stale"`)))
	got, _ := n2.item(key)
	require.NotEqual(t, written.Checksum, got.Checksum)

	require.Eventually(t, func() bool {
		got, ok := n2.item(key)
		return ok && got.Checksum == written.Checksum
	}, 2*time.Second, 10*time.Millisecond)

	owned, _ := n1.item(key)
	assert.Equal(t, written, owned, "owner copy untouched")
}

func TestCluster_AntiEntropyRepairsManyDivergentKeys(t *testing.T) {
	nodes := startCluster(t, 2, nodeOptions{antiEntropy: 50 * time.Millisecond})
	n1, n2 := nodes[0], nodes[1]

	// written straight into the owner's store, so only anti-entropy can carry them
	const want = 600
	owned := 0
	for i := 0; owned < want; i++ {
		key := fmt.Sprintf("DEFAULT_GROUP@@svc-%06d-payment-gateway#10.0.0.1#8080", i)
		if !n1.protocol.Responsible(key) {
			continue
		}
		n1.store(t).Set(key, store.NewItem([]byte(fmt.Sprintf(`{"port":%d}`, i))))
		owned++
	}

	require.Eventually(t, func() bool {
		return n2.store(t).Len() == want
	}, 10*time.Second, 20*time.Millisecond)

	for _, key := range n1.store(t).Keys() {
		ownerCopy, _ := n1.item(key)
		replica, ok := n2.item(key)
		require.True(t, ok, key)
		assert.Equal(t, ownerCopy.Checksum, replica.Checksum, key)
	}
}

func TestCluster_RewriteSameValueKeepsReplicasIdentical(t *testing.T) {
	nodes := startCluster(t, 2, nodeOptions{})
	n1, n2 := nodes[0], nodes[1]
	key := ownedBy(t, n1)

	first, err := n1.protocol.Put(storeName, key, []byte(`"v"`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, ok := n2.item(key)
		return ok && got.Checksum == first.Checksum && got.LastModified == first.LastModified
	}, 2*time.Second, 10*time.Millisecond)

	second, err := n1.protocol.Put(storeName, key, []byte(`"v"`))
	require.NoError(t, err)
	require.Greater(t, second.LastModified, first.LastModified)

	require.Eventually(t, func() bool {
		got, _ := n2.item(key)
		return got.LastModified == second.LastModified
	}, 2*time.Second, 10*time.Millisecond)
	got, _ := n2.item(key)
	assert.Equal(t, second, got)
}
