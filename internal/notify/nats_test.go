package notify

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/distro/internal/config"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/store"
)

// setupTestNATS creates an embedded NATS server for testing
func setupTestNATS(t *testing.T) (string, func()) {
	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1, // Random port
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("Failed to create NATS server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	cleanup := func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return ns.ClientURL(), cleanup
}

func TestNATSPublisher(t *testing.T) {
	url, cleanup := setupTestNATS(t)
	defer cleanup()

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 10)
	_, err = sub.ChanSubscribe("distro.changes.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := NewPublisher(config.NotifyConfig{Type: "nats", URL: url})
	require.NoError(t, err)

	n := NewNotifier(pub, "distro.changes", logging.NewDevelopment())
	n.Start()

	st := store.NewMemoryStore("instances")
	n.Attach(st)
	st.Put("svc#1", []byte("v1"))

	select {
	case msg := <-msgs:
		assert.Equal(t, "distro.changes.instances", msg.Subject)
		assert.Contains(t, string(msg.Data), `"key":"svc#1"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, n.Stop())
}

func TestNATSPublisher_WithConn(t *testing.T) {
	url, cleanup := setupTestNATS(t)
	defer cleanup()

	conn, err := nats.Connect(url)
	require.NoError(t, err)

	pub := newNATSPublisherWithConn(conn)
	assert.NoError(t, pub.Publish(context.Background(), "a.b", []byte("x")))
	assert.NoError(t, pub.Close())
}

func TestNewNATSPublisher_InvalidURL(t *testing.T) {
	_, err := newNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:1"})
	assert.Error(t, err)
}
