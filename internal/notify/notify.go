// Package notify publishes store change events to an external queue so
// other systems can follow what the cluster replicates.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/store"
)

// Publisher publishes messages to a queue
type Publisher interface {
	// Publish publishes a message to a subject/topic
	Publish(ctx context.Context, subject string, data []byte) error

	// Close closes the connection
	Close() error
}

const defaultBufferSize = 10000

// Notifier forwards store events to a Publisher from a single background
// goroutine so writers never wait on the queue
type Notifier struct {
	publisher Publisher
	prefix    string
	timeout   time.Duration
	logger    *logging.Logger

	events chan store.Event

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	once    sync.Once
}

// NewNotifier creates a notifier publishing to <prefix>.<store>
func NewNotifier(publisher Publisher, prefix string, logger *logging.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		prefix:    prefix,
		timeout:   5 * time.Second,
		logger:    logger,
		events:    make(chan store.Event, defaultBufferSize),
	}
}

// Subject returns the subject events of storeName are published to
func (n *Notifier) Subject(storeName string) string {
	if n.prefix == "" {
		return storeName
	}
	return n.prefix + "." + storeName
}

// Attach subscribes the notifier to a store
func (n *Notifier) Attach(s store.Store) {
	s.Subscribe(n.Enqueue)
}

// Enqueue queues an event; it drops the event when the buffer is full
func (n *Notifier) Enqueue(ev store.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return
	}

	select {
	case n.events <- ev:
	default:
		n.logger.Warn("Notification buffer full, event dropped", "store", ev.Store, "key", ev.Key)
	}
}

// Start launches the publishing goroutine
func (n *Notifier) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for ev := range n.events {
			n.publish(ev)
		}
	}()
}

func (n *Notifier) publish(ev store.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("Failed to encode change event", "store", ev.Store, "key", ev.Key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, n.Subject(ev.Store), data); err != nil {
		n.logger.Warn("Failed to publish change event", "store", ev.Store, "key", ev.Key, "error", err)
	}
}

// Stop drains queued events and closes the publisher
func (n *Notifier) Stop() error {
	var err error
	n.once.Do(func() {
		n.mu.Lock()
		n.stopped = true
		close(n.events)
		n.mu.Unlock()

		n.wg.Wait()
		err = n.publisher.Close()
	})
	return err
}
