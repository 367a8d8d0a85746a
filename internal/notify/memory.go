package notify

import (
	"context"
	"fmt"
	"sync"
)

// MemoryPublisher keeps messages in per-subject channels. It is useful for
// tests and for embedding a node in-process.
type MemoryPublisher struct {
	channels map[string]chan []byte
	mu       sync.Mutex
	closed   bool
}

func newMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{channels: make(map[string]chan []byte)}
}

// NewMemoryPublisher creates an in-memory publisher
func NewMemoryPublisher() *MemoryPublisher {
	return newMemoryPublisher()
}

// Channel returns the channel messages for subject are delivered to
func (p *MemoryPublisher) Channel(subject string) <-chan []byte {
	return p.getOrCreateChannel(subject)
}

func (p *MemoryPublisher) getOrCreateChannel(subject string) chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch, exists := p.channels[subject]; exists {
		return ch
	}
	ch := make(chan []byte, defaultBufferSize)
	p.channels[subject] = ch
	return ch
}

// Publish publishes a message to an in-memory channel
func (p *MemoryPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("publisher closed")
	}

	ch := p.getOrCreateChannel(subject)

	// Make a copy of data to avoid race conditions
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	select {
	case ch <- dataCopy:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("channel full for subject: %s", subject)
	}
}

// Close rejects further publishes; queued messages stay readable
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
