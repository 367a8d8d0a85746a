package compression

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Algorithm names a payload content encoding. The value doubles as the
// HTTP Content-Encoding token carried on peer requests.
type Algorithm string

const (
	None   Algorithm = "identity"
	Gzip   Algorithm = "gzip"
	Snappy Algorithm = "snappy"
)

// Compressor interface for compression algorithms
type Compressor interface {
	// Compress compresses data
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses data
	Decompress(data []byte) ([]byte, error)

	// Algorithm returns the compression algorithm type
	Algorithm() Algorithm
}

// Factory constructs a Compressor
type Factory func() Compressor

var (
	registryMu sync.RWMutex
	registry   = map[Algorithm]Factory{
		None:   func() Compressor { return &NoneCompressor{} },
		Gzip:   func() Compressor { return NewGzipCompressor() },
		Snappy: func() Compressor { return NewSnappyCompressor() },
	}
)

// Register adds or replaces a compressor factory
func Register(algo Algorithm, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[algo] = factory
}

// GetCompressor returns a compressor for the given algorithm
func GetCompressor(algo Algorithm) (Compressor, error) {
	registryMu.RLock()
	factory, ok := registry[algo]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
	return factory(), nil
}

// ForContentEncoding resolves a Content-Encoding header value. An empty
// header means the body is not encoded.
func ForContentEncoding(header string) (Compressor, error) {
	header = strings.ToLower(strings.TrimSpace(header))
	if header == "" {
		return &NoneCompressor{}, nil
	}
	return GetCompressor(Algorithm(header))
}

// Names lists registered algorithms
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for algo := range registry {
		names = append(names, string(algo))
	}
	sort.Strings(names)
	return names
}

// NoneCompressor is a no-op compressor
type NoneCompressor struct{}

func (n *NoneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (n *NoneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

func (n *NoneCompressor) Algorithm() Algorithm {
	return None
}
