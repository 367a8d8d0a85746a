package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// GzipCompressor implements Compressor using gzip. Writers are pooled since
// every replication push allocates one otherwise.
type GzipCompressor struct {
	level   int
	writers sync.Pool
}

// NewGzipCompressor creates a gzip compressor with the default level
func NewGzipCompressor() *GzipCompressor {
	return NewGzipCompressorLevel(gzip.DefaultCompression)
}

// NewGzipCompressorLevel creates a gzip compressor with a specific level
func NewGzipCompressorLevel(level int) *GzipCompressor {
	return &GzipCompressor{level: level}
}

// Compress compresses data using gzip
func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, _ := g.writers.Get().(*gzip.Writer)
	if w == nil {
		var err error
		w, err = gzip.NewWriterLevel(&buf, g.level)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
	} else {
		w.Reset(&buf)
	}
	defer g.writers.Put(w)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses gzip data
func (g *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress failed: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress failed: %w", err)
	}
	return out, nil
}

// Algorithm returns Gzip
func (g *GzipCompressor) Algorithm() Algorithm {
	return Gzip
}
