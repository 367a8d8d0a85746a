package compression

import (
	"fmt"

	"github.com/golang/snappy"
)

// DefaultMaxDecodedLen bounds how large a snappy payload may claim to be
// once decoded
const DefaultMaxDecodedLen = 64 << 20

// SnappyCompressor encodes payloads in the snappy block format
type SnappyCompressor struct {
	maxDecodedLen int
}

// NewSnappyCompressor creates a snappy compressor with DefaultMaxDecodedLen
func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{maxDecodedLen: DefaultMaxDecodedLen}
}

func (s *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	return snappy.Encode(nil, data), nil
}

// Decompress rejects payloads whose header announces more than the
// configured maximum before allocating for them
func (s *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %w", err)
	}
	if s.maxDecodedLen > 0 && n > s.maxDecodedLen {
		return nil, fmt.Errorf("snappy payload of %d bytes exceeds limit of %d", n, s.maxDecodedLen)
	}

	out, err := snappy.Decode(make([]byte, n), data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %w", err)
	}
	return out, nil
}

func (s *SnappyCompressor) Algorithm() Algorithm {
	return Snappy
}
