// Package codec encodes replication payloads exchanged between peers.
// The codec in use travels in the Content-Type header so a receiver can
// decode pushes from peers configured differently.
package codec

import (
	"errors"
	"fmt"
	"mime"
	"sort"
	"sync"
)

// ErrUnknownCodec is returned for unregistered codec names or content types
var ErrUnknownCodec = errors.New("unknown codec")

// Codec marshals replication payloads
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	mu            sync.RWMutex
	byName        = map[string]func() Codec{}
	byContentType = map[string]func() Codec{}
)

func init() {
	Register(func() Codec { return JSON{} })
	Register(func() Codec { return Msgpack{} })
}

// Register adds a codec constructor, keyed by both name and content type
func Register(factory func() Codec) {
	c := factory()

	mu.Lock()
	defer mu.Unlock()
	byName[c.Name()] = factory
	byContentType[c.ContentType()] = factory
}

// Get returns the codec registered under name
func Get(name string) (Codec, error) {
	mu.RLock()
	factory, ok := byName[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return factory(), nil
}

// ForContentType resolves a Content-Type header. Parameters such as charset
// are ignored and an empty header falls back to JSON.
func ForContentType(header string) (Codec, error) {
	if header == "" {
		return JSON{}, nil
	}

	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, err)
	}

	mu.RLock()
	factory, ok := byContentType[mediaType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: content type %q", ErrUnknownCodec, mediaType)
	}
	return factory(), nil
}

// Names lists registered codec names
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
