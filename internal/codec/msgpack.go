package codec

import (
	"fmt"

	"github.com/shamaton/msgpack/v2"
)

// Msgpack encodes with shamaton/msgpack
type Msgpack struct{}

func (Msgpack) Name() string        { return "msgpack" }
func (Msgpack) ContentType() string { return "application/msgpack" }

func (Msgpack) Marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack: %w", err)
	}
	return data, nil
}

func (Msgpack) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack: %w", err)
	}
	return nil
}
