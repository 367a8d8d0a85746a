package store

import (
	"errors"
	"testing"

	"github.com/soltixdb/distro/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validInstance = `{"service":"orders","ip":"10.0.0.1","port":8080,"weight":1,"healthy":true,"enabled":true,"ephemeral":true}`

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMemoryStore("services"), nil)
	r.Register(NewMemoryStore("instances"), NewInstanceSchema())

	assert.Equal(t, []string{"instances", "services"}, r.Names())

	s, err := r.Lookup("instances")
	require.NoError(t, err)
	assert.Equal(t, "instances", s.Name())

	_, err = r.Lookup("missing")
	assert.True(t, errors.Is(err, ErrStoreNotFound))
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMemoryStore("instances"), NewInstanceSchema())
	r.Register(NewMemoryStore("raw"), nil)

	assert.NoError(t, r.Validate("instances", []byte(validInstance)))
	assert.NoError(t, r.Validate("raw", []byte("anything")))

	tests := []struct {
		name  string
		value string
	}{
		{"not json", "nope"},
		{"missing service", `{"ip":"10.0.0.1","port":8080}`},
		{"bad ip", `{"service":"orders","ip":"host","port":8080}`},
		{"port out of range", `{"service":"orders","ip":"10.0.0.1","port":70000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate("instances", []byte(tt.value))
			assert.True(t, errors.Is(err, ErrInvalidValue), "got %v", err)
		})
	}

	assert.True(t, errors.Is(r.Validate("missing", nil), ErrStoreNotFound))
}

func TestRegistry_SnapshotAndLoad(t *testing.T) {
	src := NewRegistry()
	instances := NewMemoryStore("instances")
	src.Register(instances, NewInstanceSchema())
	instances.Put("orders#10.0.0.1:8080", []byte(validInstance))

	snapshot := src.Snapshot()
	require.Equal(t, 1, snapshot.Len())

	dst := NewRegistry()
	dst.Register(NewMemoryStore("instances"), NewInstanceSchema())

	snapshot["instances"]["broken"] = models.Item{Value: []byte("{}")}
	snapshot["unknown"] = models.Items{"x": {Value: []byte("1")}}

	n, err := dst.LoadSnapshot(snapshot)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	s, _ := dst.Get("instances")
	_, ok := s.Get("orders#10.0.0.1:8080")
	assert.True(t, ok)
	_, ok = s.Get("broken")
	assert.False(t, ok)
}
