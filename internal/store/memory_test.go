package store

import (
	"sort"
	"sync"
	"testing"

	"github.com/soltixdb/distro/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore("instances")
	assert.Equal(t, "instances", s.Name())

	item := s.Put("orders#10.0.0.1:80", []byte("v1"))
	assert.Equal(t, ChecksumOf([]byte("v1")), item.Checksum)
	assert.NotZero(t, item.LastModified)

	got, ok := s.Get("orders#10.0.0.1:80")
	require.True(t, ok)
	assert.Equal(t, item, got)

	sum, ok := s.Checksum("orders#10.0.0.1:80")
	assert.True(t, ok)
	assert.Equal(t, item.Checksum, sum)

	_, ok = s.Checksum("missing")
	assert.False(t, ok)
}

func TestMemoryStore_PutTimestampsIncrease(t *testing.T) {
	s := NewMemoryStore("instances")

	first := s.Put("k", []byte("a"))
	second := s.Put("k", []byte("b"))
	assert.Greater(t, second.LastModified, first.LastModified)
	assert.NotEqual(t, first.Checksum, second.Checksum)
}

func TestMemoryStore_GetBatchSkipsMissing(t *testing.T) {
	s := NewMemoryStore("instances")
	s.Put("a", []byte("1"))
	s.Put("b", []byte("2"))

	items := s.GetBatch([]string{"a", "missing", "b"})
	assert.Len(t, items, 2)
	assert.Contains(t, items, "a")
	assert.Contains(t, items, "b")

	keys := s.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_ApplyIsIdempotent(t *testing.T) {
	s := NewMemoryStore("instances")
	item := models.Item{Value: []byte("v"), LastModified: 100}

	assert.True(t, s.Apply("k", item))
	assert.False(t, s.Apply("k", item), "same checksum must not modify")

	stored, _ := s.Get("k")
	assert.Equal(t, ChecksumOf([]byte("v")), stored.Checksum)
}

func TestMemoryStore_ApplySameValueAdoptsNewerTimestamp(t *testing.T) {
	s := NewMemoryStore("instances")
	var events int
	s.Subscribe(func(Event) { events++ })

	require.True(t, s.Apply("k", models.Item{Value: []byte("v"), LastModified: 100}))
	assert.False(t, s.Apply("k", models.Item{Value: []byte("v"), LastModified: 250}))
	got, _ := s.Get("k")
	assert.Equal(t, int64(250), got.LastModified)

	assert.False(t, s.Apply("k", models.Item{Value: []byte("v"), LastModified: 120}))
	got, _ = s.Get("k")
	assert.Equal(t, int64(250), got.LastModified, "older timestamp must not win")
	assert.Equal(t, 1, events)
}

func TestMemoryStore_ApplyLastWriteWins(t *testing.T) {
	s := NewMemoryStore("instances")

	require.True(t, s.Apply("k", models.Item{Value: []byte("new"), LastModified: 200}))
	assert.False(t, s.Apply("k", models.Item{Value: []byte("old"), LastModified: 100}))

	got, _ := s.Get("k")
	assert.Equal(t, []byte("new"), got.Value)

	assert.True(t, s.Apply("k", models.Item{Value: []byte("newer"), LastModified: 300}))
	got, _ = s.Get("k")
	assert.Equal(t, []byte("newer"), got.Value)
}

func TestMemoryStore_Repair(t *testing.T) {
	s := NewMemoryStore("instances")

	// unchanged since comparison: the owner's copy wins even when older
	s.Apply("k", models.Item{Value: []byte("corrupt"), LastModified: 500})
	seen, _ := s.Checksum("k")
	assert.True(t, s.Repair("k", models.Item{Value: []byte("owner"), LastModified: 100}, seen))
	got, _ := s.Get("k")
	assert.Equal(t, []byte("owner"), got.Value)

	// absent key compared as missing
	assert.True(t, s.Repair("new", models.Item{Value: []byte("v"), LastModified: 1}, ""))

	// a newer write landed after the comparison: the late pull must not regress it
	seen, _ = s.Checksum("k")
	require.True(t, s.Apply("k", models.Item{Value: []byte("pushed"), LastModified: 300}))
	assert.False(t, s.Repair("k", models.Item{Value: []byte("served earlier"), LastModified: 200}, seen))
	got, _ = s.Get("k")
	assert.Equal(t, []byte("pushed"), got.Value)

	// same value is not a change
	seen, _ = s.Checksum("k")
	assert.False(t, s.Repair("k", models.Item{Value: []byte("pushed"), LastModified: 300}, seen))
}

func TestMemoryStore_SetOverwritesOlder(t *testing.T) {
	s := NewMemoryStore("instances")
	s.Apply("k", models.Item{Value: []byte("local"), LastModified: 500})

	s.Set("k", models.Item{Value: []byte("owner"), LastModified: 100})
	got, _ := s.Get("k")
	assert.Equal(t, []byte("owner"), got.Value)
}

func TestMemoryStore_RemoveAndListeners(t *testing.T) {
	s := NewMemoryStore("instances")

	var mu sync.Mutex
	var events []Event
	s.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	s.Put("k", []byte("v"))
	s.Set("k", models.Item{Value: []byte("v")}) // unchanged checksum, no event
	assert.True(t, s.Remove("k"))
	assert.False(t, s.Remove("k"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, OpChange, events[0].Op)
	assert.Equal(t, OpDelete, events[1].Op)
	assert.Equal(t, "instances", events[1].Store)
}

func TestMemoryStore_Load(t *testing.T) {
	s := NewMemoryStore("instances")
	n := s.Load(models.Items{
		"a": {Value: []byte("1"), LastModified: 1},
		"b": {Value: []byte("2"), LastModified: 2},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore("instances")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Put(string(rune('a'+i)), []byte{byte(j)})
				s.Keys()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, s.Len())
}
