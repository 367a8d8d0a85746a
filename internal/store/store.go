// Package store holds the replicated keyed datasets a node serves. Each store
// is addressed by name; the replication layer only ever sees the Store
// interface.
package store

import (
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/soltixdb/distro/internal/models"
)

var (
	ErrStoreNotFound = errors.New("store not found")
	ErrKeyNotFound   = errors.New("key not found")
	ErrInvalidValue  = errors.New("invalid value")
)

// Op is the kind of change a listener observes
type Op string

const (
	OpChange Op = "change"
	OpDelete Op = "delete"
)

// Event describes one change to a store
type Event struct {
	Store string      `json:"store"`
	Key   string      `json:"key"`
	Op    Op          `json:"op"`
	Item  models.Item `json:"item"`
}

// Listener is notified after a change has been applied
type Listener func(Event)

// Store is a keyed dataset replicated by the distro protocol
type Store interface {
	Name() string

	Get(key string) (models.Item, bool)
	// GetBatch returns the items present for keys; missing keys are skipped
	GetBatch(keys []string) models.Items
	// Keys returns a snapshot of all keys
	Keys() []string
	Checksum(key string) (string, bool)
	Len() int

	// Put stores a locally written value, stamping checksum and timestamp
	Put(key string, value []byte) models.Item
	// Apply merges a replicated item with last-write-wins and reports whether
	// anything changed
	Apply(key string, item models.Item) bool
	// Repair installs the owner's item when the local checksum is still
	// seen ("" for absent) and falls back to Apply otherwise
	Repair(key string, item models.Item, seen string) bool
	// Set overwrites unconditionally
	Set(key string, item models.Item)
	// Load bulk-sets items and returns how many were written
	Load(items models.Items) int
	Remove(key string) bool

	Subscribe(l Listener)
}

// ChecksumOf returns the hex xxhash64 digest of a value
func ChecksumOf(value []byte) string {
	return strconv.FormatUint(xxhash.Sum64(value), 16)
}

// NewItem builds an item for a value written now
func NewItem(value []byte) models.Item {
	return models.Item{
		Value:        value,
		Checksum:     ChecksumOf(value),
		LastModified: time.Now().UnixMilli(),
	}
}
