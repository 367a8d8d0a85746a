package models

// Item is one replicated value. Checksum is derived from Value and is what
// anti-entropy compares; LastModified (unix millis) orders concurrent writes.
type Item struct {
	Value        []byte `json:"value" msgpack:"value"`
	Checksum     string `json:"checksum" msgpack:"checksum"`
	LastModified int64  `json:"lastModified" msgpack:"lastModified"`
}

// Items maps key to item within a single store
type Items map[string]Item

// StoreItems maps store name to its items. This is the push and snapshot
// payload on the wire.
type StoreItems map[string]Items

// Checksums maps store name to key to checksum. Every store the sender
// owns data for is listed, possibly with an empty map.
type Checksums map[string]map[string]string

// Len counts items across all stores
func (s StoreItems) Len() int {
	n := 0
	for _, items := range s {
		n += len(items)
	}
	return n
}

// DistroKey identifies one key in one store
type DistroKey struct {
	Store string `json:"store"`
	Key   string `json:"key"`
}
