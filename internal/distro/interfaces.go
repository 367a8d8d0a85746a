package distro

import (
	"context"

	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/store"
)

// Membership is the cluster view the protocol routes against
type Membership interface {
	// Self returns this node's advertise address
	Self() string
	// HealthyMembers returns the healthy member addresses, self included
	HealthyMembers() []string
	// Subscribe registers fn to receive the healthy list after every change
	Subscribe(fn func(healthy []string))
}

// StoreRegistry gives access to the replicated stores by name
type StoreRegistry interface {
	Get(name string) (store.Store, bool)
	Names() []string
	Validate(name string, value []byte) error
	Snapshot() models.StoreItems
	LoadSnapshot(snapshot models.StoreItems) (int, error)
}

// Transport performs peer calls. Implementations treat 304 Not Modified on
// a push as success.
type Transport interface {
	PushItems(ctx context.Context, target string, items models.StoreItems) error
	FetchItems(ctx context.Context, target, storeName string, keys []string) (models.Items, error)
	FetchSnapshot(ctx context.Context, target string) (models.StoreItems, error)
	PushChecksums(ctx context.Context, target string, checksums models.Checksums) error
}
