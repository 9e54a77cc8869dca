package firecracker

import (
	"context"

	"github.com/oriys/capsule/internal/cache"
)

// Archive is the durable off-host snapshot byte store a driver falls back
// to when a profile's snapshot files aren't present in its local
// snapshot directory — the shape internal/snapshotstore.Store satisfies.
type Archive interface {
	PutSnapshot(ctx context.Context, profileKey string, disk, mem []byte) error
	GetSnapshot(ctx context.Context, profileKey string) (disk, mem []byte, err error)
}

// LocationCache is the shared profile_key -> snapshot path index a driver
// consults ahead of the archive or a fresh guest install, so that a
// snapshot built by one host is reused by peers sharing its snapshot
// directory — the shape internal/cache.Cache satisfies.
type LocationCache interface {
	Get(ctx context.Context, profileKey string) (*cache.Entry, bool, error)
	Set(ctx context.Context, profileKey string, entry cache.Entry) error
}

// WithArchive attaches a durable snapshot byte store, consulted on a local
// cache miss and written to after a fresh provision.
func (d *Driver) WithArchive(a Archive) *Driver {
	d.archive = a
	return d
}

// WithLocationCache attaches a shared profile_key -> path index, consulted
// before the archive and before provisioning from scratch.
func (d *Driver) WithLocationCache(c LocationCache) *Driver {
	d.locCache = c
	return d
}
