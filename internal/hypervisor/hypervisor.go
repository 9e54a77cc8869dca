// Package hypervisor defines the abstract driver for starting, stopping,
// snapshotting, and restoring microVMs. Concrete drivers live in
// subpackages: firecracker (process-managed, real) and stub (in-process,
// for tests and local development).
package hypervisor

import (
	"context"

	"github.com/oriys/capsule/internal/profile"
)

// VMConfig carries the resource/boot parameters a driver needs to start a
// guest: kernel image, root filesystem, vCPU/memory allocation, and which
// transport variant the guest's RPC endpoint should use.
type VMConfig struct {
	KernelPath string
	RootfsDir  string
	CPUs       int
	MemMB      int
	Native     bool // true: AF_VSOCK guest channel; false: loopback TCP (stub/dev)
}

// Handle is an opaque reference to a running guest, returned by StartVM/
// RestoreSnapshot and consumed by StopVM. VMID, ChannelID and Port are
// readable by callers (the pool dials ChannelID/Port); the driver-private
// payload is reachable only through Private.
type Handle struct {
	VMID      string
	ChannelID uint32
	Port      uint32
	// driver-private payload (PID, container ID, stub registry key, ...)
	private any
}

// WithPrivate attaches driver-private state to a Handle; drivers call this
// when constructing the Handle they return.
func WithPrivate(vmID string, channelID, port uint32, private any) Handle {
	return Handle{VMID: vmID, ChannelID: channelID, Port: port, private: private}
}

// Private retrieves the driver-private payload a driver previously attached.
func Private[T any](h Handle) (T, bool) {
	v, ok := h.private.(T)
	return v, ok
}

// Snapshot is a pre-baked VM state (disk+memory) with dependencies
// installed, addressed by profile fingerprint.
type Snapshot struct {
	ProfileKey   string
	SnapshotPath string
	MemPath      string
	Dependencies []string
}

// Driver is the abstract hypervisor control surface a worker pool drives.
type Driver interface {
	// StartVM boots a fresh guest with the given CPU/memory/network class.
	StartVM(ctx context.Context, vmID string, cfg VMConfig, channelID uint32, prof profile.Profile) (Handle, error)

	// StopVM is a SIGTERM-equivalent with grace, then hard kill; cleans
	// scratch state. Idempotent on an already-gone VM.
	StopVM(ctx context.Context, vmID string, h Handle) error

	// RestoreSnapshot boots a guest from a pre-baked snapshot.
	RestoreSnapshot(ctx context.Context, vmID string, snap Snapshot, cfg VMConfig, channelID uint32) (Handle, error)

	// ProvisionSnapshot builds (or returns the cached) Snapshot for a
	// profile's dependency list. Returns nil, nil when the profile has no
	// dependencies (nothing to snapshot). channelID is allocated by the
	// caller from the same counter normal VM creation uses: provisioning
	// has no reserved channel_id of its own.
	ProvisionSnapshot(ctx context.Context, prof profile.Profile, profileKey string, cfg VMConfig, channelID uint32) (*Snapshot, error)

	// GetSnapshot is a lookup without creation.
	GetSnapshot(profileKey string) (Snapshot, bool)

	// Close releases any driver-wide resources (e.g. a Docker client).
	Close() error
}
