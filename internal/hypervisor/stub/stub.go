// Package stub implements hypervisor.Driver in-process, for tests and local
// development: "booting a VM" starts a goroutine running a guestagent
// Executor behind a loopback listener instead of a real microVM.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/capsule/internal/guestagent"
	"github.com/oriys/capsule/internal/hypervisor"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/sandboxerr"
	"github.com/oriys/capsule/internal/transport"
)

type runningGuest struct {
	listener *transport.LoopbackListener
	cancel   context.CancelFunc
}

// Driver is the in-process stand-in for a real hypervisor: each "VM" is a
// goroutine serving a guestagent.Executor over a loopback listener.
type Driver struct {
	registry *guestagent.Registry

	mu        sync.Mutex
	snapshots map[string]hypervisor.Snapshot
	nextPort  uint32
}

// New constructs a stub driver dispatching to the given function registry.
func New(registry *guestagent.Registry) *Driver {
	return &Driver{
		registry:  registry,
		snapshots: make(map[string]hypervisor.Snapshot),
		nextPort:  20000,
	}
}

func (d *Driver) allocPort() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.nextPort
	d.nextPort++
	return p
}

func (d *Driver) StartVM(ctx context.Context, vmID string, cfg hypervisor.VMConfig, channelID uint32, prof profile.Profile) (hypervisor.Handle, error) {
	port := d.allocPort()
	ln, err := transport.ListenLoopback(port)
	if err != nil {
		return hypervisor.Handle{}, sandboxerr.Wrap(sandboxerr.KindVMStartup, "stub listen", err)
	}

	guestCtx, cancel := context.WithCancel(context.Background())
	exec := guestagent.New(d.registry).WithInstaller(guestagent.NoopInstaller{}).WithNetPolicy(prof.Net)
	go exec.Serve(guestCtx, ln)

	return hypervisor.WithPrivate(vmID, channelID, port, &runningGuest{listener: ln, cancel: cancel}), nil
}

func (d *Driver) StopVM(ctx context.Context, vmID string, h hypervisor.Handle) error {
	rg, ok := hypervisor.Private[*runningGuest](h)
	if !ok || rg == nil {
		return nil
	}
	rg.cancel()
	return rg.listener.Close()
}

func (d *Driver) RestoreSnapshot(ctx context.Context, vmID string, snap hypervisor.Snapshot, cfg hypervisor.VMConfig, channelID uint32) (hypervisor.Handle, error) {
	// The stub has no real disk/memory state to restore from; a snapshot
	// restore is just a fresh start that happens to be fast, which is the
	// only externally observable property restore callers depend on.
	return d.StartVM(ctx, vmID, cfg, channelID, profile.Profile{})
}

func (d *Driver) ProvisionSnapshot(ctx context.Context, prof profile.Profile, profileKey string, cfg hypervisor.VMConfig, channelID uint32) (*hypervisor.Snapshot, error) {
	if len(prof.Dependencies) == 0 {
		return nil, nil
	}
	d.mu.Lock()
	if snap, ok := d.snapshots[profileKey]; ok {
		d.mu.Unlock()
		return &snap, nil
	}
	d.mu.Unlock()

	snap := hypervisor.Snapshot{
		ProfileKey:   profileKey,
		SnapshotPath: fmt.Sprintf("stub://%s/snapshot", profileKey),
		MemPath:      fmt.Sprintf("stub://%s/mem", profileKey),
		Dependencies: append([]string(nil), prof.Dependencies...),
	}

	d.mu.Lock()
	d.snapshots[profileKey] = snap
	d.mu.Unlock()
	return &snap, nil
}

func (d *Driver) GetSnapshot(profileKey string) (hypervisor.Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap, ok := d.snapshots[profileKey]
	return snap, ok
}

func (d *Driver) Close() error { return nil }
