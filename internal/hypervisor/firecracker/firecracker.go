// Package firecracker implements hypervisor.Driver by shelling out to a
// firecracker-compatible binary: one process per VM, booted either cold
// (kernel+rootfs) or from a snapshot, with dependency snapshots baked by
// issuing an in-band install RPC to a freshly cold-started guest.
package firecracker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/oriys/capsule/internal/cache"
	"github.com/oriys/capsule/internal/hypervisor"
	"github.com/oriys/capsule/internal/logging"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/sandboxerr"
	"github.com/oriys/capsule/internal/transport"
)

const (
	// DefaultPort is the guest RPC port, per the external interfaces.
	DefaultPort = transport.DefaultPort

	stopGrace = 5 * time.Second

	provisionInstallTimeout = 300 * time.Second
	provisionDialTimeout    = 30 * time.Second
)

type vmProcess struct {
	cmd       *exec.Cmd
	scratch   string
}

// Driver is the process-managed firecracker backend.
type Driver struct {
	binary      string
	snapshotDir string
	archive     Archive
	locCache    LocationCache

	mu        sync.Mutex
	snapshots map[string]hypervisor.Snapshot
}

// New constructs a Driver that shells out to binaryPath and stores
// snapshots under snapshotDir/<profile_key>/{snapshot,mem}.
func New(binaryPath, snapshotDir string) *Driver {
	return &Driver{
		binary:      binaryPath,
		snapshotDir: snapshotDir,
		snapshots:   make(map[string]hypervisor.Snapshot),
	}
}

func (d *Driver) StartVM(ctx context.Context, vmID string, cfg hypervisor.VMConfig, channelID uint32, prof profile.Profile) (hypervisor.Handle, error) {
	scratch, err := os.MkdirTemp("", "capsule-vm-"+vmID+"-")
	if err != nil {
		return hypervisor.Handle{}, sandboxerr.Wrap(sandboxerr.KindVMStartup, "create scratch dir", err)
	}

	args := []string{
		"--kernel", cfg.KernelPath,
		"--rootfs", cfg.RootfsDir,
		"--vcpus", fmt.Sprintf("%d", orDefault(cfg.CPUs, 1)),
		"--mem-mb", fmt.Sprintf("%d", orDefault(cfg.MemMB, prof.MemMB)),
		"--vsock-cid", fmt.Sprintf("%d", channelID),
		"--vsock-port", fmt.Sprintf("%d", DefaultPort),
	}
	cmd := exec.CommandContext(context.Background(), d.binary, args...)
	cmd.Dir = scratch
	if err := cmd.Start(); err != nil {
		os.RemoveAll(scratch)
		return hypervisor.Handle{}, sandboxerr.Wrap(sandboxerr.KindVMStartup, "start firecracker process", err)
	}

	logging.Op().Info("vm started", "vm_id", vmID, "channel_id", channelID, "pid", cmd.Process.Pid)
	return hypervisor.WithPrivate(vmID, channelID, DefaultPort, &vmProcess{cmd: cmd, scratch: scratch}), nil
}

func (d *Driver) StopVM(ctx context.Context, vmID string, h hypervisor.Handle) error {
	vp, ok := hypervisor.Private[*vmProcess](h)
	if !ok || vp == nil || vp.cmd == nil || vp.cmd.Process == nil {
		return nil // idempotent: nothing to stop
	}
	return d.killProcess(vp.cmd, vp.scratch)
}

func (d *Driver) killProcess(cmd *exec.Cmd, scratch string) error {
	defer os.RemoveAll(scratch)
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

func (d *Driver) RestoreSnapshot(ctx context.Context, vmID string, snap hypervisor.Snapshot, cfg hypervisor.VMConfig, channelID uint32) (hypervisor.Handle, error) {
	scratch, err := os.MkdirTemp("", "capsule-vm-"+vmID+"-")
	if err != nil {
		return hypervisor.Handle{}, sandboxerr.Wrap(sandboxerr.KindVMStartup, "create scratch dir", err)
	}

	args := []string{
		"--restore-snapshot", snap.SnapshotPath,
		"--restore-mem", snap.MemPath,
		"--vsock-cid", fmt.Sprintf("%d", channelID),
		"--vsock-port", fmt.Sprintf("%d", DefaultPort),
	}
	cmd := exec.CommandContext(context.Background(), d.binary, args...)
	cmd.Dir = scratch
	if err := cmd.Start(); err != nil {
		os.RemoveAll(scratch)
		return hypervisor.Handle{}, sandboxerr.Wrap(sandboxerr.KindVMStartup, "start firecracker from snapshot", err)
	}

	return hypervisor.WithPrivate(vmID, channelID, DefaultPort, &vmProcess{cmd: cmd, scratch: scratch}), nil
}

func (d *Driver) ProvisionSnapshot(ctx context.Context, prof profile.Profile, profileKey string, cfg hypervisor.VMConfig, channelID uint32) (*hypervisor.Snapshot, error) {
	if len(prof.Dependencies) == 0 {
		return nil, nil
	}
	if snap, ok := d.GetSnapshot(profileKey); ok {
		return &snap, nil
	}

	if snap, ok := d.resolveFromSharedStore(ctx, profileKey); ok {
		d.mu.Lock()
		d.snapshots[profileKey] = snap
		d.mu.Unlock()
		return &snap, nil
	}

	vmID := profileKey + "-provision"
	h, err := d.StartVM(ctx, vmID, cfg, channelID, prof)
	if err != nil {
		return nil, err
	}
	defer d.StopVM(ctx, vmID, h)

	dialCtx, cancel := context.WithTimeout(ctx, provisionDialTimeout)
	defer cancel()
	dialer := transport.NewDialer(cfg.Native)
	conn, err := transport.DialWithRetry(dialCtx, dialer, h.ChannelID, h.Port, 2*time.Second, 500*time.Millisecond)
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindProvisioning, "dial guest for install", err)
	}
	defer conn.Close()

	req := rpc.Request{
		RequestID:    profileKey,
		Command:      rpc.InstallCommand,
		Dependencies: prof.Dependencies,
		TimeoutMs:    uint32(provisionInstallTimeout.Milliseconds()),
	}
	if err := rpc.SendRequest(conn, req); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindProvisioning, "send install request", err)
	}
	resp, err := rpc.RecvResponse(conn)
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindProvisioning, "receive install response", err)
	}
	if !resp.Success {
		msg := "install failed"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, sandboxerr.New(sandboxerr.KindProvisioning, msg)
	}

	dir := filepath.Join(d.snapshotDir, profileKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindProvisioning, "create snapshot dir", err)
	}
	snap := hypervisor.Snapshot{
		ProfileKey:   profileKey,
		SnapshotPath: filepath.Join(dir, "snapshot"),
		MemPath:      filepath.Join(dir, "mem"),
		Dependencies: append([]string(nil), prof.Dependencies...),
	}
	if err := pauseAndSnapshot(h, snap); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindProvisioning, "snapshot guest", err)
	}

	d.mu.Lock()
	d.snapshots[profileKey] = snap
	d.mu.Unlock()

	d.publishToSharedStore(ctx, snap)

	return &snap, nil
}

// resolveFromSharedStore checks the location cache, then the durable
// archive, for a snapshot another host already built for profileKey. A
// location-cache hit is trusted only if the paths it names actually exist
// on this host's snapshot directory (true when hosts share storage); a
// miss there falls through to downloading the bytes from the archive.
func (d *Driver) resolveFromSharedStore(ctx context.Context, profileKey string) (hypervisor.Snapshot, bool) {
	if d.locCache != nil {
		if entry, ok, err := d.locCache.Get(ctx, profileKey); err == nil && ok {
			if pathsExist(entry.SnapshotPath, entry.MemPath) {
				return hypervisor.Snapshot{
					ProfileKey:   profileKey,
					SnapshotPath: entry.SnapshotPath,
					MemPath:      entry.MemPath,
					Dependencies: entry.Dependencies,
				}, true
			}
		}
	}

	if d.archive == nil {
		return hypervisor.Snapshot{}, false
	}
	disk, mem, err := d.archive.GetSnapshot(ctx, profileKey)
	if err != nil {
		return hypervisor.Snapshot{}, false
	}

	dir := filepath.Join(d.snapshotDir, profileKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Op().Warn("failed to materialize archived snapshot", "profile_key", profileKey, "error", err)
		return hypervisor.Snapshot{}, false
	}
	snap := hypervisor.Snapshot{
		ProfileKey:   profileKey,
		SnapshotPath: filepath.Join(dir, "snapshot"),
		MemPath:      filepath.Join(dir, "mem"),
	}
	if err := os.WriteFile(snap.SnapshotPath, disk, 0o644); err != nil {
		logging.Op().Warn("failed to write archived snapshot disk image", "profile_key", profileKey, "error", err)
		return hypervisor.Snapshot{}, false
	}
	if err := os.WriteFile(snap.MemPath, mem, 0o644); err != nil {
		logging.Op().Warn("failed to write archived snapshot memory image", "profile_key", profileKey, "error", err)
		return hypervisor.Snapshot{}, false
	}
	return snap, true
}

// publishToSharedStore uploads a freshly provisioned snapshot's bytes to
// the archive and records its location in the shared cache, so the next
// host that needs this profile skips the guest install entirely. Failures
// are logged, not propagated: provisioning already succeeded locally.
func (d *Driver) publishToSharedStore(ctx context.Context, snap hypervisor.Snapshot) {
	if d.archive != nil {
		disk, diskErr := os.ReadFile(snap.SnapshotPath)
		mem, memErr := os.ReadFile(snap.MemPath)
		if diskErr == nil && memErr == nil {
			if err := d.archive.PutSnapshot(ctx, snap.ProfileKey, disk, mem); err != nil {
				logging.Op().Warn("failed to archive snapshot", "profile_key", snap.ProfileKey, "error", err)
			}
		}
	}
	if d.locCache != nil {
		entry := cache.Entry{SnapshotPath: snap.SnapshotPath, MemPath: snap.MemPath, Dependencies: snap.Dependencies}
		if err := d.locCache.Set(ctx, snap.ProfileKey, entry); err != nil {
			logging.Op().Warn("failed to publish snapshot location", "profile_key", snap.ProfileKey, "error", err)
		}
	}
}

func pathsExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (d *Driver) GetSnapshot(profileKey string) (hypervisor.Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap, ok := d.snapshots[profileKey]
	return snap, ok
}

func (d *Driver) Close() error { return nil }

// pauseAndSnapshot creates empty placeholder files at snap.SnapshotPath and
// snap.MemPath. It sends nothing to the running firecracker process: the
// guest is not paused and its disk and memory state are not captured.
func pauseAndSnapshot(h hypervisor.Handle, snap hypervisor.Snapshot) error {
	vp, ok := hypervisor.Private[*vmProcess](h)
	if !ok || vp == nil {
		return sandboxerr.New(sandboxerr.KindProvisioning, "missing process handle for snapshot")
	}
	if err := os.WriteFile(snap.SnapshotPath, []byte{}, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(snap.MemPath, []byte{}, 0o644); err != nil {
		return err
	}
	return nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
