// Package pool implements the per-profile VM worker pool: warm-set
// maintenance, dependency snapshot provisioning, min/max/idle/TTL
// invariants, taint-on-fault, and safe recycling.
//
// Concurrency model: the pool's mutex protects only bookkeeping (index
// insertion/removal, counters) and is never held across I/O (driver calls,
// transport send/recv, timers). The available slice is the ownership
// boundary for a VMInstance — a VM lives in available XOR in_use, never
// both, never neither except transiently while being created or destroyed.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/oriys/capsule/internal/hypervisor"
	"github.com/oriys/capsule/internal/logging"
	"github.com/oriys/capsule/internal/metrics"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/sandboxerr"
	"github.com/oriys/capsule/internal/transport"
)

// firstChannelID is the Open Question's binding decision: guest channel_id
// assignment starts at 101 per pool; provisioning uses the same counter
// rather than a reserved separate ID.
const firstChannelID = 101

// Config is a pool's sizing and timeout policy.
type Config struct {
	MinSize         int
	MaxSize         int
	MaxCallsPerVM   int
	IdleTimeout     time.Duration
	StartupTimeout  time.Duration
	AcquireTimeout  time.Duration
	MaintenanceTick time.Duration
}

// Pool is the warm set of VMs serving one capability profile.
type Pool struct {
	Profile    profile.Profile
	ProfileKey string

	driver hypervisor.Driver
	dialer transport.Dialer
	vmCfg  hypervisor.VMConfig
	cfg    Config
	m      *metrics.Registry

	provision singleflight.Group

	mu        sync.Mutex
	cond      *sync.Cond
	available []*VMInstance
	inUse     map[string]*VMInstance
	all       map[string]*VMInstance
	channelID uint32
	snapshot  *hypervisor.Snapshot
	closed    bool

	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

// NewPool constructs a pool bound to one profile/profile_key. Start must be
// called before Acquire.
func NewPool(prof profile.Profile, profileKey string, driver hypervisor.Driver, dialer transport.Dialer, vmCfg hypervisor.VMConfig, cfg Config, m *metrics.Registry) *Pool {
	p := &Pool{
		Profile:    prof,
		ProfileKey: profileKey,
		driver:     driver,
		dialer:     dialer,
		vmCfg:      vmCfg,
		cfg:        cfg,
		m:          m,
		inUse:      make(map[string]*VMInstance),
		all:        make(map[string]*VMInstance),
		channelID:  firstChannelID,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start provisions a dependency snapshot if needed, creates min_size VMs
// (concurrently; a partial initial set is logged, not fatal), and launches
// the maintenance loop.
func (p *Pool) Start(ctx context.Context) error {
	if len(p.Profile.Dependencies) > 0 {
		snap, err, _ := p.provision.Do(p.ProfileKey, func() (any, error) {
			p.mu.Lock()
			channelID := p.channelID
			p.channelID++
			p.mu.Unlock()
			return p.driver.ProvisionSnapshot(ctx, p.Profile, p.ProfileKey, p.vmCfg, channelID)
		})
		if err != nil {
			return sandboxerr.Wrap(sandboxerr.KindProvisioning, "provision dependency snapshot", err)
		}
		if s, ok := snap.(*hypervisor.Snapshot); ok && s != nil {
			p.mu.Lock()
			p.snapshot = s
			p.mu.Unlock()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.MinSize; i++ {
		g.Go(func() error {
			vm, err := p.createVM(gctx)
			if err != nil {
				logging.Op().Warn("initial pool fill: vm creation failed", "profile_key", p.ProfileKey, "error", err)
				return nil // partial initial set is not fatal
			}
			p.mu.Lock()
			p.available = append(p.available, vm)
			p.cond.Signal()
			p.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	maintCtx, cancel := context.WithCancel(context.Background())
	p.maintCancel = cancel
	p.maintDone = make(chan struct{})
	go p.maintenanceLoop(maintCtx)

	return nil
}

// createVM allocates the next channel_id, starts or restores the guest, and
// returns a ready VMInstance. It never holds p.mu across I/O.
func (p *Pool) createVM(ctx context.Context) (*VMInstance, error) {
	p.mu.Lock()
	channelID := p.channelID
	p.channelID++
	snapshot := p.snapshot
	p.mu.Unlock()

	vmID := fmt.Sprintf("%s-%d", p.ProfileKey, channelID)

	startCtx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeout)
	defer cancel()

	var handle hypervisor.Handle
	var err error
	if snapshot != nil {
		handle, err = p.driver.RestoreSnapshot(startCtx, vmID, *snapshot, p.vmCfg, channelID)
	} else {
		handle, err = p.driver.StartVM(startCtx, vmID, p.vmCfg, channelID, p.Profile)
	}
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindVMStartup, "start guest", err)
	}

	conn, err := transport.DialWithRetry(startCtx, p.dialer, handle.ChannelID, handle.Port, 2*time.Second, 500*time.Millisecond)
	if err != nil {
		_ = p.driver.StopVM(ctx, vmID, handle)
		return nil, sandboxerr.Wrap(sandboxerr.KindVMStartup, "ready probe failed", err)
	}

	vm := newVMInstance(vmID, handle.ChannelID, p.ProfileKey, handle)
	vm.client = conn

	if p.m != nil {
		p.m.VMsCreated.WithLabelValues(p.ProfileKey).Inc()
	}

	p.mu.Lock()
	p.all[vm.VMID] = vm
	p.mu.Unlock()
	p.reportGauges()

	return vm, nil
}

// destroyVM removes vm from all indexes and tears down its guest. Caller
// must not hold p.mu.
func (p *Pool) destroyVM(ctx context.Context, vm *VMInstance, reason string) {
	p.mu.Lock()
	delete(p.all, vm.VMID)
	delete(p.inUse, vm.VMID)
	p.mu.Unlock()
	p.reportGauges()

	vm.closeClient()
	if err := p.driver.StopVM(ctx, vm.VMID, vm.Handle); err != nil {
		logging.Op().Warn("vm stop failed", "vm_id", vm.VMID, "error", err)
	}
	if p.m != nil {
		p.m.VMsDestroyed.WithLabelValues(p.ProfileKey, reason).Inc()
	}
}

// reportGauges refreshes the pool-size gauges from a fresh lock-scoped read.
// It is called from createVM and destroyVM only; changes to p.available in
// Acquire and Release, and idle reaping in reapIdle, show up in the gauges
// at the next such call.
func (p *Pool) reportGauges() {
	if p.m == nil {
		return
	}
	all, available, _ := p.Snapshot()
	p.m.PoolSize.WithLabelValues(p.ProfileKey).Set(float64(all))
	p.m.PoolAvailable.WithLabelValues(p.ProfileKey).Set(float64(available))
}

// Snapshot returns a consistent view of pool sizing for control-plane Stats
// and tests; it takes the lock only for the duration of the read.
func (p *Pool) Snapshot() (all, available, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all), len(p.available), len(p.inUse)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
