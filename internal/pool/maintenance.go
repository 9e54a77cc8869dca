package pool

import (
	"context"
	"time"
)

// maintenanceLoop wakes every MaintenanceTick and destroys available VMs
// that have exceeded IdleTimeout, as long as doing so keeps |all| >=
// min_size. It drains the available slice under the pool's write lock for
// the full pass, since the pass itself is O(available), bounded, and never
// performs I/O while the lock is held: destruction happens after the slice
// is rebuilt.
func (p *Pool) maintenanceLoop(ctx context.Context) {
	defer close(p.maintDone)

	tick := p.cfg.MaintenanceTick
	if tick <= 0 {
		tick = 60 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle(ctx)
		}
	}
}

func (p *Pool) reapIdle(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	var keep []*VMInstance
	var reap []*VMInstance
	for _, vm := range p.available {
		if len(p.all) > p.cfg.MinSize && vm.IdleAge(now) > p.cfg.IdleTimeout {
			delete(p.all, vm.VMID) // pre-remove so the count reflects remaining reaps in this pass
			reap = append(reap, vm)
			continue
		}
		keep = append(keep, vm)
	}
	p.available = keep
	p.mu.Unlock()

	for _, vm := range reap {
		vm.closeClient()
		_ = p.driver.StopVM(ctx, vm.VMID, vm.Handle)
		if p.m != nil {
			p.m.VMsDestroyed.WithLabelValues(p.ProfileKey, "idle").Inc()
		}
	}
}
