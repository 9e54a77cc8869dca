package pool

import (
	"context"
	"time"

	"github.com/oriys/capsule/internal/logging"
	"github.com/oriys/capsule/internal/sandboxerr"
)

// Acquire takes the oldest available VM. If none is available and
// |all| < max_size, a new VM is created inline at once and used, without
// first waiting for a release. Only when the pool is at max_size does it
// wait, up to AcquireTimeout, for a VM to be released or for |all| to drop
// below max_size; if neither happens it fails with PoolExhausted. The
// returned VM is moved from available into in_use atomically before
// Acquire returns.
func (p *Pool) Acquire(ctx context.Context) (*VMInstance, bool, error) {
	start := time.Now()
	if p.m != nil {
		defer func() {
			p.m.AcquireWaitSeconds.WithLabelValues(p.ProfileKey).Observe(time.Since(start).Seconds())
		}()
	}

	if p.isClosed() {
		return nil, false, sandboxerr.New(sandboxerr.KindPoolClosed, "pool is closed")
	}

	deadline := time.Now().Add(p.cfg.AcquireTimeout)

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, false, sandboxerr.New(sandboxerr.KindPoolClosed, "pool is closed")
		}
		if n := len(p.available); n > 0 {
			vm := p.available[0]
			p.available = p.available[1:]
			p.inUse[vm.VMID] = vm
			p.mu.Unlock()
			if p.m != nil {
				p.m.WarmReuses.WithLabelValues(p.ProfileKey).Inc()
			}
			return vm, false, nil
		}
		if len(p.all) < p.cfg.MaxSize {
			p.mu.Unlock()
			vm, err := p.createVM(ctx)
			if err != nil {
				return nil, false, err
			}
			p.mu.Lock()
			p.inUse[vm.VMID] = vm
			p.mu.Unlock()
			if p.m != nil {
				p.m.ColdStarts.WithLabelValues(p.ProfileKey).Inc()
			}
			return vm, true, nil
		}
		if !p.waitForVMLocked(deadline) {
			p.mu.Unlock()
			return nil, false, sandboxerr.New(sandboxerr.KindPoolExhausted, "no vm available within acquire_timeout")
		}
	}
}

// waitForVMLocked blocks on p.cond until a VM becomes available, the pool
// is closed, or deadline passes, re-checking the admission condition on
// every wakeup. Must be called with p.mu held; returns with p.mu held.
func (p *Pool) waitForVMLocked(deadline time.Time) bool {
	for len(p.available) == 0 && len(p.all) >= p.cfg.MaxSize && !p.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}
	return !p.closed && (len(p.available) > 0 || len(p.all) < p.cfg.MaxSize)
}

// Release returns vm after a call completes. If tainted or call_count has
// reached max_calls_per_vm, the VM is destroyed; if that drops |all| below
// min_size, a replacement is created (replacement failure is logged, not
// fatal). Otherwise vm is pushed back onto the available queue.
func (p *Pool) Release(ctx context.Context, vm *VMInstance) {
	vm.recordUse(time.Now())

	p.mu.Lock()
	delete(p.inUse, vm.VMID)
	p.mu.Unlock()

	recycle := vm.Tainted() || vm.CallCount() >= p.cfg.MaxCallsPerVM
	if !recycle {
		p.mu.Lock()
		p.available = append(p.available, vm)
		p.cond.Signal()
		p.mu.Unlock()
		return
	}

	reason := "recycled"
	if vm.Tainted() {
		reason = "tainted"
		if p.m != nil {
			p.m.VMsTainted.WithLabelValues(p.ProfileKey).Inc()
		}
	} else if p.m != nil {
		p.m.VMsRecycled.WithLabelValues(p.ProfileKey).Inc()
	}
	p.destroyVM(ctx, vm, reason)

	p.mu.Lock()
	short := len(p.all) < p.cfg.MinSize && !p.closed
	p.mu.Unlock()
	if short {
		replacement, err := p.createVM(ctx)
		if err != nil {
			logging.Op().Warn("replacement vm creation failed", "profile_key", p.ProfileKey, "error", err)
			return
		}
		p.mu.Lock()
		p.available = append(p.available, replacement)
		p.cond.Signal()
		p.mu.Unlock()
	}
}
