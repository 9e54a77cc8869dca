package pool

import "context"

// Shutdown marks the pool closed, stops the maintenance loop, and destroys
// every VM (available and in_use). After Shutdown returns, |all| == 0 and
// any further Acquire fails with PoolClosed.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	available := p.available
	p.available = nil
	inUse := make([]*VMInstance, 0, len(p.inUse))
	for _, vm := range p.inUse {
		inUse = append(inUse, vm)
	}
	p.mu.Unlock()

	if p.maintCancel != nil {
		p.maintCancel()
		<-p.maintDone
	}

	for _, vm := range available {
		p.destroyVM(ctx, vm, "shutdown")
	}
	for _, vm := range inUse {
		p.destroyVM(ctx, vm, "shutdown")
	}
}
