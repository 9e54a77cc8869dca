package pool

import (
	"sync"
	"time"

	"github.com/oriys/capsule/internal/hypervisor"
	"github.com/oriys/capsule/internal/transport"
)

// VMInstance is one pool-managed guest. It is owned by exactly one
// collection at a time — the pool's available slice XOR its in_use map —
// which is also why its client is only ever touched while it is in_use:
// that state is held by a single acquirer.
type VMInstance struct {
	VMID       string
	ChannelID  uint32
	ProfileKey string
	Handle     hypervisor.Handle
	CreatedAt  time.Time

	mu        sync.Mutex
	client    transport.Conn
	callCount int
	lastUsed  time.Time
	tainted   bool
}

func newVMInstance(vmID string, channelID uint32, profileKey string, h hypervisor.Handle) *VMInstance {
	now := time.Now()
	return &VMInstance{
		VMID:       vmID,
		ChannelID:  channelID,
		ProfileKey: profileKey,
		Handle:     h,
		CreatedAt:  now,
		lastUsed:   now,
	}
}

func (v *VMInstance) CallCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.callCount
}

func (v *VMInstance) Tainted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tainted
}

func (v *VMInstance) Taint() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tainted = true
}

func (v *VMInstance) IdleAge(now time.Time) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return now.Sub(v.lastUsed)
}

func (v *VMInstance) recordUse(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.callCount++
	v.lastUsed = now
}

// ensureClient returns the VM's connected client, dialing lazily on first
// use. Only the acquirer holding this VM calls this, so no concurrent
// Send/Recv on the same client can occur by construction.
func (v *VMInstance) ensureClient(dialer transport.Dialer, port uint32) (transport.Conn, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client != nil {
		return v.client, nil
	}
	conn, err := dialer.Dial(v.ChannelID, port)
	if err != nil {
		return nil, err
	}
	v.client = conn
	return conn, nil
}

func (v *VMInstance) closeClient() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client != nil {
		v.client.Close()
		v.client = nil
	}
}
