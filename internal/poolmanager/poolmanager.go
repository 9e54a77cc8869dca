// Package poolmanager keyes worker pools by capability profile fingerprint,
// lazily constructing at most one pool per profile_key for the manager's
// lifetime.
package poolmanager

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/capsule/internal/hypervisor"
	"github.com/oriys/capsule/internal/metrics"
	"github.com/oriys/capsule/internal/pool"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/transport"
)

// Manager owns the profile_key -> Pool directory.
type Manager struct {
	driver hypervisor.Driver
	dialer transport.Dialer
	vmCfg  hypervisor.VMConfig
	cfg    pool.Config
	m      *metrics.Registry

	construct singleflight.Group

	mu     sync.RWMutex
	pools  map[string]*pool.Pool
	closed bool
}

// New constructs a manager that creates pools with the given driver, dialer,
// VM config, and pool policy. Every pool it creates shares this configuration;
// only the profile varies per pool.
func New(driver hypervisor.Driver, dialer transport.Dialer, vmCfg hypervisor.VMConfig, cfg pool.Config, m *metrics.Registry) *Manager {
	return &Manager{
		driver: driver,
		dialer: dialer,
		vmCfg:  vmCfg,
		cfg:    cfg,
		m:      m,
		pools:  make(map[string]*pool.Pool),
	}
}

// GetOrCreate returns the pool for profileKey, constructing and starting one
// on first use. Concurrent calls for the same profileKey are deduplicated so
// exactly one pool is ever built for it.
func (mgr *Manager) GetOrCreate(ctx context.Context, prof profile.Profile, profileKey string) (*pool.Pool, error) {
	mgr.mu.RLock()
	if p, ok := mgr.pools[profileKey]; ok {
		mgr.mu.RUnlock()
		return p, nil
	}
	closed := mgr.closed
	mgr.mu.RUnlock()
	if closed {
		return nil, errClosed
	}

	v, err, _ := mgr.construct.Do(profileKey, func() (any, error) {
		mgr.mu.RLock()
		if p, ok := mgr.pools[profileKey]; ok {
			mgr.mu.RUnlock()
			return p, nil
		}
		mgr.mu.RUnlock()

		p := pool.NewPool(prof, profileKey, mgr.driver, mgr.dialer, mgr.vmCfg, mgr.cfg, mgr.m)
		if err := p.Start(ctx); err != nil {
			return nil, err
		}

		mgr.mu.Lock()
		mgr.pools[profileKey] = p
		mgr.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pool.Pool), nil
}

// Get returns the pool already registered for profileKey, if any.
func (mgr *Manager) Get(profileKey string) (*pool.Pool, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	p, ok := mgr.pools[profileKey]
	return p, ok
}

// Count returns the number of distinct pools currently managed.
func (mgr *Manager) Count() int {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return len(mgr.pools)
}

// Shutdown stops every managed pool and clears the directory. After
// Shutdown, GetOrCreate fails and Get returns nothing.
func (mgr *Manager) Shutdown(ctx context.Context) {
	mgr.mu.Lock()
	mgr.closed = true
	pools := mgr.pools
	mgr.pools = make(map[string]*pool.Pool)
	mgr.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *pool.Pool) {
			defer wg.Done()
			p.Shutdown(ctx)
		}(p)
	}
	wg.Wait()
}
