package poolmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oriys/capsule/internal/guestagent"
	"github.com/oriys/capsule/internal/hypervisor"
	stubdriver "github.com/oriys/capsule/internal/hypervisor/stub"
	"github.com/oriys/capsule/internal/pool"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/transport"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	reg := guestagent.NewRegistry()
	reg.Register("handlers:noop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})
	driver := stubdriver.New(reg)
	dialer := transport.NewDialer(false)
	cfg := pool.Config{
		MinSize:         0,
		MaxSize:         2,
		MaxCallsPerVM:   100,
		IdleTimeout:     time.Minute,
		StartupTimeout:  5 * time.Second,
		AcquireTimeout:  2 * time.Second,
		MaintenanceTick: time.Hour,
	}
	mgr := New(driver, dialer, hypervisor.VMConfig{Native: false}, cfg, nil)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return mgr
}

func TestGetOrCreateReturnsSamePoolForSameProfileKey(t *testing.T) {
	mgr := testManager(t)
	prof, err := profile.FromOptions(profile.Options{Net: "none"})
	if err != nil {
		t.Fatal(err)
	}
	key := prof.Fingerprint()

	p1, err := mgr.GetOrCreate(context.Background(), prof, key)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := mgr.GetOrCreate(context.Background(), prof, key)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("expected the same pool instance for the same profile_key")
	}
	if mgr.Count() != 1 {
		t.Fatalf("expected exactly one pool, got %d", mgr.Count())
	}
}

func TestDistinctProfilesGetDistinctPools(t *testing.T) {
	mgr := testManager(t)
	profA, err := profile.FromOptions(profile.Options{Net: "none"})
	if err != nil {
		t.Fatal(err)
	}
	profB, err := profile.FromOptions(profile.Options{Net: "https-only"})
	if err != nil {
		t.Fatal(err)
	}
	if profA.Fingerprint() == profB.Fingerprint() {
		t.Fatal("test setup invalid: profiles should differ")
	}

	pA, err := mgr.GetOrCreate(context.Background(), profA, profA.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	pB, err := mgr.GetOrCreate(context.Background(), profB, profB.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	if pA == pB {
		t.Fatal("expected distinct pools for distinct profile fingerprints")
	}
	if mgr.Count() != 2 {
		t.Fatalf("expected two pools, got %d", mgr.Count())
	}
}

func TestConcurrentGetOrCreateConstructsOnce(t *testing.T) {
	mgr := testManager(t)
	prof, err := profile.FromOptions(profile.Options{Net: "none"})
	if err != nil {
		t.Fatal(err)
	}
	key := prof.Fingerprint()

	const n = 20
	results := make([]*pool.Pool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := mgr.GetOrCreate(context.Background(), prof, key)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate produced more than one pool for the same profile_key")
		}
	}
	if mgr.Count() != 1 {
		t.Fatalf("expected exactly one pool, got %d", mgr.Count())
	}
}

func TestShutdownClearsDirectoryAndRejectsFurtherCreation(t *testing.T) {
	mgr := testManager(t)
	prof, err := profile.FromOptions(profile.Options{Net: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.GetOrCreate(context.Background(), prof, prof.Fingerprint()); err != nil {
		t.Fatal(err)
	}
	mgr.Shutdown(context.Background())

	if mgr.Count() != 0 {
		t.Fatalf("expected empty directory after shutdown, got %d", mgr.Count())
	}
	if _, err := mgr.GetOrCreate(context.Background(), prof, prof.Fingerprint()); err == nil {
		t.Fatal("expected GetOrCreate to fail after shutdown")
	}
}
