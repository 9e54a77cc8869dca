package pool

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/capsule/internal/guestagent"
	"github.com/oriys/capsule/internal/hypervisor"
	stubdriver "github.com/oriys/capsule/internal/hypervisor/stub"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/sandboxerr"
	"github.com/oriys/capsule/internal/transport"
)

func testRegistry() *guestagent.Registry {
	reg := guestagent.NewRegistry()
	reg.Register("handlers:add", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		a := args[0].(int64)
		b := args[1].(int64)
		return a + b, nil
	})
	reg.Register("handlers:sleep", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		ms := args[0].(int64)
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return int64(1), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return reg
}

func testConfig() Config {
	return Config{
		MinSize:         0,
		MaxSize:         4,
		MaxCallsPerVM:   1000,
		IdleTimeout:     time.Minute,
		StartupTimeout:  5 * time.Second,
		AcquireTimeout:  2 * time.Second,
		MaintenanceTick: time.Hour,
	}
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	prof, err := profile.FromOptions(profile.Options{Net: "none", CPUMillis: 1000, MemMB: 128})
	if err != nil {
		t.Fatal(err)
	}
	driver := stubdriver.New(testRegistry())
	dialer := transport.NewDialer(false)
	vmCfg := hypervisor.VMConfig{Native: false, MemMB: prof.MemMB}
	p := NewPool(prof, prof.Fingerprint(), driver, dialer, vmCfg, cfg, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p
}

func callAdd(t *testing.T, p *Pool, a, b int64) int64 {
	t.Helper()
	vm, _, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	resp, err := p.Execute(context.Background(), vm, rpc.Request{
		RequestID:   "req",
		FunctionRef: "handlers:add",
		Args:        []any{a, b},
		Kwargs:      map[string]any{},
		TimeoutMs:   1000,
	})
	p.Release(context.Background(), vm)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return resp.Result.(int64)
}

func TestColdCallNoDeps(t *testing.T) {
	p := newTestPool(t, testConfig())
	got := callAdd(t, p, 1, 2)
	if got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	all, _, _ := p.Snapshot()
	if all != 1 {
		t.Fatalf("expected |all|==1, got %d", all)
	}
}

func TestWarmReuse(t *testing.T) {
	p := newTestPool(t, testConfig())
	for i := 0; i < 5; i++ {
		if got := callAdd(t, p, 1, 2); got != 3 {
			t.Fatalf("call %d: expected 3, got %d", i, got)
		}
	}
	all, _, _ := p.Snapshot()
	if all != 1 {
		t.Fatalf("expected exactly one vm after 5 sequential calls, got %d", all)
	}
}

func TestRecycleOnCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCallsPerVM = 2
	p := newTestPool(t, cfg)

	var firstVMID string
	for i := 0; i < 3; i++ {
		vm, _, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			firstVMID = vm.VMID
		}
		if _, err := p.Execute(context.Background(), vm, rpc.Request{RequestID: "r", FunctionRef: "handlers:add", Args: []any{int64(1), int64(1)}, Kwargs: map[string]any{}, TimeoutMs: 1000}); err != nil {
			t.Fatal(err)
		}
		p.Release(context.Background(), vm)
	}
	all, available, inUse := p.Snapshot()
	if all < cfg.MinSize || all > cfg.MaxSize {
		t.Fatalf("|all|=%d out of [%d,%d]", all, cfg.MinSize, cfg.MaxSize)
	}
	if available == 0 && inUse == 0 {
		t.Fatal("expected a replacement vm to exist")
	}
	p.mu.Lock()
	_, stillThere := p.all[firstVMID]
	p.mu.Unlock()
	if stillThere {
		t.Fatal("expected the originally-used vm to have been destroyed")
	}
}

func TestGuestTimeoutTaintsAndDestroysVM(t *testing.T) {
	p := newTestPool(t, testConfig())
	vm, _, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	vmID := vm.VMID
	_, err = p.Execute(context.Background(), vm, rpc.Request{
		RequestID:   "r",
		FunctionRef: "handlers:sleep",
		Args:        []any{int64(200)},
		Kwargs:      map[string]any{},
		TimeoutMs:   50,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var se *sandboxerr.Error
	if kind, ok := sandboxerr.KindOf(err); !ok || kind != sandboxerr.KindSandboxTimeout {
		t.Fatalf("expected SandboxTimeout, got %v (%T %v)", err, se, kind)
	}
	p.Release(context.Background(), vm)

	p.mu.Lock()
	_, stillThere := p.all[vmID]
	p.mu.Unlock()
	if stillThere {
		t.Fatal("expected tainted vm to be destroyed on release")
	}
}

func TestPoolExhaustedWhenAtMaxSize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 200 * time.Millisecond
	p := newTestPool(t, cfg)

	vm, _, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = p.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected pool exhaustion")
	}
	if kind, ok := sandboxerr.KindOf(err); !ok || kind != sandboxerr.KindPoolExhausted {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}
	p.Release(context.Background(), vm)
}

func TestShutdownDestroysAllAndRejectsFurtherOps(t *testing.T) {
	p := newTestPool(t, testConfig())
	callAdd(t, p, 1, 1)
	p.Shutdown(context.Background())

	all, _, _ := p.Snapshot()
	if all != 0 {
		t.Fatalf("expected |all|==0 after shutdown, got %d", all)
	}
	if _, _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("expected PoolClosed after shutdown")
	} else if kind, ok := sandboxerr.KindOf(err); !ok || kind != sandboxerr.KindPoolClosed {
		t.Fatalf("expected PoolClosed, got %v", err)
	}
}
