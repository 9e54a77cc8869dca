package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/capsule/internal/guestagent"
	"github.com/oriys/capsule/internal/hypervisor"
	stubdriver "github.com/oriys/capsule/internal/hypervisor/stub"
	"github.com/oriys/capsule/internal/pool"
	"github.com/oriys/capsule/internal/poolmanager"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/transport"
)

func testSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	reg := guestagent.NewRegistry()
	reg.Register("handlers:double", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0].(int64) * 2, nil
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
	mgr := poolmanager.New(driver, dialer, hypervisor.VMConfig{Native: false}, cfg, nil)
	sup := New(driver, mgr)
	t.Cleanup(func() { sup.Shutdown(context.Background()) })
	return sup
}

func TestInvokeSync(t *testing.T) {
	sup := testSupervisor(t)
	prof, err := profile.FromOptions(profile.Options{Net: "none"})
	if err != nil {
		t.Fatal(err)
	}
	key := prof.Fingerprint()

	result, err := sup.Invoke(context.Background(), prof, key, rpc.Request{
		RequestID:   "r1",
		FunctionRef: "handlers:double",
		Args:        []any{int64(21)},
		Kwargs:      map[string]any{},
		TimeoutMs:   1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.(int64) != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestInvokeAsync(t *testing.T) {
	sup := testSupervisor(t)
	prof, err := profile.FromOptions(profile.Options{Net: "none"})
	if err != nil {
		t.Fatal(err)
	}
	key := prof.Fingerprint()

	ch := sup.InvokeAsync(context.Background(), prof, key, rpc.Request{
		RequestID:   "r2",
		FunctionRef: "handlers:double",
		Args:        []any{int64(10)},
		Kwargs:      map[string]any{},
		TimeoutMs:   1000,
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		if res.Value.(int64) != 20 {
			t.Fatalf("expected 20, got %v", res.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async result")
	}
}

func TestStatsUnknownProfile(t *testing.T) {
	sup := testSupervisor(t)
	if _, _, _, ok := sup.Stats("nonexistent"); ok {
		t.Fatal("expected ok=false for a profile_key with no pool yet")
	}
}
