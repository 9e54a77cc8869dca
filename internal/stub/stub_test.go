package stub

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
	"github.com/oriys/capsule/internal/supervisor"
	"github.com/oriys/capsule/internal/transport"
)

func testStub(t *testing.T) *Stub {
	t.Helper()
	reg := guestagent.NewRegistry()
	reg.Register("handlers:square", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		n := args[0].(int64)
		return n * n, nil
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
	sup := supervisor.New(driver, mgr)
	t.Cleanup(func() { sup.Shutdown(context.Background()) })

	prof, err := profile.FromOptions(profile.Options{Net: "none"})
	if err != nil {
		t.Fatal(err)
	}
	return New("handlers:square", prof, prof.Fingerprint(), nil, sup)
}

func TestStubCall(t *testing.T) {
	s := testStub(t)
	result, err := s.Call(context.Background(), []any{int64(7)}, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if result.(int64) != 49 {
		t.Fatalf("expected 49, got %v", result)
	}
}

func TestStubCallAsync(t *testing.T) {
	s := testStub(t)
	ch := s.CallAsync(context.Background(), []any{int64(6)}, map[string]any{})
	select {
	case res := <-ch:
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		if res.Value.(int64) != 36 {
			t.Fatalf("expected 36, got %v", res.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async call")
	}
}

func TestStubRepeatedCallsSucceedIndependently(t *testing.T) {
	s := testStub(t)
	for i := int64(1); i <= 3; i++ {
		result, err := s.Call(context.Background(), []any{i}, map[string]any{})
		if err != nil {
			t.Fatal(err)
		}
		if result.(int64) != i*i {
			t.Fatalf("call %d: expected %d, got %v", i, i*i, result)
		}
	}
}
