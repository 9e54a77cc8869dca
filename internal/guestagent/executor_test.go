package guestagent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/transport"
)

func startTestExecutor(t *testing.T, reg *Registry) (transport.Conn, func()) {
	return startTestExecutorWithNetPolicy(t, reg, profile.NetAll)
}

func startTestExecutorWithNetPolicy(t *testing.T, reg *Registry, netPolicy profile.NetPolicy) (transport.Conn, func()) {
	t.Helper()
	ln, err := transport.ListenLoopback(0)
	if err != nil {
		t.Fatal(err)
	}
	port := uint32(ln.Addr().(*net.TCPAddr).Port)

	exec := New(reg).WithInstaller(NoopInstaller{}).WithNetPolicy(netPolicy)
	ctx, cancel := context.WithCancel(context.Background())
	go exec.Serve(ctx, ln)

	conn, err := (transport.LoopbackDialer{}).Dial(0, port)
	if err != nil {
		t.Fatal(err)
	}
	return conn, func() {
		conn.Close()
		cancel()
		ln.Close()
	}
}

func TestInvokeSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register("handlers:add", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		a := args[0].(int64)
		b := args[1].(int64)
		return a + b, nil
	})
	conn, cleanup := startTestExecutor(t, reg)
	defer cleanup()

	req := rpc.Request{RequestID: "r1", FunctionRef: "handlers:add", Args: []any{int64(1), int64(2)}, Kwargs: map[string]any{}, TimeoutMs: 1000}
	if err := rpc.SendRequest(conn, req); err != nil {
		t.Fatal(err)
	}
	resp, err := rpc.RecvResponse(conn)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.RequestID != "r1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Result.(int64) != 3 {
		t.Fatalf("expected 3, got %v", resp.Result)
	}
}

func TestInvokeTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register("handlers:slow", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return int64(1), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	conn, cleanup := startTestExecutor(t, reg)
	defer cleanup()

	req := rpc.Request{RequestID: "r2", FunctionRef: "handlers:slow", Kwargs: map[string]any{}, TimeoutMs: 50}
	if err := rpc.SendRequest(conn, req); err != nil {
		t.Fatal(err)
	}
	resp, err := rpc.RecvResponse(conn)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("expected failure on timeout")
	}
	if resp.Error == nil || resp.Error.Type != "TimeoutError" {
		t.Fatalf("expected TimeoutError, got %+v", resp.Error)
	}
}

func TestInvokeUnresolvedFunctionRef(t *testing.T) {
	reg := NewRegistry()
	conn, cleanup := startTestExecutor(t, reg)
	defer cleanup()

	req := rpc.Request{RequestID: "r3", FunctionRef: "handlers:missing", Kwargs: map[string]any{}, TimeoutMs: 1000}
	if err := rpc.SendRequest(conn, req); err != nil {
		t.Fatal(err)
	}
	resp, err := rpc.RecvResponse(conn)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.Error.Type != "TypeError" {
		t.Fatalf("expected TypeError, got %+v", resp)
	}
}

func TestInvokeDeniedByNetPolicy(t *testing.T) {
	reg := NewRegistry()
	reg.Register("handlers:fetch", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		client := ClientFromContext(ctx)
		_, err := client.Get("http://example.com")
		return nil, err
	})
	conn, cleanup := startTestExecutorWithNetPolicy(t, reg, profile.NetNone)
	defer cleanup()

	req := rpc.Request{RequestID: "r5", FunctionRef: "handlers:fetch", Kwargs: map[string]any{}, TimeoutMs: 1000}
	if err := rpc.SendRequest(conn, req); err != nil {
		t.Fatal(err)
	}
	resp, err := rpc.RecvResponse(conn)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("expected the handler's outbound call to fail under NONE")
	}
}

func TestInstallCommand(t *testing.T) {
	reg := NewRegistry()
	conn, cleanup := startTestExecutor(t, reg)
	defer cleanup()

	req := rpc.Request{RequestID: "r4", Command: rpc.InstallCommand, Dependencies: []string{"numpy"}, TimeoutMs: 1000}
	if err := rpc.SendRequest(conn, req); err != nil {
		t.Fatal(err)
	}
	resp, err := rpc.RecvResponse(conn)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("expected install success, got %+v", resp)
	}
}
