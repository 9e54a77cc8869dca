package controlplane

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oriys/capsule/internal/guestagent"
	"github.com/oriys/capsule/internal/hypervisor"
	stubdriver "github.com/oriys/capsule/internal/hypervisor/stub"
	"github.com/oriys/capsule/internal/pool"
	"github.com/oriys/capsule/internal/poolmanager"
	"github.com/oriys/capsule/internal/supervisor"
	"github.com/oriys/capsule/internal/transport"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	in := &InvokeRequest{FunctionRef: "handlers:add", Profile: ProfileSpec{Net: "none", CPUMillis: 500, MemMB: 64}, Args: []any{float64(1), float64(2)}}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out := new(InvokeRequest)
	if err := c.Unmarshal(data, out); err != nil {
		t.Fatal(err)
	}
	if out.FunctionRef != in.FunctionRef || out.Profile.CPUMillis != 500 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

// reserveLoopbackAddr picks a free port by briefly binding to it, for
// handing to Start (which wants an address to bind, not a listener).
func reserveLoopbackAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// dialServer starts a control plane server over the stub hypervisor driver
// and dials it with the json codec, returning a ready client connection.
func dialServer(t *testing.T) (*grpc.ClientConn, func()) {
	t.Helper()
	reg := guestagent.NewRegistry()
	reg.Register("handlers:add", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		a := args[0].(int64)
		b := args[1].(int64)
		return a + b, nil
	})

	driver := stubdriver.New(reg)
	cfg := pool.Config{
		MinSize:         0,
		MaxSize:         2,
		MaxCallsPerVM:   100,
		IdleTimeout:     time.Minute,
		StartupTimeout:  5 * time.Second,
		AcquireTimeout:  2 * time.Second,
		MaintenanceTick: time.Hour,
	}
	mgr := poolmanager.New(driver, transport.NewDialer(false), hypervisor.VMConfig{Native: false}, cfg, nil)
	sup := supervisor.New(driver, mgr)
	srv := NewServer(sup)

	addr := reserveLoopbackAddr(t)
	if err := srv.Start(addr); err != nil {
		t.Fatal(err)
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		t.Fatal(err)
	}
	return conn, func() {
		conn.Close()
		srv.Stop()
		sup.Shutdown(context.Background())
	}
}

func TestInvokeOverGRPC(t *testing.T) {
	conn, cleanup := dialServer(t)
	defer cleanup()

	req := &InvokeRequest{
		FunctionRef: "handlers:add",
		Profile:     ProfileSpec{Net: "none", CPUMillis: 1000, MemMB: 128},
		Args:        []any{int64(3), int64(4)},
	}
	resp := new(InvokeResponse)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, serviceName+"/Invoke", req, resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	// the response also round-trips through the json codec, so an int64
	// result on the wire arrives back here as a JSON number (float64).
	if resp.Result.(float64) != 7 {
		t.Fatalf("expected 7, got %v", resp.Result)
	}
}

func TestStatsOverGRPCUnknownProfile(t *testing.T) {
	conn, cleanup := dialServer(t)
	defer cleanup()

	req := &StatsRequest{ProfileKey: "does-not-exist"}
	resp := new(StatsResponse)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, serviceName+"/Stats", req, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Found {
		t.Fatalf("expected unknown profile key to report not found, got %+v", resp)
	}
}
