package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oriys/capsule/internal/guestagent"
)

// RegisterBuiltins populates the static function registry with the sample
// functions exercised by the testable-property scenarios: a trivial add, a
// CPU-bound loop, a deliberately slow call (for timeout scenarios), a
// network probe, and a disk write — one per isolation dimension a profile
// can gate.
func RegisterBuiltins(reg *guestagent.Registry) {
	reg.Register("benchmarks.bench_executor:simple_add", simpleAdd)
	reg.Register("examples:cpu_intensive", cpuIntensive)
	reg.Register("examples:sleep_ms", sleepMs)
	reg.Register("examples:network_probe", networkProbe)
	reg.Register("examples:disk_write", diskWrite)
}

func simpleAdd(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("simple_add expects 2 args, got %d", len(args))
	}
	a, aok := toInt64(args[0])
	b, bok := toInt64(args[1])
	if !aok || !bok {
		return nil, fmt.Errorf("simple_add expects numeric args")
	}
	return a + b, nil
}

func cpuIntensive(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	iterations := int64(1_000_000)
	if len(args) > 0 {
		if n, ok := toInt64(args[0]); ok {
			iterations = n
		}
	}
	var acc int64
	for i := int64(0); i < iterations; i++ {
		acc += i % 7
		if i%100000 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
	}
	return acc, nil
}

func sleepMs(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	ms := int64(200)
	if len(args) > 0 {
		if n, ok := toInt64(args[0]); ok {
			ms = n
		}
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return "slept", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func networkProbe(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	url := "https://example.com"
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			url = s
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := guestagent.ClientFromContext(ctx).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return int64(resp.StatusCode), nil
}

func diskWrite(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	dir := "/tmp"
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			dir = s
		}
	}
	path := filepath.Join(dir, "capsule-disk-write-probe")
	if err := os.WriteFile(path, []byte("ok"), 0o644); err != nil {
		return nil, err
	}
	defer os.Remove(path)
	return "written", nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
