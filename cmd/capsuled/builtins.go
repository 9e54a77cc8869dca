package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/capsule/internal/guestagent"
)

// registerDevFunctions seeds the in-process stub driver's registry with
// add, sleep and HTTP GET handlers shaped like the firecracker guest
// agent's builtins, plus an echo handler, so --dev can
// exercise the control plane and pool manager without a kernel image.
func registerDevFunctions(reg *guestagent.Registry) {
	reg.Register("dev:echo", devEcho)
	reg.Register("dev:add", devAdd)
	reg.Register("dev:sleep_ms", devSleep)
	reg.Register("dev:http_get", devHTTPGet)
}

func devEcho(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

func devAdd(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("dev:add expects 2 args, got %d", len(args))
	}
	a, aok := devToInt64(args[0])
	b, bok := devToInt64(args[1])
	if !aok || !bok {
		return nil, fmt.Errorf("dev:add expects numeric args")
	}
	return a + b, nil
}

func devSleep(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	ms := int64(50)
	if len(args) > 0 {
		if n, ok := devToInt64(args[0]); ok {
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

func devHTTPGet(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
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

func devToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
