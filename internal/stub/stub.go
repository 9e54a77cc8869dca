// Package stub implements the decorator-style call-site surface: wrapping a
// function reference and its capability profile into a callable value that
// transparently routes through the supervisor instead of running in-process.
package stub

import (
	"context"

	"github.com/google/uuid"

	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/supervisor"
)

// Stub is a callable value bound to one function_ref, its capability
// profile, and the original (in-process) implementation it replaces. The
// original is kept only as a documented fallback for callers that choose to
// bypass sandboxing (e.g. in a trusted test harness) — Call never uses it.
type Stub struct {
	FunctionRef string
	Profile     profile.Profile
	ProfileKey  string
	Original    func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

	supervisor *supervisor.Supervisor
}

// New binds a function reference and profile to a supervisor, producing a
// callable sandboxed stand-in for Original.
func New(functionRef string, prof profile.Profile, profileKey string, original func(ctx context.Context, args []any, kwargs map[string]any) (any, error), sup *supervisor.Supervisor) *Stub {
	return &Stub{
		FunctionRef: functionRef,
		Profile:     prof,
		ProfileKey:  profileKey,
		Original:    original,
		supervisor:  sup,
	}
}

// Call creates a fresh request_id, builds an RPC request carrying
// timeout_ms=profile.cpu_ms, and hands it to the supervisor's synchronous
// entry point.
func (s *Stub) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	req := rpc.Request{
		RequestID:   uuid.NewString(),
		FunctionRef: s.FunctionRef,
		Args:        args,
		Kwargs:      kwargs,
		TimeoutMs:   uint32(s.Profile.CPUMillis),
	}
	return s.supervisor.Invoke(ctx, s.Profile, s.ProfileKey, req)
}

// CallAsync is the cooperative-concurrency counterpart of Call.
func (s *Stub) CallAsync(ctx context.Context, args []any, kwargs map[string]any) <-chan supervisor.Result {
	req := rpc.Request{
		RequestID:   uuid.NewString(),
		FunctionRef: s.FunctionRef,
		Args:        args,
		Kwargs:      kwargs,
		TimeoutMs:   uint32(s.Profile.CPUMillis),
	}
	return s.supervisor.InvokeAsync(ctx, s.Profile, s.ProfileKey, req)
}
