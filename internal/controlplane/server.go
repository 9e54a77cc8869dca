// Package controlplane exposes a supervisor's Invoke/Stats/Shutdown
// operations over gRPC. Generated protobuf types aren't available in this
// tree, so request/response messages are plain Go structs carried by a
// hand-registered JSON codec (see codec.go) and dispatched through a
// hand-built grpc.ServiceDesc (see service.go) instead of a
// controlplane_grpc.pb.go file.
package controlplane

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oriys/capsule/internal/logging"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/sandboxerr"
	"github.com/oriys/capsule/internal/supervisor"
)

// Server implements Handler over a single supervisor.
type Server struct {
	supervisor *supervisor.Supervisor
	server     *grpc.Server
}

// NewServer wraps sup for remote invocation.
func NewServer(sup *supervisor.Supervisor) *Server {
	return &Server{supervisor: sup}
}

// Start binds addr and serves the control plane in the background. It
// returns once the listener is bound; Serve errors are logged, not
// returned, matching the fire-and-forget goroutine shape of a long-running
// server's Start method.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.server = grpc.NewServer()
	s.server.RegisterService(&serviceDesc, s)

	logging.Op().Info("control plane started", "addr", addr)

	go func() {
		if err := s.server.Serve(lis); err != nil {
			logging.Op().Error("control plane server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.GracefulStop()
	}
}

// Invoke runs one function call inside a VM matching req.Profile.
func (s *Server) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	if req.FunctionRef == "" {
		return nil, status.Error(codes.InvalidArgument, "function_ref is required")
	}

	prof, err := profile.FromOptions(profile.Options{
		FS:           req.Profile.FS,
		Net:          req.Profile.Net,
		CPUMillis:    req.Profile.CPUMillis,
		MemMB:        req.Profile.MemMB,
		Dependencies: req.Profile.Dependencies,
	})
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad profile: %v", err)
	}

	callReq := rpc.Request{
		RequestID:   uuid.NewString(),
		FunctionRef: req.FunctionRef,
		Args:        normalizeJSONArgs(req.Args),
		Kwargs:      normalizeJSONKwargs(req.Kwargs),
		TimeoutMs:   uint32(prof.CPUMillis),
	}

	result, err := s.supervisor.Invoke(ctx, prof, prof.Fingerprint(), callReq)
	if err != nil {
		kind, _ := sandboxerr.KindOf(err)
		return &InvokeResponse{
			Success:      false,
			ErrorKind:    string(kind),
			ErrorMessage: err.Error(),
		}, nil
	}

	return &InvokeResponse{Success: true, Result: result}, nil
}

// normalizeJSONValue folds a JSON-decoded value into the type set the wire
// codec actually speaks. encoding/json has no integer type: every JSON
// number lands in an any as float64, but the guest wire codec only encodes
// whole numbers as int64. A whole-valued float64 is converted; a
// fractional one is left as-is and will fail encoding downstream with a
// clear wire error rather than being silently truncated.
func normalizeJSONValue(v any) any {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSONValue(item)
		}
		return out
	default:
		return val
	}
}

func normalizeJSONArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = normalizeJSONValue(a)
	}
	return out
}

func normalizeJSONKwargs(kwargs map[string]any) map[string]any {
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = normalizeJSONValue(v)
	}
	return out
}

// Stats reports pool occupancy for req.ProfileKey.
func (s *Server) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	if req.ProfileKey == "" {
		return nil, status.Error(codes.InvalidArgument, "profile_key is required")
	}
	all, available, inUse, found := s.supervisor.Stats(req.ProfileKey)
	return &StatsResponse{All: all, Available: available, InUse: inUse, Found: found}, nil
}

// Shutdown tears down every pool and the hypervisor driver.
func (s *Server) Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
	if err := s.supervisor.Shutdown(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "shutdown failed: %v", err)
	}
	return &ShutdownResponse{}, nil
}
