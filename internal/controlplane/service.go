package controlplane

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified name a generated _grpc.pb.go would
// have produced from a controlplane.proto; kept here since there is no
// such file to generate it from. Exported so a client outside this package
// can build full method names ("capsule.ControlPlane/Invoke") without a
// generated stub.
const ServiceName = "capsule.ControlPlane"

const serviceName = ServiceName

// Handler is implemented by Server; named so the hand-built ServiceDesc can
// reference it as HandlerType the way protoc-gen-go-grpc output does.
type Handler interface {
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)
	Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error)
	Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error)
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InvokeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Invoke"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).Invoke(ctx, req.(*InvokeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Stats"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).Stats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func shutdownHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ShutdownRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Shutdown"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).Shutdown(ctx, req.(*ShutdownRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-built equivalent of the grpc.ServiceDesc a
// controlplane_grpc.pb.go would define.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "Shutdown", Handler: shutdownHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "controlplane.proto",
}
