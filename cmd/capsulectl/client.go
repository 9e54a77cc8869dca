package main

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oriys/capsule/internal/controlplane"
)

// dial opens a connection to a capsuled control plane, registered for the
// same JSON content-subtype the server speaks instead of a generated
// protobuf client stub.
func dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
}

func method(name string) string {
	return controlplane.ServiceName + "/" + name
}
