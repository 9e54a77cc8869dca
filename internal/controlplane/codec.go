package controlplane

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec is a minimal encoding.Codec implementation. The teacher's own
// generated-protobuf service (internal/grpc) depends on a codegen'd package
// this pack doesn't carry, so the control plane speaks plain Go structs
// over grpc's documented codec extension point instead of fabricating
// generated types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
