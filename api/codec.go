package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC content-subtype this package registers under
// ("application/grpc+json" on the wire). No .proto source ships in the
// retrieval pack to generate real protobuf stubs from, so the tablet
// service's gRPC surface carries plain JSON-tagged Go structs instead
// while keeping google.golang.org/grpc for transport, framing, and
// connection management.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}
