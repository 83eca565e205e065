package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype the node service is spoken in
// (application/grpc+json).
const codecName = "json"

// jsonCodec lets gRPC carry the plain Go message structs of this package.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
