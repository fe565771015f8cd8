package grpcserver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec serves the gateway over "application/grpc+json" frames, so the
// service runs without generated stubs and any JSON-capable client can call it.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
