// Package rpc defines Disco's two gRPC service surfaces (AppService,
// ManagementService) as hand-maintained stubs in the shape
// protoc-gen-go-grpc would emit, paired with a JSON wire codec: spec.md
// treats RPC binary encoding as an opaque, out-of-scope detail, so the
// codec only needs to round-trip Go structs, not match protobuf's wire
// format byte for byte.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's global codec registry and
// selected per call via grpc.CallContentSubtype, which Dial sets as a
// default call option; the server looks the codec up by that subtype.
const codecName = "disco-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal %T: %w", v, err)
	}
	return buf, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecName is the content-subtype callers pass via
// grpc.CallContentSubtype(rpc.CodecName) or grpc.WithDefaultCallOptions.
const CodecName = codecName
