package grpcapi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype carrying ledger wire messages.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Frame carries one wire-format JSON message as the body of a call.
type Frame struct {
	Data []byte
}

// jsonCodec passes Frames through untouched and JSON-encodes anything else.
type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if f, ok := v.(*Frame); ok {
		if f == nil {
			return nil, fmt.Errorf("nil frame")
		}
		return f.Data, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if f, ok := v.(*Frame); ok {
		f.Data = append([]byte(nil), data...)
		return nil
	}
	return json.Unmarshal(data, v)
}
