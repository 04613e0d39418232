package proto

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
	gproto "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/encoding/protojson"
)

// codecName is the content subtype ("application/grpc+json") used by the
// detect service. Well-known proto types go through protojson, plain Go
// structs through encoding/json.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(gproto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(gproto.Message); ok {
		return protojson.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
