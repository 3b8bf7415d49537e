package nodeagent

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated via grpc.CallContentSubtype so the stream runs
// over plain JSON instead of protobuf. There is no .proto toolchain in this
// repo; the wire messages are the same types.Assignment struct used
// everywhere else, marshaled with encoding/json.
const codecName = "json"

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
	return codecName
}
