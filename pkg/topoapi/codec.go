package topoapi

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// CodecName is the connect codec name of Codec. It replaces the default
// protobuf JSON codec registered under the same name.
const CodecName = "json"

// Codec marshals the plain structs of this package as JSON. Server and client
// must both be configured with connect.WithCodec(Codec{}).
type Codec struct{}

// Name implements connect.Codec.
func (Codec) Name() string { return CodecName }

// Marshal implements connect.Codec.
func (Codec) Marshal(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return data, nil
}

// Unmarshal implements connect.Codec. An empty body decodes to the zero
// message.
func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal %T: %w", msg, err)
	}
	return nil
}
