// Package codec abstracts the wire serialization used by the SDK so that
// transports can switch between text and binary framing without the higher
// layers caring.
package codec

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

type Marshaler interface {
	Marshal(v any) ([]byte, error)
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
}

// JSON is the default codec. Realtime frames and REST payloads are JSON.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}

// CBOR is an alternative codec for transports that negotiate binary framing.
type CBOR struct{}

func (CBOR) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBOR) Unmarshal(data []byte, dst any) error {
	return cbor.Unmarshal(data, dst)
}
