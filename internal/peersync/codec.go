package peersync

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes sync frames for the wire. The envelope contract is
// structural; the byte encoding is the transport's choice.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default wire encoding.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CBORCodec is the compact binary encoding for constrained links.
type CBORCodec struct{}

// Name implements Codec.
func (CBORCodec) Name() string { return "cbor" }

// Marshal implements Codec.
func (CBORCodec) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }

// Unmarshal implements Codec.
func (CBORCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// CodecByName selects a codec from config; empty defaults to JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("peersync: unknown codec %q", name)
	}
}

// EncodeMessage validates and encodes one sync message.
func EncodeMessage(c Codec, m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := c.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode sync message: %w", err)
	}
	return data, nil
}

// DecodeMessage decodes and validates one sync message. Invalid envelopes
// are rejected outright.
func DecodeMessage(c Codec, data []byte) (*Message, error) {
	var m Message
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode sync message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
