// Package platform is the host-facing surface of the video player plugin.
// Hosts create players and drive them through named method calls with
// JSON-compatible arguments, and receive each player's events on a
// per-player event channel.
package platform

import (
	"encoding/json"
)

// MessageCodec encodes and decodes method-call payloads.
type MessageCodec interface {
	// Encode converts a Go value to bytes for transmission to the host.
	Encode(value any) ([]byte, error)

	// Decode converts bytes received from the host to a Go value.
	Decode(data []byte) (any, error)
}

// JsonCodec implements MessageCodec using JSON encoding.
type JsonCodec struct{}

// Encode serializes the value to JSON bytes.
func (c JsonCodec) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Decode deserializes JSON bytes to a Go value. Numbers decode as float64.
func (c JsonCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DefaultCodec is the codec used for byte-level method calls and events.
var DefaultCodec MessageCodec = JsonCodec{}
