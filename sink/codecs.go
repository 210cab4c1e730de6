package sink

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoder converts an envelope to the byte form a sink stores or publishes.
type Encoder func(env Envelope) ([]byte, error)

// MsgpackEncoder returns an Encoder that marshals envelopes to msgpack.
func MsgpackEncoder() Encoder {
	return func(env Envelope) ([]byte, error) {
		return msgpack.Marshal(env)
	}
}

// JSONEncoder returns an Encoder that marshals envelopes to JSON.
func JSONEncoder() Encoder {
	return func(env Envelope) ([]byte, error) {
		return json.Marshal(env)
	}
}
