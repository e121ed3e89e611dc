// Package rpc implements the ConnectRPC surface of the daemon: the
// bancho-state service handlers used by gobanchoctl and peer services,
// the shared wire types for every collaborator contract, and the JSON
// codec they ride on.
//
// The inter-service contract is transport-agnostic; no generated schema
// is checked in. Payloads are plain Go structs marshaled by the JSON
// codec below, which keeps the Connect framing (procedures, error
// codes, streaming) without a protobuf toolchain in the build.
package rpc

import "encoding/json"

// codecNameJSON is the Connect codec name; it selects the
// application/json content type on the wire.
const codecNameJSON = "json"

// JSONCodec marshals Connect messages as JSON.
type JSONCodec struct{}

// Name implements connect.Codec.
func (JSONCodec) Name() string {
	return codecNameJSON
}

// Marshal implements connect.Codec.
func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// Unmarshal implements connect.Codec.
func (JSONCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}
