// Package message defines the units exchanged between client and server.
//
// A Request names the RPC by its ID and carries the codec-encoded argument. A Response
// carries a status byte and either the codec-encoded result or a codec-encoded Error.
// The protocol package frames both for transmission over a byte stream.
package message

import "fmt"

// ID is the wire tag naming one RPC. The set of IDs is fixed when a binary is built;
// each ID maps to exactly one request/response type pair for a protocol's lifetime.
type ID uint32

func (id ID) String() string {
	return fmt.Sprintf("rpc#%d", uint32(id))
}

// Status is the first byte of a response frame body.
type Status byte

const (
	StatusOK    Status = 0
	StatusError Status = 1
)

func (s Status) Valid() bool {
	return s == StatusOK || s == StatusError
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", byte(s))
	}
}

// Request carries a single RPC invocation.
type Request struct {
	ID      ID
	Payload []byte // codec-encoded request value
}

// Response carries the outcome of one Request.
//
//   - StatusOK:    Payload is the codec-encoded response value.
//   - StatusError: Payload is the codec-encoded Error.
type Response struct {
	Status  Status
	Payload []byte
}
