// Package codec turns typed request and response values into payload bytes and back.
//
// A codec only sees the payload part of a frame. Framing, identifiers and status bytes
// are the protocol package's concern.
package codec

import "fmt"

type Type byte

const (
	TypeMsgpack Type = 0
	TypeJSON    Type = 1
)

func (t Type) String() string {
	switch t {
	case TypeMsgpack:
		return "msgpack"
	case TypeJSON:
		return "json"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

type Codec interface {
	Encode(v any) ([]byte, error)
	// Decode fills v from data. Malformed input is reported as *DecodeError.
	Decode(data []byte, v any) error
	Type() Type
}

// Get returns the codec registered for t, falling back to msgpack.
func Get(t Type) Codec {
	if t == TypeJSON {
		return JSONCodec{}
	}
	return MsgpackCodec{}
}

// Parse maps a codec name ("msgpack", "json") to its Codec.
func Parse(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return Get(TypeMsgpack), nil
	case "json":
		return Get(TypeJSON), nil
	}
	return nil, fmt.Errorf("unknown codec: %q", name)
}

// DecodeError reports payload bytes that do not match the expected type.
type DecodeError struct {
	Codec Type
	Into  string // Go type name of the decode target
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode into %s: %v", e.Codec, e.Into, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(t Type, v any, err error) error {
	return &DecodeError{Codec: t, Into: fmt.Sprintf("%T", v), Err: err}
}
