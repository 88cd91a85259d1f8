package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec is the default codec. Only exported struct fields are sent, which
// keeps payloads compact and lets plain Go structs serve as request/response types.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode rejects trailing bytes: a payload must hold exactly one value.
func (MsgpackCodec) Decode(data []byte, v any) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return decodeError(TypeMsgpack, v, err)
	}
	if r.Len() != 0 {
		return decodeError(TypeMsgpack, v, fmt.Errorf("%d trailing bytes", r.Len()))
	}
	return nil
}

func (MsgpackCodec) Type() Type {
	return TypeMsgpack
}
