// Package definition pairs an RPC identifier with its request and response types.
//
// A Definition is the client capability: it knows how to encode its request type and
// decode its response type under the identifier it was created with. Implement turns a
// Definition plus a handler function into the server capability, a Handler, whose
// type-erased Entry is what a server's dispatch registry stores.
//
//	var AddName = definition.New[string, struct{}](1, "AddName")
//
//	srv.Register(definition.Implement(AddName, func(s *State, name string) (struct{}, error) {
//		s.Names = append(s.Names, name)
//		return struct{}{}, nil
//	}))
package definition

import (
	"fmt"

	"typed-rpc/codec"
	"typed-rpc/message"
)

// Descriptor is the untyped view of a definition.
type Descriptor interface {
	ID() message.ID
	Name() string
}

// Definition is an immutable association of an identifier with a request type Req and
// a response type Resp. It is safe to share between goroutines.
type Definition[Req, Resp any] struct {
	id   message.ID
	name string
}

func New[Req, Resp any](id message.ID, name string) Definition[Req, Resp] {
	return Definition[Req, Resp]{id: id, name: name}
}

func (d Definition[Req, Resp]) ID() message.ID { return d.id }

func (d Definition[Req, Resp]) Name() string { return d.name }

func (d Definition[Req, Resp]) String() string {
	return fmt.Sprintf("%s(%d)", d.name, uint32(d.id))
}

// EncodeRequest builds the request for req tagged with the definition's identifier.
func (d Definition[Req, Resp]) EncodeRequest(c codec.Codec, req Req) (*message.Request, error) {
	payload, err := c.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", d, err)
	}
	return &message.Request{ID: d.id, Payload: payload}, nil
}

// DecodeResponse turns a response into the call's result. A StatusError response is
// returned as *message.RemoteError; a payload that does not decode is a *codec.DecodeError.
func (d Definition[Req, Resp]) DecodeResponse(c codec.Codec, resp *message.Response) (Resp, error) {
	var out Resp
	switch resp.Status {
	case message.StatusOK:
		if err := c.Decode(resp.Payload, &out); err != nil {
			return out, err
		}
		return out, nil
	case message.StatusError:
		var remote message.Error
		if err := c.Decode(resp.Payload, &remote); err != nil {
			return out, err
		}
		return out, remote.Remote(d.id)
	default:
		return out, fmt.Errorf("%s: unexpected response status %s", d, resp.Status)
	}
}
