package definition

import (
	"typed-rpc/codec"
)

// Func is a handler body. It runs with exclusive access to the server state.
type Func[S, Req, Resp any] func(state *S, req Req) (Resp, error)

// Invocation is a decoded request bound to its handler, waiting for the state.
type Invocation[S any] func(state *S) (any, error)

// Entry is the type-erased server capability stored in a dispatch registry. Bind
// decodes a payload into the handler's request type; the returned Invocation runs the
// handler and yields the response value for encoding.
type Entry[S any] interface {
	Descriptor
	Bind(c codec.Codec, payload []byte) (Invocation[S], error)
}

// Handler is a Definition with its server-side implementation over state S.
type Handler[S, Req, Resp any] struct {
	Definition[Req, Resp]
	fn Func[S, Req, Resp]
}

func Implement[S, Req, Resp any](def Definition[Req, Resp], fn func(state *S, req Req) (Resp, error)) *Handler[S, Req, Resp] {
	return &Handler[S, Req, Resp]{Definition: def, fn: fn}
}

func (h *Handler[S, Req, Resp]) Bind(c codec.Codec, payload []byte) (Invocation[S], error) {
	var req Req
	if err := c.Decode(payload, &req); err != nil {
		return nil, err
	}
	return func(state *S) (any, error) {
		return h.fn(state, req)
	}, nil
}

// Call runs the handler directly against state, bypassing any codec.
func (h *Handler[S, Req, Resp]) Call(state *S, req Req) (Resp, error) {
	return h.fn(state, req)
}
