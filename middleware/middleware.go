// Package middleware wraps the server's dispatch step. Middlewares see the decoded frame
// and the un-encoded reply, so they run outside the state lock and never touch bytes on
// the wire.
package middleware

import (
	"context"
	"fmt"

	"typed-rpc/message"
)

// Reply is the outcome of dispatching one request, before the server encodes it.
// Exactly one of Value and Err is meaningful: Err != nil means a StatusError response.
type Reply struct {
	Value any
	Err   *message.Error
}

// Fail builds a call-level error reply.
func Fail(code message.Code, format string, args ...any) *Reply {
	return &Reply{Err: &message.Error{Code: code, Message: fmt.Sprintf(format, args...)}}
}

type HandlerFunc func(ctx context.Context, req *message.Request) *Reply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Namer resolves identifiers to display names for logs.
type Namer interface {
	Name(id message.ID) string
}
