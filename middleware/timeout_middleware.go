package middleware

import (
	"context"
	"time"

	"typed-rpc/message"
)

// TimeOutMiddleware answers CodeTimeout when the wrapped handler takes longer than
// timeout. The handler is not interrupted: it finishes in the background and keeps
// the state lock until it returns, but its result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *Reply {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *Reply, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return Fail(message.CodeTimeout, "request timed out after %s", timeout)
			}
		}
	}
}
