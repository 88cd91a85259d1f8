package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"typed-rpc/message"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
//
// One bucket is shared by every connection of the server. Rejected calls get a
// CodeRateLimited response and the connection stays open.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *Reply {
			if !limiter.Allow() {
				return Fail(message.CodeRateLimited, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
