package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"typed-rpc/message"
)

// LoggingMiddleware logs every call with its duration. Failed calls are logged at Info
// with their error code; the framework itself never logs application errors.
func LoggingMiddleware(logger *zap.Logger, names Namer) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *Reply {
			start := time.Now()
			reply := next(ctx, req)

			name := req.ID.String()
			if names != nil {
				name = names.Name(req.ID)
			}
			fields := []zap.Field{
				zap.String("rpc", name),
				zap.Uint32("id", uint32(req.ID)),
				zap.Duration("duration", time.Since(start)),
			}
			if reply != nil && reply.Err != nil {
				logger.Info("rpc failed", append(fields,
					zap.Stringer("code", reply.Err.Code),
					zap.String("error", reply.Err.Message))...)
				return reply
			}
			logger.Debug("rpc served", fields...)
			return reply
		}
	}
}
