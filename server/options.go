package server

import (
	"time"

	"go.uber.org/zap"

	"typed-rpc/codec"
	"typed-rpc/protocol"
)

const DefaultShutdownTimeout = 5 * time.Second

type options struct {
	codec           codec.Codec
	maxFrameSize    int
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

type Option func(*options)

func defaultOptions() options {
	return options{
		codec:           codec.MsgpackCodec{},
		maxFrameSize:    protocol.DefaultMaxFrameSize,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          zap.NewNop(),
	}
}

// WithCodec sets the payload codec. Clients must use the same one.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMaxFrameSize caps the length of incoming frames. Larger frames close the connection.
func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithReadTimeout closes connections that send no complete request within d.
// Zero disables the timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithShutdownTimeout bounds the graceful shutdown triggered by context cancellation.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
