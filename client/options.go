package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"typed-rpc/codec"
	"typed-rpc/protocol"
	"typed-rpc/transport"
)

const (
	DefaultPoolSize     = 4
	DefaultMaxAddresses = 64
	DefaultDialTimeout  = 5 * time.Second
)

type options struct {
	network      string
	codec        codec.Codec
	maxFrameSize int
	dialTimeout  time.Duration
	timeout      time.Duration
	poolSize     int
	maxAddresses int
	idleTimeout  time.Duration
	logger       *zap.Logger
}

type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		network:      "tcp",
		codec:        codec.MsgpackCodec{},
		maxFrameSize: protocol.DefaultMaxFrameSize,
		dialTimeout:  DefaultDialTimeout,
		poolSize:     DefaultPoolSize,
		maxAddresses: DefaultMaxAddresses,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// dial opens a connection; failures are reported as *ConnectionError.
func (o *options) dial(ctx context.Context, addr string) (*transport.Conn, error) {
	conn, err := transport.Dial(ctx, o.network, addr, o.dialTimeout, o.maxFrameSize)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	return conn, nil
}

// WithNetwork selects the network passed to net.Dial ("tcp" by default).
func WithNetwork(network string) Option {
	return func(o *options) { o.network = network }
}

// WithCodec sets the payload codec. It must match the server's.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMaxFrameSize caps the size of response frames accepted from the server.
func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithTimeout bounds each call, from writing the request to reading the response.
// Exceeding it fails the call and discards the connection.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithPoolSize sets the maximum number of connections a Client keeps per address.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithMaxAddresses bounds how many per-address pools a Client keeps.
func WithMaxAddresses(n int) Option {
	return func(o *options) { o.maxAddresses = n }
}

// WithIdleTimeout discards pooled connections that have been idle longer than d.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
