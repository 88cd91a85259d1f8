// Package client issues typed calls against a server.
//
// Three entry points share one exchange:
//
//   - Call dials the address, performs one call and closes the connection.
//   - CallConn performs one call on a connection the caller owns.
//   - Invoke performs one call through a Client, which keeps idle connections per
//     address and reuses them for later calls.
//
// Calls are never retried. Errors fall into three groups: *message.RemoteError when the
// server answered with an error response (the connection stays usable),
// *codec.DecodeError when the response does not decode as the definition's response
// type, and *ConnectionError when the connection failed. The last two poison the
// connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"typed-rpc/definition"
	"typed-rpc/message"
	"typed-rpc/transport"
)

var ErrClientClosed = errors.New("client closed")

// ConnectionError reports a failure to reach the server or a broken exchange.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Call dials addr, performs a single call of def with req and closes the connection.
func Call[Req, Resp any](ctx context.Context, addr string, def definition.Definition[Req, Resp], req Req, opts ...Option) (Resp, error) {
	o := newOptions(opts)
	conn, err := o.dial(ctx, addr)
	if err != nil {
		var zero Resp
		return zero, err
	}
	defer conn.Close()
	return exchange(ctx, conn, addr, &o, def, req)
}

// CallConn performs a single call on conn. The caller keeps ownership of conn; after an
// error other than *message.RemoteError the connection reports Unusable and must be closed.
func CallConn[Req, Resp any](ctx context.Context, conn *transport.Conn, def definition.Definition[Req, Resp], req Req, opts ...Option) (Resp, error) {
	o := newOptions(opts)
	return exchange(ctx, conn, conn.RemoteAddr().String(), &o, def, req)
}

// exchange encodes req, sends it, waits for the response and decodes it.
func exchange[Req, Resp any](ctx context.Context, conn *transport.Conn, addr string, o *options, def definition.Definition[Req, Resp], req Req) (Resp, error) {
	var zero Resp

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	r, err := def.EncodeRequest(o.codec, req)
	if err != nil {
		return zero, err
	}

	resp, err := conn.RoundTrip(ctx, r)
	if err != nil {
		if conn.Unusable() {
			o.logger.Debug("call failed",
				zap.String("rpc", def.Name()), zap.String("addr", addr), zap.Error(err))
			return zero, &ConnectionError{Addr: addr, Err: err}
		}
		return zero, fmt.Errorf("%s: %w", def, err)
	}

	out, err := def.DecodeResponse(o.codec, resp)
	if err != nil {
		var remote *message.RemoteError
		if !errors.As(err, &remote) {
			// The server's state for this exchange is unknown; never reuse the connection.
			conn.MarkUnusable()
		}
		return zero, err
	}
	return out, nil
}

// Client performs calls over pooled connections. Pools are kept for at most
// MaxAddresses addresses; the least recently used pool is closed when a new address
// would exceed that bound.
type Client struct {
	opts options

	mu       sync.Mutex
	pools    *lru.Cache // addr → *transport.ConnPool
	closed   bool
	evictErr error
}

func New(opts ...Option) (*Client, error) {
	c := &Client{opts: newOptions(opts)}
	pools, err := lru.NewWithEvict(c.opts.maxAddresses, func(key, value interface{}) {
		pool := value.(*transport.ConnPool)
		c.evictErr = multierr.Append(c.evictErr, pool.Close())
		c.opts.logger.Debug("connection pool evicted", zap.String("addr", pool.Addr()))
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	c.pools = pools
	return c, nil
}

// Invoke performs a call of def with req against addr using c's pooled connections.
func Invoke[Req, Resp any](ctx context.Context, c *Client, addr string, def definition.Definition[Req, Resp], req Req) (Resp, error) {
	var zero Resp

	pool, conn, err := c.get(ctx, addr)
	if err != nil {
		return zero, err
	}
	defer pool.Put(conn)

	return exchange(ctx, conn, addr, &c.opts, def, req)
}

// get borrows a connection to addr. A pool closed by eviction while we waited on it is
// replaced by a fresh one; nothing has been sent at that point.
func (c *Client) get(ctx context.Context, addr string) (*transport.ConnPool, *transport.Conn, error) {
	for {
		pool, err := c.pool(addr)
		if err != nil {
			return nil, nil, err
		}
		conn, err := pool.Get(ctx)
		if errors.Is(err, transport.ErrPoolClosed) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return pool, conn, nil
	}
}

func (c *Client) pool(addr string) (*transport.ConnPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if v, ok := c.pools.Get(addr); ok {
		return v.(*transport.ConnPool), nil
	}
	pool := transport.NewConnPool(addr, c.opts.poolSize, c.opts.idleTimeout, func(ctx context.Context) (*transport.Conn, error) {
		return c.opts.dial(ctx, addr)
	})
	c.pools.Add(addr, pool)
	if c.evictErr != nil {
		c.opts.logger.Warn("closing evicted pool", zap.Error(c.evictErr))
		c.evictErr = nil
	}
	return pool, nil
}

// Close closes every pool and its idle connections. Connections borrowed by calls in
// flight are closed when those calls finish.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.pools.Purge()
	err := c.evictErr
	c.evictErr = nil
	return err
}
