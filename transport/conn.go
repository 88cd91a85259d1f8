// Package transport implements the client side of a connection.
//
// A Conn carries at most one call at a time: it writes one request frame, then reads
// exactly one response frame. Any failure in between (I/O error, cancellation, a
// response that cannot be trusted) marks the Conn unusable, and it is never reused.
//
//	caller ──RoundTrip(req)──→ [write frame] ──→ server
//	caller ←──── resp ──────── [read frame]  ←── server
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"typed-rpc/message"
	"typed-rpc/protocol"
)

var ErrUnusable = errors.New("connection is unusable")

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O on cancellation.
var aLongTimeAgo = time.Unix(1, 0)

// Conn is an exclusive client connection.
type Conn struct {
	conn     net.Conn
	r        *protocol.Reader
	w        *protocol.Writer
	calling  sync.Mutex // one call in flight per connection
	unusable atomic.Bool
	lastUsed atomic.Int64 // unix nanos
}

// NewConn wraps an established connection. maxFrameSize bounds response frames.
func NewConn(nc net.Conn, maxFrameSize int) *Conn {
	c := &Conn{
		conn: nc,
		r:    protocol.NewReader(nc, maxFrameSize),
		w:    protocol.NewWriter(nc, maxFrameSize),
	}
	c.touch()
	return c
}

// Dial opens a connection to address over network ("tcp" if empty).
func Dial(ctx context.Context, network, address string, dialTimeout time.Duration, maxFrameSize int) (*Conn, error) {
	if network == "" {
		network = "tcp"
	}
	d := net.Dialer{Timeout: dialTimeout}
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, maxFrameSize), nil
}

// RoundTrip writes req and waits for its response. The wait is bounded by ctx: its
// deadline becomes the connection deadline, and cancelling it aborts pending I/O.
// If RoundTrip fails after any byte may have been written, the Conn becomes unusable.
func (c *Conn) RoundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	c.calling.Lock()
	defer c.calling.Unlock()
	defer c.touch()

	if c.unusable.Load() {
		return nil, ErrUnusable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline() // zero clears a previous call's deadline
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.MarkUnusable()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(aLongTimeAgo)
	})

	resp, err := c.exchange(req)
	if !stop() {
		// Cancellation fired and may have left a past deadline on the connection.
		c.MarkUnusable()
	}
	if err != nil {
		return nil, withContext(ctx, err)
	}
	return resp, nil
}

func (c *Conn) exchange(req *message.Request) (*message.Response, error) {
	if err := c.w.WriteRequest(req); err != nil {
		// An oversized frame is refused before anything is written.
		if !errors.Is(err, protocol.ErrFrameTooLarge) {
			c.MarkUnusable()
		}
		return nil, err
	}

	resp, err := c.r.ReadResponse()
	if err != nil {
		c.MarkUnusable()
		return nil, err
	}
	return resp, nil
}

func withContext(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}

// MarkUnusable poisons the connection; it will be closed instead of reused.
func (c *Conn) MarkUnusable() {
	c.unusable.Store(true)
}

func (c *Conn) Unusable() bool {
	return c.unusable.Load()
}

func (c *Conn) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastUsed.Load()))
}

func (c *Conn) touch() {
	c.lastUsed.Store(time.Now().UnixNano())
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) Close() error {
	c.MarkUnusable()
	return c.conn.Close()
}
