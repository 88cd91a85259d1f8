// Package transport also provides ConnPool, a bounded pool of exclusive connections to
// a single address.
//
// Pool design: idle connections sit in a buffered channel (FIFO, goroutine-safe), and a
// second buffered channel of capacity maxConns acts as a semaphore counting live
// connections. Get prefers an idle connection, dials a new one while under the limit,
// and otherwise blocks until a connection is returned or ctx ends.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
)

var ErrPoolClosed = errors.New("connection pool closed")

// ConnPool manages reusable connections to one address.
type ConnPool struct {
	mu          sync.Mutex
	idle        chan *Conn    // idle connections
	slots       chan struct{} // one token per live connection
	done        chan struct{}
	closed      bool
	addr        string
	idleTimeout time.Duration
	factory     func(ctx context.Context) (*Conn, error)
}

// NewConnPool creates a pool of at most maxConns connections. Connections are created
// lazily by factory. Idle connections older than idleTimeout are discarded on Get;
// zero keeps them forever.
func NewConnPool(addr string, maxConns int, idleTimeout time.Duration, factory func(ctx context.Context) (*Conn, error)) *ConnPool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &ConnPool{
		idle:        make(chan *Conn, maxConns),
		slots:       make(chan struct{}, maxConns),
		done:        make(chan struct{}),
		addr:        addr,
		idleTimeout: idleTimeout,
		factory:     factory,
	}
}

func (p *ConnPool) Addr() string {
	return p.addr
}

// Get returns an idle connection, a freshly dialed one, or blocks until one of those
// is possible.
func (p *ConnPool) Get(ctx context.Context) (*Conn, error) {
	for {
		select {
		case <-p.done:
			return nil, ErrPoolClosed
		case c := <-p.idle:
			if p.stale(c) {
				p.discard(c)
				continue
			}
			return c, nil
		default:
		}

		select {
		case <-p.done:
			return nil, ErrPoolClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case c := <-p.idle:
			if p.stale(c) {
				p.discard(c)
				continue
			}
			return c, nil
		case p.slots <- struct{}{}:
			c, err := p.factory(ctx)
			if err != nil {
				<-p.slots
				return nil, err
			}
			return c, nil
		}
	}
}

// Put returns a connection to the pool. Unusable connections, and any connection
// returned after Close, are closed and discarded.
func (p *ConnPool) Put(c *Conn) {
	if c.Unusable() {
		p.discard(c)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.discard(c)
		return
	}
	select {
	case p.idle <- c:
	default:
		p.discard(c)
	}
}

// Close shuts down the pool and closes all idle connections. Connections currently
// borrowed are closed when they are Put back.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	var err error
	for {
		select {
		case c := <-p.idle:
			err = multierr.Append(err, c.Close())
			<-p.slots
		default:
			return err
		}
	}
}

func (p *ConnPool) stale(c *Conn) bool {
	if c.Unusable() {
		return true
	}
	return p.idleTimeout > 0 && c.idleFor(time.Now()) > p.idleTimeout
}

func (p *ConnPool) discard(c *Conn) {
	_ = c.Close()
	<-p.slots
}
