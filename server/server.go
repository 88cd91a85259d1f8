// Package server implements the RPC server: dispatch registry, shared state, connection
// loop, middleware chain and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection, requests served in order)
//	  → protocol.ReadRequest → Middleware Chain → dispatch
//	    → Registry lookup → Entry.Bind (decode) → state.With(handler) → encode → WriteResponse
//
// Connection-level failures (I/O errors, malformed or oversized frames, read timeouts)
// close that connection only. Call-level failures (unknown identifier, undecodable
// request, handler error or panic) are answered with an error response and the
// connection keeps serving.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"typed-rpc/definition"
	"typed-rpc/message"
	"typed-rpc/middleware"
	"typed-rpc/protocol"
	"typed-rpc/state"
)

var (
	ErrNotListening    = errors.New("server is not listening")
	ErrShutdownTimeout = errors.New("timeout waiting for ongoing requests to finish")
)

// Server serves the RPCs registered for state type S.
type Server[S any] struct {
	registry    *Registry[S]
	state       *state.Guarded[S]
	opts        options
	logger      *zap.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))

	listener net.Listener
	shutdown atomic.Bool

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// conn tracks whether a connection is between requests, so Shutdown only closes
// connections that are not in the middle of a call.
type conn struct {
	net.Conn
	id   string
	busy atomic.Bool
}

// New creates a server owning initial as its shared state.
func New[S any](initial S, opts ...Option) *Server[S] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server[S]{
		registry: NewRegistry[S](),
		state:    state.New(initial),
		opts:     o,
		logger:   o.logger,
		conns:    make(map[*conn]struct{}),
	}
}

// Register adds a handler entry. It must be called before Serve.
func (svr *Server[S]) Register(e definition.Entry[S]) error {
	return svr.registry.Register(e)
}

// Use registers a middleware. Middlewares are applied in the order they are added and
// must be registered before Serve.
func (svr *Server[S]) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

func (svr *Server[S]) Registry() *Registry[S] {
	return svr.registry
}

// State exposes the guarded shared state, e.g. for inspection after shutdown.
func (svr *Server[S]) State() *state.Guarded[S] {
	return svr.state
}

// Listen binds the server to address. Serve must be called to accept connections.
func (svr *Server[S]) Listen(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", network, address, err)
	}
	svr.listener = l
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (svr *Server[S]) Addr() net.Addr {
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// ListenAndServe is Listen followed by Serve.
func (svr *Server[S]) ListenAndServe(ctx context.Context, network, address string) error {
	if err := svr.Listen(network, address); err != nil {
		return err
	}
	return svr.Serve(ctx)
}

// Serve runs the accept loop until Shutdown is called or ctx is cancelled, in which
// case it shuts the server down gracefully and returns nil.
func (svr *Server[S]) Serve(ctx context.Context) error {
	if svr.listener == nil {
		return ErrNotListening
	}

	// Build the middleware chain once at startup (not per-request)
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)
	svr.registry.freeze()

	for _, e := range svr.registry.Entries() {
		svr.logger.Debug("rpc registered", zap.Uint32("id", uint32(e.ID())), zap.String("rpc", e.Name()))
	}
	svr.logger.Info("serving",
		zap.Stringer("addr", svr.listener.Addr()),
		zap.Int("rpcs", svr.registry.Len()),
		zap.Stringer("codec", svr.opts.codec.Type()),
		zap.Int("max_frame_size", svr.opts.maxFrameSize))

	g, gctx := errgroup.WithContext(ctx)
	stopped := make(chan struct{})
	g.Go(func() error {
		defer close(stopped)
		return svr.acceptLoop()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-stopped:
		}
		if svr.shutdown.Load() {
			return nil
		}
		return svr.Shutdown(svr.opts.shutdownTimeout)
	})
	return g.Wait()
}

func (svr *Server[S]) acceptLoop() error {
	for {
		nc, err := svr.listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if svr.shutdown.Load() {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		c := &conn{Conn: nc, id: uuid.NewV4().String()}
		svr.track(c)
		go svr.handleConn(c)
	}
}

func (svr *Server[S]) track(c *conn) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.conns[c] = struct{}{}
}

func (svr *Server[S]) untrack(c *conn) {
	svr.mu.Lock()
	delete(svr.conns, c)
	svr.mu.Unlock()
	_ = c.Close()
}

// handleConn serves one connection: read a request, dispatch it, write its response,
// repeat. Responses leave in the order requests arrived.
func (svr *Server[S]) handleConn(c *conn) {
	defer svr.untrack(c)

	log := svr.logger.With(zap.String("conn", c.id), zap.Stringer("remote", c.RemoteAddr()))
	log.Debug("connection opened")

	r := protocol.NewReader(c, svr.opts.maxFrameSize)
	w := protocol.NewWriter(c, svr.opts.maxFrameSize)
	for {
		if svr.opts.readTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(svr.opts.readTimeout))
		}
		req, err := r.ReadRequest()
		if err != nil {
			svr.logReadError(log, err)
			return
		}

		c.busy.Store(true)
		if svr.shutdown.Load() {
			return
		}

		resp := svr.respond(log, w, req)

		if svr.opts.writeTimeout > 0 {
			_ = c.SetWriteDeadline(time.Now().Add(svr.opts.writeTimeout))
		}
		if err := w.WriteResponse(resp); err != nil {
			log.Warn("write response failed", zap.Stringer("id", req.ID), zap.Error(err))
			return
		}
		c.busy.Store(false)

		if svr.shutdown.Load() {
			return
		}
	}
}

func (svr *Server[S]) logReadError(log *zap.Logger, err error) {
	switch {
	case svr.shutdown.Load(), errors.Is(err, protocol.ErrConnectionClosed):
		log.Debug("connection closed", zap.Error(err))
	case errors.Is(err, protocol.ErrTimeout):
		log.Debug("connection idle timeout", zap.Error(err))
	default:
		log.Warn("connection dropped", zap.Error(err))
	}
}

// respond runs the middleware chain and encodes the outcome. Encoding happens here,
// after the state lock has been released.
func (svr *Server[S]) respond(log *zap.Logger, w *protocol.Writer, req *message.Request) *message.Response {
	reply := svr.invoke(log, req)

	if reply.Err == nil {
		payload, err := svr.opts.codec.Encode(reply.Value)
		switch {
		case err != nil:
			log.Error("encode response failed", zap.String("rpc", svr.registry.Name(req.ID)), zap.Error(err))
			reply = middleware.Fail(message.CodeInternal, "encode response: %v", err)
		case !w.Fits(protocol.ResponseHeaderSize, len(payload)):
			reply = middleware.Fail(message.CodeInternal, "response of %d bytes exceeds max frame size", len(payload))
		default:
			return &message.Response{Status: message.StatusOK, Payload: payload}
		}
	}

	payload, err := svr.encodeError(w, reply.Err)
	if err != nil {
		// message.Error is a plain struct; only a broken codec gets here.
		log.Error("encode error response failed", zap.Error(err))
	}
	return &message.Response{Status: message.StatusError, Payload: payload}
}

// encodeError encodes e, cutting its message short until the response fits in a frame.
// The code is always kept.
func (svr *Server[S]) encodeError(w *protocol.Writer, e *message.Error) ([]byte, error) {
	out := *e
	for {
		payload, err := svr.opts.codec.Encode(&out)
		if err != nil || w.Fits(protocol.ResponseHeaderSize, len(payload)) || out.Message == "" {
			return payload, err
		}
		excess := protocol.ResponseHeaderSize + len(payload) - w.MaxFrameSize()
		n := len(out.Message) - excess
		if n >= len(out.Message) {
			n = len(out.Message) - 1
		}
		if n < 0 {
			n = 0
		}
		out.Message = out.Message[:n]
	}
}

func (svr *Server[S]) invoke(log *zap.Logger, req *message.Request) (reply *middleware.Reply) {
	defer func() {
		if x := recover(); x != nil {
			log.Error("middleware panic", zap.Any("panic", x), zap.ByteString("stack", debug.Stack()))
			reply = middleware.Fail(message.CodeInternal, "internal error")
		}
	}()
	reply = svr.handler(context.Background(), req)
	if reply == nil {
		reply = &middleware.Reply{}
	}
	return reply
}

// dispatch is the innermost handler: resolve the identifier, decode the request, run
// the handler under the state lock.
func (svr *Server[S]) dispatch(ctx context.Context, req *message.Request) (reply *middleware.Reply) {
	e, ok := svr.registry.lookup(req.ID)
	if !ok {
		return middleware.Fail(message.CodeUnknownRPC, "rpc not found: %s", req.ID)
	}
	e.calls.Add(1)

	call, err := e.Bind(svr.opts.codec, req.Payload)
	if err != nil {
		e.failures.Add(1)
		return middleware.Fail(message.CodeDecode, "%s: %v", e.Name(), err)
	}

	defer func() {
		if x := recover(); x != nil {
			e.failures.Add(1)
			svr.logger.Error("handler panic",
				zap.String("rpc", e.Name()),
				zap.Any("panic", x),
				zap.ByteString("stack", debug.Stack()))
			reply = middleware.Fail(message.CodeInternal, "%s: handler panicked", e.Name())
		}
	}()

	var value any
	err = svr.state.With(func(s *S) error {
		var herr error
		value, herr = call(s)
		return herr
	})
	if err != nil {
		e.failures.Add(1)
		return &middleware.Reply{Err: &message.Error{Code: message.CodeApplication, Message: err.Error()}}
	}
	return &middleware.Reply{Value: value}
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so Accept error is recognized as intentional)
//  2. Close the listener (stop accepting new connections)
//  3. Close connections as soon as they are between requests, until none remain or
//     timeout elapses; whatever is left is then closed forcibly.
func (svr *Server[S]) Shutdown(timeout time.Duration) error {
	svr.shutdown.Store(true)

	var err error
	if svr.listener != nil {
		if cerr := svr.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)
	for {
		if svr.closeIdle() == 0 {
			svr.logger.Info("shutdown complete")
			return err
		}
		if time.Now().After(deadline) {
			svr.closeAll()
			return multierr.Append(err, ErrShutdownTimeout)
		}
		<-ticker.C
	}
}

// closeIdle closes connections waiting for a request and returns how many
// connections are still tracked.
func (svr *Server[S]) closeIdle() int {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	for c := range svr.conns {
		if !c.busy.Load() {
			_ = c.Close()
		}
	}
	return len(svr.conns)
}

func (svr *Server[S]) closeAll() {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	for c := range svr.conns {
		_ = c.Close()
	}
}
