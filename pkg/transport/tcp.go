package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpwire/mcpd/pkg/bufpool"
	"github.com/mcpwire/mcpd/pkg/framing"
	"github.com/mcpwire/mcpd/pkg/jsonrpc"
)

// tcpConn is a framed stream transport over one net.Conn. It serves as
// the client side of tcp:// and as the per-connection handler inside
// TCPServer.
type tcpConn struct {
	conn       net.Conn
	pool       *bufpool.Pool
	maxPayload uint32

	writeMu sync.Mutex
	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

func dialTCP(ctx context.Context, hostport string, cfg options) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", hostport, err)
	}
	return newTCPConn(conn, cfg), nil
}

func newTCPConn(conn net.Conn, cfg options) *tcpConn {
	return &tcpConn{
		conn:       conn,
		pool:       bufpool.New(cfg.bufferSize),
		maxPayload: cfg.maxPayload,
		done:       make(chan struct{}),
	}
}

func (t *tcpConn) Protocol() Protocol { return ProtocolTCP }

func (t *tcpConn) Start(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go t.receiveLoop(ctx, onMessage, onError)
	return nil
}

// receiveLoop reads frames until the connection fails or is stopped.
// The receive buffer is borrowed from the pool and returned on exit;
// buffers grown past the pool size are dropped there.
func (t *tcpConn) receiveLoop(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) {
	defer close(t.done)

	buf := t.pool.Get()
	defer t.pool.Put(buf)

	for {
		payload, grown, err := framing.ReadFrameInto(t.conn, buf, t.maxPayload)
		buf = grown
		if err != nil {
			if t.closed.Load() || ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(fmt.Errorf("tcp receive: %w", err))
			}
			return
		}
		if reply := onMessage(payload); reply != nil {
			if err := t.Send(reply); err != nil && onError != nil {
				onError(err)
				return
			}
		}
	}
}

func (t *tcpConn) Send(payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return framing.WriteFrame(t.conn, payload)
}

func (t *tcpConn) Stop(ctx context.Context) error {
	if !t.started.Load() {
		t.closed.Store(true)
		return t.conn.Close()
	}
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Connected reports whether the connection is still usable.
func (t *tcpConn) Connected() bool { return !t.closed.Load() }

// TCPServer accepts framed connections and runs one receive loop per
// connection. The message callback's return value is the reply frame.
type TCPServer struct {
	addr       string
	cfg        options
	listener   net.Listener
	pool       *bufpool.Pool
	maxPayload uint32

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewTCPServer creates a server transport listening on addr
// ("host:port") once started.
func NewTCPServer(addr string, opts ...Option) *TCPServer {
	cfg := applyOptions(opts)
	return &TCPServer{
		addr:       addr,
		cfg:        cfg,
		pool:       bufpool.New(cfg.bufferSize),
		maxPayload: cfg.maxPayload,
		conns:      make(map[net.Conn]struct{}),
	}
}

func (s *TCPServer) Protocol() Protocol { return ProtocolTCP }

// Addr returns the bound listen address, valid after Start. Useful when
// listening on port 0.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener and begins accepting connections.
func (s *TCPServer) Start(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, onMessage, onError)
	return nil
}

func (s *TCPServer) acceptLoop(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(fmt.Errorf("tcp accept: %w", err))
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(ctx, conn, onMessage)
	}
}

// serveConn runs the per-connection receive loop. Read errors end the
// connection without surfacing to the server error callback; a dropped
// client is routine. An oversized frame is answered with a parse error
// first, since the peer is still listening and would otherwise see a
// bare close.
func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn, onMessage MessageCallback) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	buf := s.pool.Get()
	defer s.pool.Put(buf)

	var writeMu sync.Mutex
	for {
		payload, grown, err := framing.ReadFrameInto(conn, buf, s.maxPayload)
		buf = grown
		if err != nil {
			if errors.Is(err, framing.ErrPayloadTooLarge) {
				// The stream is desynced past the header, so the
				// connection still has to close after the reply.
				if reply, ferr := jsonrpc.FormatErrorResponse(0, jsonrpc.ErrParse, "Parse error"); ferr == nil {
					writeMu.Lock()
					_ = framing.WriteFrame(conn, reply)
					writeMu.Unlock()
				}
				// Drain the unread payload so the close sends a FIN;
				// a reset could outrun the reply.
				conn.SetReadDeadline(time.Now().Add(time.Second))
				io.Copy(io.Discard, conn)
			}
			return
		}
		reply := onMessage(payload)
		if reply == nil {
			continue
		}
		writeMu.Lock()
		err = framing.WriteFrame(conn, reply)
		writeMu.Unlock()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Send is not supported on the listening side; replies travel back on the
// connection that delivered the request.
func (s *TCPServer) Send([]byte) error {
	return errors.New("tcp server transport cannot send unsolicited messages")
}

// Stop closes the listener and every live connection, then waits for the
// per-connection loops to drain.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	err := ln.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
