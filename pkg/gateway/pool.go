package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpwire/mcpd/pkg/transport"
)

// pooledConn is one backend connection. Checkouts are exclusive, so the
// next response frame on the connection belongs to the request just
// written; correlation is by connection, not by ID.
type pooledConn struct {
	tr      transport.Transport
	rt      transport.RoundTripper // non-nil on synchronous transports
	replies chan []byte

	// broken is set on the checkout goroutine by timeouts and send
	// failures, and on the transport's callback goroutine by receive
	// errors; put reads it when the connection comes back.
	broken atomic.Bool
}

// roundTrip writes one request and waits for its response.
func (c *pooledConn) roundTrip(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	if c.rt != nil {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		reply, err := c.rt.RoundTrip(ctx, payload)
		if err != nil {
			c.broken.Store(true)
		}
		return reply, err
	}

	if err := c.tr.Send(payload); err != nil {
		c.broken.Store(true)
		return nil, err
	}
	select {
	case reply, ok := <-c.replies:
		if !ok {
			c.broken.Store(true)
			return nil, fmt.Errorf("backend connection closed")
		}
		return reply, nil
	case <-time.After(timeout):
		// The eventual response would correlate to the wrong request.
		c.broken.Store(true)
		return nil, fmt.Errorf("backend timed out after %s", timeout)
	case <-ctx.Done():
		c.broken.Store(true)
		return nil, ctx.Err()
	}
}

// backendPool keeps idle connections to one backend address.
type backendPool struct {
	address string
	maxIdle int

	mu     sync.Mutex
	idle   []*pooledConn
	closed bool
}

func newBackendPool(address string) *backendPool {
	return &backendPool{address: address, maxIdle: 4}
}

// get pops an idle connection or dials a new one.
func (p *backendPool) get(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool for %s is closed", p.address)
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	tr, err := transport.Dial(ctx, p.address)
	if err != nil {
		return nil, err
	}
	conn := &pooledConn{tr: tr}
	if rt, ok := tr.(transport.RoundTripper); ok {
		conn.rt = rt
		return conn, nil
	}

	conn.replies = make(chan []byte, 1)
	err = tr.Start(ctx, func(payload []byte) []byte {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		select {
		case conn.replies <- cp:
		default:
			// No checkout is waiting; an unsolicited frame has nowhere
			// to go.
		}
		return nil
	}, func(err error) {
		conn.broken.Store(true)
	})
	if err != nil {
		tr.Stop(ctx)
		return nil, err
	}
	return conn, nil
}

// put returns a healthy connection to the pool and discards broken or
// surplus ones.
func (p *backendPool) put(conn *pooledConn) {
	p.mu.Lock()
	if conn.broken.Load() || p.closed || len(p.idle) >= p.maxIdle {
		p.mu.Unlock()
		conn.tr.Stop(context.Background())
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// close stops every idle connection.
func (p *backendPool) close(ctx context.Context) {
	p.mu.Lock()
	conns := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, conn := range conns {
		conn.tr.Stop(ctx)
	}
}
