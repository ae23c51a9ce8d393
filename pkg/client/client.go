// Package client implements the MCP client: a request/response
// correlator over an asynchronous transport, plus typed wrappers for
// the built-in protocol methods.
//
// Every request gets a fresh uint64 ID and a pending-table entry; the
// transport receive callback matches responses to entries and wakes the
// waiting caller. Synchronous transports (HTTP) bypass the table and
// round-trip inline.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpwire/mcpd/pkg/jsonrpc"
	"github.com/mcpwire/mcpd/pkg/mcp"
	"github.com/mcpwire/mcpd/pkg/transport"
)

// DefaultRequestTimeout bounds SendAndWait when the config leaves the
// timeout zero.
const DefaultRequestTimeout = 30 * time.Second

// Config configures a client.
type Config struct {
	// Address is the server address (tcp://, ws://, http://, stdio:).
	Address string

	// RequestTimeout bounds each request. Zero uses the default;
	// negative waits forever.
	RequestTimeout time.Duration

	// AuthToken, when set, is attached as a bearer token on HTTP and
	// WebSocket transports.
	AuthToken string

	// MaxPayload bounds incoming frames. Zero keeps the framing default.
	MaxPayload uint32

	Logger *slog.Logger
}

// Client is an MCP client over one transport connection.
type Client struct {
	tr      transport.Transport
	rt      transport.RoundTripper // non-nil on synchronous transports
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	table  *pendingTable
	nextID uint64
	closed bool
}

// Connect dials the configured address and starts the receive loop. On
// stream transports it sends the ID-0 liveness probe, whose reply the
// receive callback discards.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	tr, err := transport.Dial(ctx, cfg.Address,
		transport.WithMaxPayload(cfg.MaxPayload),
		transport.WithAuthToken(cfg.AuthToken))
	if err != nil {
		return nil, err
	}
	c, err := NewWithTransport(ctx, tr, cfg)
	if err != nil {
		tr.Stop(ctx)
		return nil, err
	}
	return c, nil
}

// NewWithTransport builds a client over an existing transport and
// starts its receive loop.
func NewWithTransport(ctx context.Context, tr transport.Transport, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Client{
		tr:      tr,
		logger:  logger,
		timeout: timeout,
		table:   newPendingTable(),
		nextID:  1,
	}
	if rt, ok := tr.(transport.RoundTripper); ok {
		c.rt = rt
	}

	if err := tr.Start(ctx, c.onMessage, c.onTransportError); err != nil {
		return nil, err
	}

	if c.rt == nil {
		if err := c.sendProbe(); err != nil {
			logger.Warn("liveness probe failed", "error", err)
		}
	}
	return c, nil
}

// sendProbe sends the reserved-ID ping whose reply is discarded.
func (c *Client) sendProbe() error {
	payload, err := jsonrpc.FormatRequest(0, mcp.MethodPing, nil)
	if err != nil {
		return err
	}
	return c.tr.Send(payload)
}

// SendAndWait submits one request and blocks until the response
// arrives, the timeout elapses, or the transport fails. The returned
// error is a *jsonrpc.Error when the failure has a wire representation.
func (c *Client) SendAndWait(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if c.rt != nil {
		return c.roundTrip(ctx, method, params)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrTransport, Message: "client is closed"}
	}
	id := c.nextID
	c.nextID++

	payload, err := jsonrpc.FormatRequest(id, method, params)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	req := &pendingRequest{
		id:     id,
		status: statusWaiting,
		done:   make(chan struct{}),
	}
	if err := c.table.insert(req); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	if err := c.tr.Send(payload); err != nil {
		c.mu.Lock()
		c.table.remove(id)
		c.mu.Unlock()
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrTransport, Message: fmt.Sprintf("send failed: %v", err)}
	}

	return c.wait(ctx, req)
}

// wait blocks on the entry until signal, timeout, or context
// cancellation, then settles the outcome and removes the entry.
func (c *Client) wait(ctx context.Context, req *pendingRequest) (json.RawMessage, error) {
	var timer *time.Timer
	var timeoutC <-chan time.Time
	if c.timeout > 0 {
		timer = time.NewTimer(c.timeout)
		timeoutC = timer.C
		defer timer.Stop()
	}

	select {
	case <-req.done:
	case <-timeoutC:
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer func() {
		c.table.remove(req.id)
		c.mu.Unlock()
	}()

	// A signal racing the timer settles in the signal's favor: status is
	// only Waiting here when nobody filled the entry.
	if req.status == statusWaiting {
		req.status = statusTimeout
	}

	switch req.status {
	case statusCompleted:
		return req.result, nil
	case statusError:
		return nil, &jsonrpc.Error{Code: req.errCode, Message: req.errMsg}
	case statusTimeout:
		if err := ctx.Err(); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrTransport, Message: fmt.Sprintf("request canceled: %v", err)}
		}
		c.logger.Warn("request timed out", "id", req.id)
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrTransport, Message: "Request timed out"}
	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrInternal, Message: fmt.Sprintf("unexpected request status %s", req.status)}
	}
}

// roundTrip is the synchronous path: no pending entry, the response
// arrives inline and its ID must match.
func (c *Client) roundTrip(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrTransport, Message: "client is closed"}
	}
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	payload, err := jsonrpc.FormatRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	reply, err := c.rt.RoundTrip(ctx, payload)
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrTransport, Message: fmt.Sprintf("round trip failed: %v", err)}
	}
	respID, code, message, result, err := jsonrpc.ParseResponse(reply)
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrParse, Message: err.Error()}
	}
	if respID != id {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrInternal, Message: fmt.Sprintf("response id %d does not match request id %d", respID, id)}
	}
	if code != jsonrpc.ErrNone {
		return nil, &jsonrpc.Error{Code: code, Message: message}
	}
	return result, nil
}

// onMessage is the transport receive callback. It never produces a
// reply frame.
func (c *Client) onMessage(payload []byte) []byte {
	id, code, message, result, err := jsonrpc.ParseResponse(payload)
	if err != nil {
		c.logger.Error("dropping unparseable response", "error", err)
		return nil
	}
	if id == 0 {
		c.logger.Debug("discarding liveness probe reply")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req := c.table.lookup(id)
	if req == nil || req.status != statusWaiting {
		c.logger.Warn("dropping late or unmatched response", "id", id)
		return nil
	}
	if code != jsonrpc.ErrNone {
		req.status = statusError
		req.errCode = code
		req.errMsg = message
	} else {
		req.status = statusCompleted
		// The transport reuses the payload buffer after this callback.
		req.result = make([]byte, len(result))
		copy(req.result, result)
	}
	close(req.done)
	return nil
}

// onTransportError fans a connection failure out to every waiting
// entry. Entries are removed by their waiters.
func (c *Client) onTransportError(err error) {
	c.logger.Error("transport failure", "error", err)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.table.forEach(func(req *pendingRequest) {
		if req.status != statusWaiting {
			return
		}
		req.status = statusError
		req.errCode = jsonrpc.ErrTransport
		if req.errMsg == "" {
			req.errMsg = "Transport connection error"
		}
		close(req.done)
	})
}

// IsConnected reports link liveness. Transports that can probe the link
// are asked; others are assumed connected while the handle exists.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	if p, ok := c.tr.(transport.Prober); ok {
		return p.Connected()
	}
	return c.tr != nil
}

// PendingCount reports in-flight requests.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.size()
}

// Close stops the transport and fails every in-flight request with a
// transport error.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.tr.Stop(ctx)
	c.onTransportError(fmt.Errorf("client closed"))
	return err
}
