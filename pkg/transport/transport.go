// Package transport defines the transport abstraction the client
// correlator, server dispatcher, and gateway consume, plus the built-in
// implementations: framed TCP (client and server), stdio, WebSocket, and
// synchronous HTTP.
//
// Stream transports carry length-prefixed JSON frames (pkg/framing);
// message transports (WebSocket) carry one JSON payload per binary
// message; HTTP is request/response and implements RoundTripper instead
// of the callback pair.
package transport

import (
	"context"
	"fmt"
	"strings"
)

// Protocol identifies a transport implementation on the wire.
type Protocol string

// Supported transport protocols.
const (
	ProtocolTCP       Protocol = "tcp"
	ProtocolStdio     Protocol = "stdio"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolHTTP      Protocol = "http"
)

// MessageCallback handles one received payload. The returned bytes, when
// non-nil, are sent back on the same connection; servers use this to
// return JSON-RPC responses. The payload slice is only valid for the
// duration of the call.
type MessageCallback func(payload []byte) []byte

// ErrorCallback reports a transport-level failure (connection drop, read
// error). The client correlator fans it out to all in-flight requests.
type ErrorCallback func(err error)

// Transport is the contract every asynchronous transport implements.
type Transport interface {
	// Start begins the receive loop, delivering payloads to onMessage and
	// failures to onError. Both callbacks may be invoked from transport
	// goroutines. Start returns once the loop is running.
	Start(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) error

	// Send transmits one payload, framed per the transport's rules.
	Send(payload []byte) error

	// Stop terminates the receive loop and closes the connection.
	Stop(ctx context.Context) error

	// Protocol reports the wire protocol.
	Protocol() Protocol
}

// RoundTripper is implemented by synchronous request/response transports
// (HTTP). The correlator bypasses its pending table for these.
type RoundTripper interface {
	RoundTrip(ctx context.Context, payload []byte) ([]byte, error)
}

// Prober is implemented by transports that can report link liveness.
type Prober interface {
	Connected() bool
}

// Sentinel transport errors.
type transportError string

func (e transportError) Error() string { return string(e) }

const (
	// ErrClosed is returned from Send after Stop.
	ErrClosed = transportError("transport is closed")

	// ErrAlreadyStarted is returned from a second Start.
	ErrAlreadyStarted = transportError("transport already started")

	// ErrNotStarted is returned from Stop before Start.
	ErrNotStarted = transportError("transport not started")
)

// Dial creates a client transport from an address of the form
// tcp://host:port, ws://host:port/path, http://host:port, or
// stdio:/path/to/binary. The gateway uses this to reach backends.
func Dial(ctx context.Context, address string, opts ...Option) (Transport, error) {
	cfg := applyOptions(opts)
	switch {
	case strings.HasPrefix(address, "tcp://"):
		return dialTCP(ctx, strings.TrimPrefix(address, "tcp://"), cfg)
	case strings.HasPrefix(address, "ws://"), strings.HasPrefix(address, "wss://"):
		return dialWebSocket(ctx, address, cfg)
	case strings.HasPrefix(address, "http://"), strings.HasPrefix(address, "https://"):
		return newHTTPClient(address, cfg), nil
	case strings.HasPrefix(address, "stdio:"):
		return dialStdioCommand(ctx, strings.TrimPrefix(address, "stdio:"), cfg)
	default:
		return nil, fmt.Errorf("unsupported transport address %q", address)
	}
}

// Option adjusts transport construction.
type Option func(*options)

type options struct {
	maxPayload uint32
	bufferSize int
	authToken  string
}

func applyOptions(opts []Option) options {
	cfg := options{}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// WithMaxPayload bounds incoming frame payloads. Zero keeps the framing
// default of 16 MiB.
func WithMaxPayload(n uint32) Option {
	return func(o *options) { o.maxPayload = n }
}

// WithBufferSize sets the receive-buffer pool size for stream transports.
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithAuthToken attaches a bearer token to HTTP and WebSocket requests.
func WithAuthToken(token string) Option {
	return func(o *options) { o.authToken = token }
}
