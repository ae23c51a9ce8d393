// Package jsonrpc implements the JSON-RPC 2.0 message model used on every
// mcpd wire: request, response, and notification envelopes, the canonical
// error-code domain, and the formatter/parser pair the client correlator,
// server dispatcher, and gateway all share.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version mcpd speaks.
const Version = "2.0"

// ErrorCode is the JSON-RPC error-code domain. Values cross the wire and
// must keep their canonical numbering.
type ErrorCode int

// Canonical JSON-RPC error codes plus the mcpd extensions.
const (
	ErrNone           ErrorCode = 0
	ErrParse          ErrorCode = -32700
	ErrInvalidRequest ErrorCode = -32600
	ErrMethodNotFound ErrorCode = -32601
	ErrInvalidParams  ErrorCode = -32602
	ErrInternal       ErrorCode = -32603

	// ErrTransport reports send failures, dropped connections, and
	// timeouts to in-flight requests.
	ErrTransport ErrorCode = -32100

	// Server-defined range. Tool and resource lookup failures map here.
	ErrServerStart      ErrorCode = -32000
	ErrToolNotFound     ErrorCode = -32000
	ErrResourceNotFound ErrorCode = -32001
	ErrServerEnd        ErrorCode = -32099
)

// String returns a short name for the code, for logs.
func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "none"
	case ErrParse:
		return "parse_error"
	case ErrInvalidRequest:
		return "invalid_request"
	case ErrMethodNotFound:
		return "method_not_found"
	case ErrInvalidParams:
		return "invalid_params"
	case ErrInternal:
		return "internal_error"
	case ErrTransport:
		return "transport_error"
	case ErrToolNotFound:
		return "tool_not_found"
	case ErrResourceNotFound:
		return "resource_not_found"
	default:
		if c.IsServerError() {
			return "server_error"
		}
		return "unknown"
	}
}

// IsServerError reports whether the code falls in the server-defined
// range -32000..-32099.
func (c ErrorCode) IsServerError() bool {
	return c <= ErrServerStart && c >= ErrServerEnd
}

// Request is a JSON-RPC request or notification envelope. A nil ID marks a
// notification; ID 0 is reserved for the connection liveness probe whose
// reply is discarded by the correlator.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no ID.
func (r *Request) IsNotification() bool { return r.ID == nil }

// Error is the error member of a response envelope. It implements error
// so call sites can return it directly.
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d: %s)", e.Message, e.Code, e.Code.String())
}

// Response is a JSON-RPC response envelope. Exactly one of Result and
// Error is set on a well-formed response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}
