package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Sentinel errors for message handling. Wire-facing failures additionally
// carry an ErrorCode when they become error responses.
type sentinel string

func (e sentinel) Error() string { return string(e) }

const (
	// ErrMalformed is returned when bytes are not valid JSON or not a
	// well-formed JSON-RPC envelope.
	ErrMalformed = sentinel("malformed JSON-RPC message")

	// ErrBadVersion is returned when the jsonrpc member is not "2.0".
	ErrBadVersion = sentinel("unsupported JSON-RPC version")
)

// FormatRequest serializes a request envelope. A nil params value is
// omitted from the payload.
func FormatRequest(id uint64, method string, params json.RawMessage) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: empty method", ErrMalformed)
	}
	return json.Marshal(&Request{
		JSONRPC: Version,
		ID:      &id,
		Method:  method,
		Params:  params,
	})
}

// FormatNotification serializes a notification: a request with no ID.
func FormatNotification(method string, params json.RawMessage) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: empty method", ErrMalformed)
	}
	return json.Marshal(&Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	})
}

// FormatResponse serializes a success response.
func FormatResponse(id uint64, result json.RawMessage) ([]byte, error) {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(&Response{
		JSONRPC: Version,
		ID:      id,
		Result:  result,
	})
}

// FormatErrorResponse serializes an error response.
func FormatErrorResponse(id uint64, code ErrorCode, message string) ([]byte, error) {
	return json.Marshal(&Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	})
}

// ParseRequest decodes and validates a request or notification envelope.
// Parse failures map to ErrParse, structural failures to ErrInvalidRequest;
// the caller chooses the wire disposition.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.JSONRPC != Version {
		return nil, fmt.Errorf("%w: %q", ErrBadVersion, req.JSONRPC)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrMalformed)
	}
	return &req, nil
}

// ParseResponse decodes a response envelope into the correlation tuple the
// client consumes: ID, error code, error message, and the raw result bytes.
// Result bytes are preserved verbatim so the gateway can forward responses
// without re-encoding.
func ParseResponse(data []byte) (id uint64, code ErrorCode, message string, result json.RawMessage, err error) {
	var resp Response
	if uerr := json.Unmarshal(data, &resp); uerr != nil {
		return 0, ErrNone, "", nil, fmt.Errorf("%w: %v", ErrMalformed, uerr)
	}
	if resp.JSONRPC != Version {
		return 0, ErrNone, "", nil, fmt.Errorf("%w: %q", ErrBadVersion, resp.JSONRPC)
	}
	if resp.Error != nil {
		return resp.ID, resp.Error.Code, resp.Error.Message, nil, nil
	}
	return resp.ID, ErrNone, "", resp.Result, nil
}
