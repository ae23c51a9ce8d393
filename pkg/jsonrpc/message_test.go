package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRequest_Shape(t *testing.T) {
	t.Parallel()
	data, err := FormatRequest(1, "list_tools", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"list_tools"}`, string(data))
}

func TestFormatRequest_WithParams(t *testing.T) {
	t.Parallel()
	data, err := FormatRequest(7, "read_resource", json.RawMessage(`{"uri":"example://a"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"method":"read_resource","params":{"uri":"example://a"}}`, string(data))
}

func TestFormatNotification_NoID(t *testing.T) {
	t.Parallel()
	data, err := FormatNotification("progress", json.RawMessage(`{"pct":50}`))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	_, hasID := m["id"]
	assert.False(t, hasID, "notification must not carry an id")
}

func TestParseResponse_RoundTrip(t *testing.T) {
	t.Parallel()

	// Success path.
	data, err := FormatResponse(42, json.RawMessage(`{"tools":[]}`))
	require.NoError(t, err)

	id, code, msg, result, err := ParseResponse(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, ErrNone, code)
	assert.Empty(t, msg)
	assert.JSONEq(t, `{"tools":[]}`, string(result))

	// Error path.
	data, err = FormatErrorResponse(42, ErrMethodNotFound, "unknown method")
	require.NoError(t, err)

	id, code, msg, result, err = ParseResponse(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, ErrMethodNotFound, code)
	assert.Equal(t, "unknown method", msg)
	assert.Nil(t, result)
}

func TestParseResponse_Malformed(t *testing.T) {
	t.Parallel()
	_, _, _, _, err := ParseResponse([]byte(`{"jsonrpc":"2.0",`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseResponse_BadVersion(t *testing.T) {
	t.Parallel()
	_, _, _, _, err := ParseResponse([]byte(`{"jsonrpc":"1.0","id":1,"result":null}`))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestParseRequest_Validation(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":3,"method":"call_tool","params":{"name":"echo"}}`))
	require.NoError(t, err)
	require.NotNil(t, req.ID)
	assert.Equal(t, uint64(3), *req.ID)
	assert.Equal(t, "call_tool", req.Method)
	assert.False(t, req.IsNotification())

	_, err = ParseRequest([]byte(`{"jsonrpc":"2.0","id":3}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseRequest([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	note, err := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"progress"}`))
	require.NoError(t, err)
	assert.True(t, note.IsNotification())
}

func TestErrorCode_Names(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "parse_error", ErrParse.String())
	assert.Equal(t, "transport_error", ErrTransport.String())
	assert.Equal(t, "server_error", ErrorCode(-32050).String())
	assert.True(t, ErrToolNotFound.IsServerError())
	assert.False(t, ErrTransport.IsServerError())
}
