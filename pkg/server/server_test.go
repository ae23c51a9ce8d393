package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwire/mcpd/pkg/client"
	"github.com/mcpwire/mcpd/pkg/jsonrpc"
	"github.com/mcpwire/mcpd/pkg/mcp"
	"github.com/mcpwire/mcpd/pkg/ratelimit"
	"github.com/mcpwire/mcpd/pkg/transport"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s := New(cfg)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

// call dispatches one request and decodes the response envelope.
func call(t *testing.T, s *Server, id uint64, method string, params any) (json.RawMessage, *jsonrpc.Error) {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	payload, err := jsonrpc.FormatRequest(id, method, raw)
	require.NoError(t, err)

	respBytes := s.HandleMessage(payload)
	require.NotNil(t, respBytes)

	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	assert.Equal(t, id, resp.ID)
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func TestServer_ListResources(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Resources: true}})
	require.NoError(t, s.RegisterResource(
		mcp.Resource{URI: "file:///a.txt", Name: "a", MimeType: "text/plain"}, 0,
		func(ctx context.Context, uri string, params map[string]string) ([]mcp.ContentItem, error) {
			return []mcp.ContentItem{mcp.TextItem("text/plain", "A")}, nil
		}))

	raw, rpcErr := call(t, s, 1, mcp.MethodListResources, nil)
	require.Nil(t, rpcErr)

	var result mcp.ListResourcesResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Resources, 1)
	assert.Equal(t, "file:///a.txt", result.Resources[0].URI)
}

func TestServer_CapabilityGating(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Resources: false, Tools: true}})

	_, rpcErr := call(t, s, 1, mcp.MethodListResources, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.ErrMethodNotFound, rpcErr.Code)

	raw, rpcErr := call(t, s, 2, mcp.MethodListTools, nil)
	require.Nil(t, rpcErr)
	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Empty(t, result.Tools)
}

func TestServer_UnknownMethod(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{})
	_, rpcErr := call(t, s, 1, "frobnicate", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.ErrMethodNotFound, rpcErr.Code)
}

func TestServer_ParseErrorResponse(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{})
	resp := s.HandleMessage([]byte("{not json"))
	require.NotNil(t, resp)

	var envelope jsonrpc.Response
	require.NoError(t, json.Unmarshal(resp, &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, jsonrpc.ErrParse, envelope.Error.Code)
}

func TestServer_NotificationGetsNoResponse(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{})
	payload, err := jsonrpc.FormatNotification("ping", nil)
	require.NoError(t, err)
	assert.Nil(t, s.HandleMessage(payload))
}

func TestServer_ReadResource(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Resources: true}})
	require.NoError(t, s.RegisterResource(
		mcp.Resource{URI: "file:///doc.txt", MimeType: "text/plain"}, 0,
		func(ctx context.Context, uri string, params map[string]string) ([]mcp.ContentItem, error) {
			return []mcp.ContentItem{mcp.TextItem("text/plain", "content of "+uri)}, nil
		}))

	raw, rpcErr := call(t, s, 1, mcp.MethodReadResource, mcp.ReadResourceParams{URI: "file:///doc.txt"})
	require.Nil(t, rpcErr)

	var result mcp.ReadResourceResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "file:///doc.txt", result.Contents[0].URI)
	assert.Equal(t, "content of file:///doc.txt", result.Contents[0].Text)
}

func TestServer_ReadResourceNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Resources: true}})
	_, rpcErr := call(t, s, 1, mcp.MethodReadResource, mcp.ReadResourceParams{URI: "file:///missing"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.ErrResourceNotFound, rpcErr.Code)
}

func TestServer_ReadResourceMissingURI(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Resources: true}})
	_, rpcErr := call(t, s, 1, mcp.MethodReadResource, map[string]string{})
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.ErrInvalidParams, rpcErr.Code)
}

func TestServer_ReadResourceTemplateFallback(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Resources: true}})
	require.NoError(t, s.RegisterResourceTemplate(
		mcp.ResourceTemplate{URITemplate: "db://users/{id}", MimeType: "application/json"},
		func(ctx context.Context, uri string, params map[string]string) ([]mcp.ContentItem, error) {
			return []mcp.ContentItem{mcp.JSONItem([]byte(fmt.Sprintf(`{"id":%q}`, params["id"])))}, nil
		}))

	raw, rpcErr := call(t, s, 1, mcp.MethodReadResource, mcp.ReadResourceParams{URI: "db://users/42"})
	require.Nil(t, rpcErr)

	var result mcp.ReadResourceResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Contents, 1)
	assert.JSONEq(t, `{"id":"42"}`, result.Contents[0].Text)
}

func TestServer_ReadResourceSingleFlight(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Resources: true}})

	var fills atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.RegisterResource(
		mcp.Resource{URI: "file:///slow"}, 0,
		func(ctx context.Context, uri string, params map[string]string) ([]mcp.ContentItem, error) {
			fills.Add(1)
			<-release
			return []mcp.ContentItem{mcp.TextItem("text/plain", "slow")}, nil
		}))

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			raw, rpcErr := call(t, s, id, mcp.MethodReadResource, mcp.ReadResourceParams{URI: "file:///slow"})
			if rpcErr != nil {
				t.Errorf("caller %d: %v", id, rpcErr)
				return
			}
			var result mcp.ReadResourceResult
			if err := json.Unmarshal(raw, &result); err != nil {
				t.Errorf("caller %d: %v", id, err)
			}
		}(uint64(i + 1))
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fills.Load(), "handler must run once for concurrent readers")
}

func TestServer_CallTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Tools: true}})
	require.NoError(t, s.RegisterTool(
		mcp.Tool{
			Name:        "add",
			Description: "Adds two integers.",
			Params: []mcp.ToolParam{
				{Name: "a", Type: "number", Required: true},
				{Name: "b", Type: "number", Required: true},
			},
		},
		func(ctx context.Context, name string, arguments json.RawMessage) ([]mcp.ContentItem, bool, error) {
			var args struct{ A, B int }
			if err := json.Unmarshal(arguments, &args); err != nil {
				return []mcp.ContentItem{mcp.TextItem("text/plain", "bad arguments")}, true, nil
			}
			return []mcp.ContentItem{mcp.TextItem("text/plain", fmt.Sprintf("%d", args.A+args.B))}, false, nil
		}))

	raw, rpcErr := call(t, s, 1, mcp.MethodCallTool, mcp.CallToolParams{
		Name:      "add",
		Arguments: json.RawMessage(`{"a":2,"b":3}`),
	})
	require.Nil(t, rpcErr)

	var result mcp.CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "5", string(result.Content[0].Data))
}

func TestServer_CallToolNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Tools: true}})
	_, rpcErr := call(t, s, 1, mcp.MethodCallTool, mcp.CallToolParams{Name: "nope"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.ErrToolNotFound, rpcErr.Code)
}

func TestServer_RateLimitHook(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{
		Capabilities: Capabilities{Tools: true},
		RateLimit:    ratelimit.NewBucket(0.001, 2),
	})

	_, rpcErr := call(t, s, 1, mcp.MethodPing, nil)
	require.Nil(t, rpcErr)
	_, rpcErr = call(t, s, 2, mcp.MethodPing, nil)
	require.Nil(t, rpcErr)

	_, rpcErr = call(t, s, 3, mcp.MethodPing, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.ErrServerStart, rpcErr.Code)
}

func TestServer_PublishesToolEvents(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Capabilities: Capabilities{Tools: true}})
	require.NoError(t, s.RegisterTool(mcp.Tool{Name: "noop"},
		func(ctx context.Context, name string, arguments json.RawMessage) ([]mcp.ContentItem, bool, error) {
			return nil, false, nil
		}))

	events, cancel := s.Events().Subscribe([]string{"tool_called"}, "", "")
	defer cancel()

	_, rpcErr := call(t, s, 1, mcp.MethodCallTool, mcp.CallToolParams{Name: "noop"})
	require.Nil(t, rpcErr)

	select {
	case ev := <-events:
		assert.Equal(t, "noop", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("no tool_called event")
	}
}

// TestServer_EndToEndTCP runs the concurrent-dispatch scenario over a
// real TCP transport: 100 requests on 10 goroutines against an echo
// tool, each caller observing its own arguments.
func TestServer_EndToEndTCP(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestServer(t, Config{Capabilities: Capabilities{Tools: true}})
	require.NoError(t, s.RegisterTool(mcp.Tool{Name: "echo"},
		func(ctx context.Context, name string, arguments json.RawMessage) ([]mcp.ContentItem, bool, error) {
			return []mcp.ContentItem{mcp.JSONItem(arguments)}, false, nil
		}))

	lst := transport.NewTCPServer("127.0.0.1:0")
	require.NoError(t, s.Serve(ctx, lst))
	defer lst.Stop(ctx)

	c, err := client.Connect(ctx, client.Config{
		Address:        "tcp://" + lst.Addr().String(),
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer c.Close(ctx)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				tag := fmt.Sprintf("g%d-i%d", g, i)
				result, err := c.CallTool(ctx, "echo", map[string]string{"tag": tag})
				if err != nil {
					t.Errorf("%s: %v", tag, err)
					return
				}
				if len(result.Content) != 1 {
					t.Errorf("%s: unexpected content %+v", tag, result.Content)
					return
				}
				var echoed struct {
					Tag string `json:"tag"`
				}
				if err := json.Unmarshal(result.Content[0].Data, &echoed); err != nil {
					t.Errorf("%s: %v", tag, err)
					return
				}
				if echoed.Tag != tag {
					t.Errorf("got %q, want %q", echoed.Tag, tag)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 0, c.PendingCount(), "pending table must drain")
}
