package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcpwire/mcpd/pkg/jsonrpc"
	"github.com/mcpwire/mcpd/pkg/mcp"
)

// Typed wrappers over SendAndWait for the built-in protocol methods.

// Ping round-trips a ping request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SendAndWait(ctx, mcp.MethodPing, nil)
	return err
}

// ListResources fetches the server's registered resources.
func (c *Client) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	raw, err := c.SendAndWait(ctx, mcp.MethodListResources, nil)
	if err != nil {
		return nil, err
	}
	var result mcp.ListResourcesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding list_resources result: %w", err)
	}
	return result.Resources, nil
}

// ListResourceTemplates fetches the server's resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	raw, err := c.SendAndWait(ctx, mcp.MethodListResourceTemplates, nil)
	if err != nil {
		return nil, err
	}
	var result mcp.ListResourceTemplatesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding list_resource_templates result: %w", err)
	}
	return result.ResourceTemplates, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	params, err := json.Marshal(mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	raw, err := c.SendAndWait(ctx, mcp.MethodReadResource, params)
	if err != nil {
		return nil, err
	}
	var result mcp.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding read_resource result: %w", err)
	}
	return result.Contents, nil
}

// ListTools fetches the server's registered tools.
func (c *Client) ListTools(ctx context.Context) ([]mcp.ToolInfo, error) {
	raw, err := c.SendAndWait(ctx, mcp.MethodListTools, nil)
	if err != nil {
		return nil, err
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding list_tools result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool. arguments may be nil, a json.RawMessage, or
// any marshalable value.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (*mcp.CallToolResult, error) {
	var args json.RawMessage
	switch v := arguments.(type) {
	case nil:
	case json.RawMessage:
		args = v
	case []byte:
		args = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding tool arguments: %w", err)
		}
		args = b
	}
	params, err := json.Marshal(mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	raw, err := c.SendAndWait(ctx, mcp.MethodCallTool, params)
	if err != nil {
		return nil, err
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding call_tool result: %w", err)
	}
	return &result, nil
}

// RPCError extracts the *jsonrpc.Error from err, or nil.
func RPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return nil
}
