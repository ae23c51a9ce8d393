package mcp

import "encoding/json"

// Wire shapes for the built-in method params and results.

// ReadResourceParams are the params of read_resource.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// CallToolParams are the params of call_tool.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ListResourcesResult is the result of list_resources.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ListResourceTemplatesResult is the result of list_resource_templates.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// ReadResourceResult is the result of read_resource.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ToolInfo is one entry of a list_tools result.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of list_tools.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolResult is the result of call_tool. IsError is always present on
// the wire.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

// Info converts a Tool to its list_tools wire entry.
func (t *Tool) Info() ToolInfo {
	return ToolInfo{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema(),
	}
}
