// Package mcp holds the Model Context Protocol domain model shared by the
// client, server, and gateway: resources, resource templates, tools, and
// the content items that travel in read_resource and call_tool results.
package mcp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Method names on the MCP wire.
const (
	MethodListResources         = "list_resources"
	MethodListResourceTemplates = "list_resource_templates"
	MethodReadResource          = "read_resource"
	MethodListTools             = "list_tools"
	MethodCallTool              = "call_tool"
	MethodPing                  = "ping"
)

// Resource describes a server-hosted resource addressed by URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResourceTemplate describes a parameterized resource family. The URI
// template uses {param} placeholders per RFC 6570 level 1.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToolParam is one entry of a tool's ordered parameter schema.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Tool describes an invocable tool.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Params      []ToolParam `json:"-"`
}

// InputSchema renders the ordered parameter list as a JSON-schema-shaped
// object for list_tools responses.
func (t *Tool) InputSchema() map[string]any {
	if len(t.Params) == 0 {
		return nil
	}
	props := make(map[string]any, len(t.Params))
	var required []string
	for _, p := range t.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ContentKind discriminates content item payloads.
type ContentKind string

// Content kinds carried in result payloads.
const (
	ContentText   ContentKind = "text"
	ContentJSON   ContentKind = "json"
	ContentBinary ContentKind = "binary"
)

// ContentItem is one element of a response payload: a kind discriminator,
// an optional MIME type, and the payload bytes. Binary payloads are raw
// bytes; text and JSON payloads are UTF-8.
type ContentItem struct {
	Kind     ContentKind
	MimeType string
	Data     []byte
}

// TextItem builds a text content item.
func TextItem(mimeType, text string) ContentItem {
	return ContentItem{Kind: ContentText, MimeType: mimeType, Data: []byte(text)}
}

// JSONItem builds a JSON content item from already-encoded bytes.
func JSONItem(data []byte) ContentItem {
	return ContentItem{Kind: ContentJSON, MimeType: "application/json", Data: data}
}

// BinaryItem builds a binary content item.
func BinaryItem(mimeType string, data []byte) ContentItem {
	return ContentItem{Kind: ContentBinary, MimeType: mimeType, Data: data}
}

// Copy returns a deep copy. Cache entries and results handed across API
// boundaries never share payload storage.
func (c ContentItem) Copy() ContentItem {
	dup := c
	if c.Data != nil {
		dup.Data = make([]byte, len(c.Data))
		copy(dup.Data, c.Data)
	}
	return dup
}

// CopyItems deep-copies a content item slice.
func CopyItems(items []ContentItem) []ContentItem {
	if items == nil {
		return nil
	}
	out := make([]ContentItem, len(items))
	for i, it := range items {
		out[i] = it.Copy()
	}
	return out
}

// contentItemJSON is the wire form of a content item in call_tool results.
type contentItemJSON struct {
	Type     ContentKind `json:"type"`
	MimeType string      `json:"mimeType,omitempty"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"`
}

// MarshalJSON serializes with the type discriminator; binary payloads are
// base64 in a data member, text and JSON payloads go in a text member.
func (c ContentItem) MarshalJSON() ([]byte, error) {
	w := contentItemJSON{Type: c.Kind, MimeType: c.MimeType}
	switch c.Kind {
	case ContentBinary:
		w.Data = base64.StdEncoding.EncodeToString(c.Data)
	case ContentText, ContentJSON:
		w.Text = string(c.Data)
	default:
		return nil, fmt.Errorf("unknown content kind %q", c.Kind)
	}
	return json.Marshal(&w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *ContentItem) UnmarshalJSON(data []byte) error {
	var w contentItemJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Kind = w.Type
	c.MimeType = w.MimeType
	switch w.Type {
	case ContentBinary:
		raw, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return fmt.Errorf("decoding binary content: %w", err)
		}
		c.Data = raw
	case ContentText, ContentJSON:
		c.Data = []byte(w.Text)
	default:
		return fmt.Errorf("unknown content kind %q", w.Type)
	}
	return nil
}

// ResourceContents is the wire form of one element of a read_resource
// contents array.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Base64   string `json:"base64,omitempty"`
}

// ToResourceContents converts a content item for a read_resource response.
func (c ContentItem) ToResourceContents(uri string) ResourceContents {
	rc := ResourceContents{URI: uri, MimeType: c.MimeType}
	if c.Kind == ContentBinary {
		rc.Base64 = base64.StdEncoding.EncodeToString(c.Data)
	} else {
		rc.Text = string(c.Data)
	}
	return rc
}
