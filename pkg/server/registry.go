package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mcpwire/mcpd/pkg/mcp"
)

// ResourceHandler produces the content of a resource on read. Template
// reads receive the matched parameters; plain resources get nil.
type ResourceHandler func(ctx context.Context, uri string, params map[string]string) ([]mcp.ContentItem, error)

// ToolHandler executes a tool call. isError marks a tool-level failure
// that still serializes as a result; a returned error becomes a
// JSON-RPC error response instead.
type ToolHandler func(ctx context.Context, name string, arguments json.RawMessage) (items []mcp.ContentItem, isError bool, err error)

// Capabilities gates method families. A request for an unsupported
// family yields method_not_found.
type Capabilities struct {
	Resources bool
	Tools     bool
}

type resourceEntry struct {
	resource mcp.Resource
	handler  ResourceHandler
	ttl      int // cache TTL seconds; 0 = cache default
}

type templateEntry struct {
	template mcp.ResourceTemplate
	handler  ResourceHandler
}

type toolEntry struct {
	tool    mcp.Tool
	handler ToolHandler
}

// registry holds registered resources, templates, and tools in
// registration order. Reads vastly outnumber writes.
type registry struct {
	mu        sync.RWMutex
	resources []resourceEntry
	templates []templateEntry
	tools     []toolEntry
}

func (r *registry) addResource(res mcp.Resource, ttl int, h ResourceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, resourceEntry{resource: res, handler: h, ttl: ttl})
}

func (r *registry) addTemplate(tpl mcp.ResourceTemplate, h ResourceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = append(r.templates, templateEntry{template: tpl, handler: h})
}

func (r *registry) addTool(tool mcp.Tool, h ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, toolEntry{tool: tool, handler: h})
}

func (r *registry) listResources() []mcp.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Resource, len(r.resources))
	for i, e := range r.resources {
		out[i] = e.resource
	}
	return out
}

func (r *registry) listTemplates() []mcp.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, len(r.templates))
	for i, e := range r.templates {
		out[i] = e.template
	}
	return out
}

func (r *registry) listTools() []mcp.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ToolInfo, len(r.tools))
	for i := range r.tools {
		out[i] = r.tools[i].tool.Info()
	}
	return out
}

// findResource returns the exact-URI resource entry, or nil.
func (r *registry) findResource(uri string) *resourceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.resources {
		if r.resources[i].resource.URI == uri {
			return &r.resources[i]
		}
	}
	return nil
}

// findTemplate returns the first template matching uri along with the
// extracted parameters.
func (r *registry) findTemplate(uri string) (*templateEntry, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.templates {
		if params, ok := mcp.MatchTemplate(r.templates[i].template.URITemplate, uri); ok {
			return &r.templates[i], params
		}
	}
	return nil, nil
}

func (r *registry) findTool(name string) *toolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.tools {
		if r.tools[i].tool.Name == name {
			return &r.tools[i]
		}
	}
	return nil
}
