// Package server implements the MCP server: registries for resources,
// resource templates, and tools; a JSON-RPC dispatcher invoked from
// transport receive callbacks; and the read_resource cache with
// single-flight fills.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcpwire/mcpd/pkg/arena"
	"github.com/mcpwire/mcpd/pkg/cache"
	"github.com/mcpwire/mcpd/pkg/jsonrpc"
	"github.com/mcpwire/mcpd/pkg/logging"
	"github.com/mcpwire/mcpd/pkg/mcp"
	"github.com/mcpwire/mcpd/pkg/metrics"
	"github.com/mcpwire/mcpd/pkg/ratelimit"
	"github.com/mcpwire/mcpd/pkg/sse"
	"github.com/mcpwire/mcpd/pkg/transport"
)

// Config configures a server.
type Config struct {
	Name         string
	Capabilities Capabilities

	// CacheTTL is the default TTL for read_resource cache entries.
	// Zero uses the cache package default.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the cache with LRU eviction; zero means
	// unbounded.
	CacheMaxEntries int

	// RateLimit, when set, bounds aggregate dispatch throughput.
	// Rejected requests receive a server error response.
	RateLimit *ratelimit.Bucket

	// Metrics, when set, receives request counters and latency.
	Metrics *metrics.Registry

	Logger *slog.Logger
}

// Server dispatches MCP requests to registered handlers.
type Server struct {
	name    string
	caps    Capabilities
	reg     *registry
	cache   *cache.Cache
	arenas  *arena.Pool
	limiter *ratelimit.Bucket
	events  *sse.Broker
	logger  *slog.Logger

	tr transport.Transport

	requestsTotal *metrics.Counter
	errorsTotal   *metrics.Counter
	latency       *metrics.Histogram
}

// New creates a server. Register resources and tools before serving.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		name:    cfg.Name,
		caps:    cfg.Capabilities,
		reg:     &registry{},
		arenas:  arena.NewPool(0),
		limiter: cfg.RateLimit,
		events:  sse.NewBroker(0),
		logger:  logging.Component(logger, "server"),
		cache: cache.New(
			cache.WithDefaultTTL(cfg.CacheTTL),
			cache.WithMaxEntries(cfg.CacheMaxEntries),
		),
	}
	if cfg.Metrics != nil {
		s.requestsTotal = cfg.Metrics.NewCounter("mcpd_server_requests_total", "Requests dispatched.")
		s.errorsTotal = cfg.Metrics.NewCounter("mcpd_server_errors_total", "Error responses produced.")
		s.latency = cfg.Metrics.NewHistogram("mcpd_server_request_seconds", "Dispatch latency.", metrics.DefaultBuckets)
	}
	return s
}

// RegisterResource registers a fixed-URI resource. cacheTTL, in
// seconds, overrides the cache default for this resource; 0 keeps it.
func (s *Server) RegisterResource(res mcp.Resource, cacheTTL int, h ResourceHandler) error {
	if res.URI == "" {
		return fmt.Errorf("resource URI is required")
	}
	if h == nil {
		return fmt.Errorf("resource %s: handler is required", res.URI)
	}
	s.reg.addResource(res, cacheTTL, h)
	return nil
}

// RegisterResourceTemplate registers a parameterized resource family.
func (s *Server) RegisterResourceTemplate(tpl mcp.ResourceTemplate, h ResourceHandler) error {
	if tpl.URITemplate == "" {
		return fmt.Errorf("resource template URI is required")
	}
	if h == nil {
		return fmt.Errorf("template %s: handler is required", tpl.URITemplate)
	}
	s.reg.addTemplate(tpl, h)
	return nil
}

// RegisterTool registers an invocable tool.
func (s *Server) RegisterTool(tool mcp.Tool, h ToolHandler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Name)
	}
	s.reg.addTool(tool, h)
	return nil
}

// Events exposes the server's notification broker; the HTTP event
// stream and tests subscribe here.
func (s *Server) Events() *sse.Broker { return s.events }

// Cache exposes cache statistics for the admin surface.
func (s *Server) CacheStats() cache.Stats { return s.cache.Stats() }

// Serve starts the transport with this server's dispatcher.
func (s *Server) Serve(ctx context.Context, tr transport.Transport) error {
	s.tr = tr
	return tr.Start(ctx, s.HandleMessage, func(err error) {
		s.logger.Error("transport failure", "error", err)
	})
}

// Shutdown stops the transport and the event broker.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.Close()
	if s.tr == nil {
		return nil
	}
	return s.tr.Stop(ctx)
}

// HandleMessage is the transport message callback: one request in, one
// response out. Notifications return nil. The incoming payload is only
// valid during the call, so it is copied into a pooled arena before
// parsing; the response is always freshly allocated.
func (s *Server) HandleMessage(payload []byte) []byte {
	start := time.Now()
	if s.requestsTotal != nil {
		s.requestsTotal.Inc()
	}

	a := s.arenas.Get()
	defer s.arenas.Put(a)

	buf := a.Alloc(len(payload))
	copy(buf, payload)

	resp := s.dispatch(buf)
	if s.latency != nil {
		s.latency.Observe(time.Since(start).Seconds())
	}
	return resp
}

func (s *Server) dispatch(payload []byte) []byte {
	req, err := jsonrpc.ParseRequest(payload)
	if err != nil {
		s.logger.Error("unparseable request", "error", err)
		return s.errorResponse(0, jsonrpc.ErrParse, "Parse error")
	}

	var id uint64
	if req.ID != nil {
		id = *req.ID
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("request rate limited", "method", req.Method, "id", id)
		return s.respond(req, s.errorResponse(id, jsonrpc.ErrServerStart, "Rate limit exceeded"))
	}

	ctx := context.Background()
	var result any
	var rpcErr *jsonrpc.Error

	switch req.Method {
	case mcp.MethodPing:
		result = struct{}{}
	case mcp.MethodListResources:
		result, rpcErr = s.handleListResources()
	case mcp.MethodListResourceTemplates:
		result, rpcErr = s.handleListTemplates()
	case mcp.MethodReadResource:
		result, rpcErr = s.handleReadResource(ctx, req.Params)
	case mcp.MethodListTools:
		result, rpcErr = s.handleListTools()
	case mcp.MethodCallTool:
		result, rpcErr = s.handleCallTool(ctx, req.Params)
	default:
		rpcErr = &jsonrpc.Error{Code: jsonrpc.ErrMethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
	}

	if rpcErr != nil {
		s.logger.Debug("request failed",
			"method", req.Method, "id", id,
			"code", rpcErr.Code.String(), "message", rpcErr.Message)
		return s.respond(req, s.errorResponse(id, rpcErr.Code, rpcErr.Message))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("result serialization failed", "method", req.Method, "error", err)
		return s.respond(req, s.errorResponse(id, jsonrpc.ErrInternal, "Internal error"))
	}
	resp, err := jsonrpc.FormatResponse(id, raw)
	if err != nil {
		return s.respond(req, s.errorResponse(id, jsonrpc.ErrInternal, "Internal error"))
	}
	return s.respond(req, resp)
}

// respond suppresses responses to notifications.
func (s *Server) respond(req *jsonrpc.Request, resp []byte) []byte {
	if req.IsNotification() {
		return nil
	}
	return resp
}

func (s *Server) errorResponse(id uint64, code jsonrpc.ErrorCode, message string) []byte {
	if s.errorsTotal != nil {
		s.errorsTotal.Inc()
	}
	resp, err := jsonrpc.FormatErrorResponse(id, code, message)
	if err != nil {
		// FormatErrorResponse only fails on marshal, which cannot happen
		// for these inputs.
		s.logger.Error("error response serialization failed", "error", err)
		return []byte(`{"jsonrpc":"2.0","id":0,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return resp
}

func (s *Server) handleListResources() (any, *jsonrpc.Error) {
	if !s.caps.Resources {
		return nil, methodGated(mcp.MethodListResources)
	}
	resources := s.reg.listResources()
	if resources == nil {
		resources = []mcp.Resource{}
	}
	return mcp.ListResourcesResult{Resources: resources}, nil
}

func (s *Server) handleListTemplates() (any, *jsonrpc.Error) {
	if !s.caps.Resources {
		return nil, methodGated(mcp.MethodListResourceTemplates)
	}
	templates := s.reg.listTemplates()
	if templates == nil {
		templates = []mcp.ResourceTemplate{}
	}
	return mcp.ListResourceTemplatesResult{ResourceTemplates: templates}, nil
}

func (s *Server) handleListTools() (any, *jsonrpc.Error) {
	if !s.caps.Tools {
		return nil, methodGated(mcp.MethodListTools)
	}
	tools := s.reg.listTools()
	if tools == nil {
		tools = []mcp.ToolInfo{}
	}
	return mcp.ListToolsResult{Tools: tools}, nil
}

// handleReadResource resolves the URI to a handler (exact resources
// first, then templates in registration order) and serves through the
// single-flight cache.
func (s *Server) handleReadResource(ctx context.Context, rawParams json.RawMessage) (any, *jsonrpc.Error) {
	if !s.caps.Resources {
		return nil, methodGated(mcp.MethodReadResource)
	}
	var params mcp.ReadResourceParams
	if err := json.Unmarshal(rawParams, &params); err != nil || params.URI == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrInvalidParams, Message: "read_resource requires a uri parameter"}
	}

	var handler ResourceHandler
	var tplParams map[string]string
	var ttl time.Duration

	if entry := s.reg.findResource(params.URI); entry != nil {
		handler = entry.handler
		ttl = time.Duration(entry.ttl) * time.Second
	} else if tpl, matched := s.reg.findTemplate(params.URI); tpl != nil {
		handler = tpl.handler
		tplParams = matched
	}
	if handler == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrResourceNotFound, Message: fmt.Sprintf("Resource not found: %s", params.URI)}
	}

	items, err := s.cache.GetOrFill(ctx, params.URI, ttl, func(ctx context.Context, uri string) ([]mcp.ContentItem, error) {
		return handler(ctx, uri, tplParams)
	})
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrInternal, Message: fmt.Sprintf("resource handler failed: %v", err)}
	}

	s.publishEvent("resource_read", params.URI)

	contents := make([]mcp.ResourceContents, len(items))
	for i, item := range items {
		contents[i] = item.ToResourceContents(params.URI)
	}
	return mcp.ReadResourceResult{Contents: contents}, nil
}

func (s *Server) handleCallTool(ctx context.Context, rawParams json.RawMessage) (any, *jsonrpc.Error) {
	if !s.caps.Tools {
		return nil, methodGated(mcp.MethodCallTool)
	}
	var params mcp.CallToolParams
	if err := json.Unmarshal(rawParams, &params); err != nil || params.Name == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrInvalidParams, Message: "call_tool requires a name parameter"}
	}

	entry := s.reg.findTool(params.Name)
	if entry == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrToolNotFound, Message: fmt.Sprintf("Tool not found: %s", params.Name)}
	}

	items, isError, err := entry.handler(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrInternal, Message: fmt.Sprintf("tool handler failed: %v", err)}
	}
	if items == nil {
		items = []mcp.ContentItem{}
	}

	s.publishEvent("tool_called", params.Name)

	return mcp.CallToolResult{Content: items, IsError: isError}, nil
}

func (s *Server) publishEvent(eventType, subject string) {
	if _, err := s.events.Publish(sse.Event{Type: eventType, Data: subject}); err != nil {
		s.logger.Debug("event publish skipped", "type", eventType, "error", err)
	}
}

func methodGated(method string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrMethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
}
