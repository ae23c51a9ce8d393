// Package gateway routes MCP requests across a fleet of backend
// servers. A JSON config file declares each backend's address and
// routing rules; the router classifies read_resource by URI prefix and
// call_tool by tool name, and the forwarder relays the raw request over
// a pooled backend connection, preserving the upstream request ID.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcpwire/mcpd/pkg/jsonrpc"
	"github.com/mcpwire/mcpd/pkg/logging"
	"github.com/mcpwire/mcpd/pkg/mcp"
	"github.com/mcpwire/mcpd/pkg/metrics"
	"github.com/mcpwire/mcpd/pkg/transport"
)

// DefaultForwardTimeout bounds a backend round trip when neither the
// gateway config nor the backend entry sets one.
const DefaultForwardTimeout = 30 * time.Second

// LocalHandler serves requests no backend claims; a gateway co-located
// with a server passes the server's dispatcher here.
type LocalHandler func(payload []byte) []byte

// Config configures a gateway.
type Config struct {
	// ForwardTimeout is the default backend round-trip bound.
	ForwardTimeout time.Duration

	// Local, when set, handles unroutable methods.
	Local LocalHandler

	// Metrics, when set, receives forward counters.
	Metrics *metrics.Registry

	Logger *slog.Logger
}

// Gateway forwards classified requests to backends.
type Gateway struct {
	manager *ConfigManager
	timeout time.Duration
	local   LocalHandler
	logger  *slog.Logger

	mu    sync.Mutex
	pools map[string]*backendPool // keyed by backend name

	forwardsTotal *metrics.Counter
	forwardErrors *metrics.Counter
	reloadsTotal  *metrics.Counter
	unroutedTotal *metrics.Counter
}

// New creates a gateway over the given backend configuration.
func New(manager *ConfigManager, cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := cfg.ForwardTimeout
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	g := &Gateway{
		manager: manager,
		timeout: timeout,
		local:   cfg.Local,
		logger:  logging.Component(logger, "gateway"),
		pools:   make(map[string]*backendPool),
	}
	if cfg.Metrics != nil {
		g.forwardsTotal = cfg.Metrics.NewCounter("mcpd_gateway_forwards_total", "Requests forwarded to backends.")
		g.forwardErrors = cfg.Metrics.NewCounter("mcpd_gateway_forward_errors_total", "Backend forward failures.")
		g.reloadsTotal = cfg.Metrics.NewCounter("mcpd_gateway_reloads_total", "Config reloads applied.")
		g.unroutedTotal = cfg.Metrics.NewCounter("mcpd_gateway_unrouted_total", "Requests no backend claimed.")
	}
	return g
}

// Reload re-reads the config file and drops pools for backends whose
// address changed or that disappeared. In-flight forwards finish on
// their checked-out connections.
func (g *Gateway) Reload() error {
	if err := g.manager.Reload(); err != nil {
		return err
	}
	if g.reloadsTotal != nil {
		g.reloadsTotal.Inc()
	}

	current := make(map[string]string)
	for _, b := range g.manager.Backends() {
		current[b.Name] = b.Address
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for name, pool := range g.pools {
		if addr, ok := current[name]; !ok || addr != pool.address {
			pool.close(context.Background())
			delete(g.pools, name)
		}
	}
	g.logger.Info("gateway config reloaded", "backends", len(current))
	return nil
}

// HandleMessage is the gateway's transport message callback: classify,
// forward, and return the backend's response with the upstream ID
// preserved. Unroutable methods fall through to the local handler when
// one is configured.
func (g *Gateway) HandleMessage(payload []byte) []byte {
	req, err := jsonrpc.ParseRequest(payload)
	if err != nil {
		g.logger.Error("unparseable request", "error", err)
		resp, _ := jsonrpc.FormatErrorResponse(0, jsonrpc.ErrParse, "Parse error")
		return resp
	}
	var id uint64
	if req.ID != nil {
		id = *req.ID
	}

	// The gateway answers liveness checks itself; a probe is about the
	// gateway, not any one backend.
	if req.Method == mcp.MethodPing {
		if req.IsNotification() {
			return nil
		}
		resp, _ := jsonrpc.FormatResponse(id, json.RawMessage(`{}`))
		return resp
	}

	backend := g.manager.Classify(req.Method, req.Params)
	if backend == nil {
		if g.local != nil {
			return g.local(payload)
		}
		if g.unroutedTotal != nil {
			g.unroutedTotal.Inc()
		}
		if req.IsNotification() {
			return nil
		}
		resp, _ := jsonrpc.FormatErrorResponse(id, jsonrpc.ErrMethodNotFound,
			fmt.Sprintf("No backend routes %s", req.Method))
		return resp
	}

	reply, err := g.forward(context.Background(), backend, payload)
	if err != nil {
		g.logger.Warn("backend forward failed",
			"backend", backend.Name, "method", req.Method, "error", err)
		if g.forwardErrors != nil {
			g.forwardErrors.Inc()
		}
		if req.IsNotification() {
			return nil
		}
		resp, _ := jsonrpc.FormatErrorResponse(id, jsonrpc.ErrTransport,
			fmt.Sprintf("Backend %s unavailable: %v", backend.Name, err))
		return resp
	}
	if g.forwardsTotal != nil {
		g.forwardsTotal.Inc()
	}
	if req.IsNotification() {
		return nil
	}
	return ensureResponseID(reply, id)
}

// forward relays the raw request over a pooled backend connection.
func (g *Gateway) forward(ctx context.Context, backend *BackendInfo, payload []byte) ([]byte, error) {
	pool := g.pool(backend)
	conn, err := pool.get(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.put(conn)
	return conn.roundTrip(ctx, payload, backend.Timeout(g.timeout))
}

func (g *Gateway) pool(backend *BackendInfo) *backendPool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pool, ok := g.pools[backend.Name]; ok && pool.address == backend.Address {
		return pool
	}
	pool := newBackendPool(backend.Address)
	g.pools[backend.Name] = pool
	return pool
}

// Serve starts a transport with the gateway dispatcher.
func (g *Gateway) Serve(ctx context.Context, tr transport.Transport) error {
	return tr.Start(ctx, g.HandleMessage, func(err error) {
		g.logger.Error("transport failure", "error", err)
	})
}

// Shutdown closes every backend pool concurrently.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.Lock()
	pools := g.pools
	g.pools = make(map[string]*backendPool)
	g.mu.Unlock()

	var eg errgroup.Group
	for _, pool := range pools {
		pool := pool
		eg.Go(func() error {
			pool.close(ctx)
			return nil
		})
	}
	_ = eg.Wait()
}

// ensureResponseID rewrites the response envelope's ID when the backend
// answered with a different one; result and error members pass through
// verbatim.
func ensureResponseID(reply []byte, want uint64) []byte {
	var resp jsonrpc.Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return reply
	}
	if resp.ID == want {
		return reply
	}
	resp.ID = want
	fixed, err := json.Marshal(&resp)
	if err != nil {
		return reply
	}
	return fixed
}
