package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwire/mcpd/pkg/auth"
	"github.com/mcpwire/mcpd/pkg/config"
	"github.com/mcpwire/mcpd/pkg/jsonrpc"
	"github.com/mcpwire/mcpd/pkg/logging"
	"github.com/mcpwire/mcpd/pkg/mcp"
	"github.com/mcpwire/mcpd/pkg/metrics"
	"github.com/mcpwire/mcpd/pkg/plugin"
	"github.com/mcpwire/mcpd/pkg/ratelimit"
	"github.com/mcpwire/mcpd/pkg/server"
	"github.com/mcpwire/mcpd/pkg/sse"
	"github.com/mcpwire/mcpd/pkg/transport"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

var serveFlagVals serveFlags

// serveFlags holds the parsed command-line flags for the serve command.
type serveFlags struct {
	listen     string
	httpListen string
	stdio      bool
	cacheTTL   int
	rateLimit  float64
	burst      int
	plugins    []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (foreground)",
	Long: `Start the MCP server. Resources and tools come from loaded plugins; the
built-in server info resource is always registered.

Transports are enabled by configuration or flags: framed TCP (--listen),
HTTP with events and metrics (--http-listen), or stdio (--stdio).`,
	Example: `  # Serve on the default TCP address
  mcpd serve

  # Serve over stdio for a spawning host process
  mcpd serve --stdio

  # Serve with HTTP events/metrics and a plugin
  mcpd serve --http-listen :7451 --plugin ./weather.so`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, &serveFlagVals)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := &serveFlagVals
	serveCmd.Flags().StringVarP(&f.listen, "listen", "l", "", "Framed TCP listen address")
	serveCmd.Flags().StringVar(&f.httpListen, "http-listen", "", "HTTP listen address (RPC, events, metrics)")
	serveCmd.Flags().BoolVar(&f.stdio, "stdio", false, "Serve on stdin/stdout instead of listening")
	serveCmd.Flags().IntVar(&f.cacheTTL, "cache-ttl", 0, "Resource cache TTL in seconds")
	serveCmd.Flags().Float64Var(&f.rateLimit, "rate-limit", 0, "Requests per second across all clients (0 = disabled)")
	serveCmd.Flags().IntVar(&f.burst, "burst", 0, "Rate limit burst size")
	serveCmd.Flags().StringSliceVar(&f.plugins, "plugin", nil, "Plugin .so file to load (repeatable)")
}

func runServe(cmd *cobra.Command, f *serveFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, f, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := buildLogger(cfg)

	var bucket *ratelimit.Bucket
	if cfg.RateLimit.Rate > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = int(cfg.RateLimit.Rate)
		}
		bucket = ratelimit.NewBucket(cfg.RateLimit.Rate, burst)
	}

	reg := metrics.NewRegistry()
	srv := server.New(server.Config{
		Name: cfg.Server.Name,
		Capabilities: server.Capabilities{
			Resources: cfg.Server.Resources,
			Tools:     cfg.Server.Tools,
		},
		CacheTTL:        cfg.Server.CacheTTL(),
		CacheMaxEntries: cfg.Server.CacheMaxEntries,
		RateLimit:       bucket,
		Metrics:         reg,
		Logger:          log,
	})
	registerBuiltins(srv, cfg)

	loader := plugin.NewLoader(srv, log)
	for _, path := range cfg.Plugins {
		if _, err := loader.Load(path); err != nil {
			return err
		}
	}
	defer loader.UnloadAll()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	onError := func(err error) {
		log.Error("transport error", "error", err)
	}

	var opts []transport.Option
	if cfg.Server.MaxPayload > 0 {
		opts = append(opts, transport.WithMaxPayload(cfg.Server.MaxPayload))
	}

	var tcpSrv *transport.TCPServer
	if cfg.Server.Listen != "" {
		tcpSrv = transport.NewTCPServer(cfg.Server.Listen, opts...)
		if err := tcpSrv.Start(ctx, srv.HandleMessage, onError); err != nil {
			return err
		}
		log.Info("tcp transport listening", "addr", tcpSrv.Addr())
	}

	var httpSrv *transport.HTTPServer
	if cfg.Server.HTTPListen != "" {
		httpSrv, err = startHTTP(ctx, cfg, srv, reg, log, onError, opts)
		if err != nil {
			stopTransport(tcpSrv)
			return err
		}
		log.Info("http transport listening", "addr", httpSrv.Addr())
	}

	if cfg.Server.Stdio {
		stdio := transport.NewProcessStdio(opts...)
		if err := stdio.Start(ctx, srv.HandleMessage, onError); err != nil {
			stopTransport(tcpSrv)
			stopTransport(httpSrv)
			return err
		}
		defer stopTransport(stdio)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s started (%d plugins loaded)\n", cfg.Server.Name, len(loader.Plugins()))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	stopTransport(tcpSrv)
	stopTransport(httpSrv)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", "error", err)
	}
	return nil
}

// applyServeFlags layers explicitly-set flags over the file config.
func applyServeFlags(cmd *cobra.Command, f *serveFlags, cfg *config.Config) {
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = f.listen
	}
	if cmd.Flags().Changed("http-listen") {
		cfg.Server.HTTPListen = f.httpListen
	}
	if cmd.Flags().Changed("stdio") {
		cfg.Server.Stdio = f.stdio
		if f.stdio {
			cfg.Server.Listen = ""
		}
	}
	if cmd.Flags().Changed("cache-ttl") {
		cfg.Server.CacheTTLSeconds = f.cacheTTL
	}
	if cmd.Flags().Changed("rate-limit") {
		cfg.RateLimit.Rate = f.rateLimit
	}
	if cmd.Flags().Changed("burst") {
		cfg.RateLimit.Burst = f.burst
	}
	if len(f.plugins) > 0 {
		cfg.Plugins = append(cfg.Plugins, f.plugins...)
	}
}

// startHTTP starts the HTTP transport with the event stream, metrics,
// and any configured auth or keyed rate limiting mounted alongside /rpc.
func startHTTP(ctx context.Context, cfg *config.Config, srv *server.Server, reg *metrics.Registry, log *slog.Logger, onError transport.ErrorCallback, opts []transport.Option) (*transport.HTTPServer, error) {
	httpSrv := transport.NewHTTPServer(cfg.Server.HTTPListen, opts...)

	wrap := func(h http.Handler) http.Handler { return h }
	if cfg.Auth.Secret != "" {
		verifier := auth.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
		wrap = auth.Middleware(verifier)
	}
	if len(cfg.RateLimit.Rules) > 0 {
		limiter := ratelimit.NewLimiter()
		for _, rule := range cfg.RateLimit.Rules {
			if err := limiter.AddRule(rule); err != nil {
				return nil, err
			}
		}
		inner := wrap
		limit := ratelimit.Middleware(limiter, ratelimit.WithProxyHeaders())
		wrap = func(h http.Handler) http.Handler { return limit(inner(h)) }
	}

	httpSrv.Handle("GET /events", wrap(sse.NewHandler(srv.Events(), logging.Component(log, "sse"))))
	httpSrv.Handle("GET /metrics", reg.Handler())
	httpSrv.Handle("POST /call_tool", wrap(callToolHandler(srv)))
	if cfg.Server.DocRoot != "" {
		httpSrv.Handle("GET /", http.FileServer(http.Dir(cfg.Server.DocRoot)))
	}

	if err := httpSrv.Start(ctx, srv.HandleMessage, onError); err != nil {
		return nil, err
	}
	return httpSrv, nil
}

// callToolHandler accepts a JSON-RPC call_tool request body and answers
// synchronously. Other methods on this endpoint are rejected before
// dispatch.
func callToolHandler(srv *server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		if req, err := jsonrpc.ParseRequest(body); err != nil || req.Method != mcp.MethodCallTool {
			http.Error(w, "body must be a call_tool JSON-RPC request", http.StatusBadRequest)
			return
		}
		reply := srv.HandleMessage(body)
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(reply)
	})
}

// registerBuiltins adds the resources every mcpd instance exposes.
func registerBuiltins(srv *server.Server, cfg *config.Config) {
	if !cfg.Server.Resources {
		return
	}
	started := time.Now()
	info := mcp.Resource{
		URI:         "mcpd://server/info",
		Name:        "Server info",
		Description: "Identity and uptime of this server.",
		MimeType:    "application/json",
	}
	_ = srv.RegisterResource(info, 0, func(ctx context.Context, uri string, params map[string]string) ([]mcp.ContentItem, error) {
		data, err := json.Marshal(map[string]any{
			"name":    cfg.Server.Name,
			"version": Version,
			"pid":     os.Getpid(),
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
		if err != nil {
			return nil, err
		}
		return []mcp.ContentItem{mcp.JSONItem(data)}, nil
	})
}

func stopTransport(tr transport.Transport) {
	if tr == nil || isNilTransport(tr) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tr.Stop(ctx)
}

// isNilTransport guards against typed-nil transports reaching Stop.
func isNilTransport(tr transport.Transport) bool {
	switch v := tr.(type) {
	case *transport.TCPServer:
		return v == nil
	case *transport.HTTPServer:
		return v == nil
	default:
		return false
	}
}
