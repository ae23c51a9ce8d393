package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// httpClient is a synchronous request/response transport. Every payload
// is POSTed to the endpoint as application/json and the response body is
// the reply. It implements RoundTripper so the client correlator can
// bypass its pending table.
type httpClient struct {
	endpoint  string
	authToken string
	client    *http.Client

	onMessage MessageCallback
	started   atomic.Bool
	closed    atomic.Bool
}

func newHTTPClient(endpoint string, cfg options) *httpClient {
	return &httpClient{
		endpoint:  endpoint,
		authToken: cfg.authToken,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *httpClient) Protocol() Protocol { return ProtocolHTTP }

// Start records the message callback. HTTP has no receive loop; replies
// arrive inline with each Send.
func (t *httpClient) Start(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	t.onMessage = onMessage
	return nil
}

// Send posts the payload and delivers the response body to the message
// callback, preserving the asynchronous Transport contract for callers
// that do not use RoundTrip.
func (t *httpClient) Send(payload []byte) error {
	reply, err := t.RoundTrip(context.Background(), payload)
	if err != nil {
		return err
	}
	if t.onMessage != nil && len(reply) > 0 {
		t.onMessage(reply)
	}
	return nil
}

func (t *httpClient) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http transport: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http transport: status %d", resp.StatusCode)
	}
	return body, nil
}

func (t *httpClient) Stop(ctx context.Context) error {
	t.closed.Store(true)
	t.client.CloseIdleConnections()
	return nil
}

func (t *httpClient) Connected() bool { return !t.closed.Load() }

// HTTPServer serves JSON-RPC over HTTP POST. Requests to the RPC path
// are handed to the message callback and its return value becomes the
// response body. Additional handlers (event streams, metrics, static
// files) are mounted with Handle before Start.
type HTTPServer struct {
	addr       string
	maxPayload uint32
	mux        *http.ServeMux
	srv        *http.Server

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// DefaultRPCPath is where the JSON-RPC endpoint is mounted.
const DefaultRPCPath = "/rpc"

// NewHTTPServer creates an HTTP server transport listening on addr once
// started.
func NewHTTPServer(addr string, opts ...Option) *HTTPServer {
	cfg := applyOptions(opts)
	maxPayload := cfg.maxPayload
	if maxPayload == 0 {
		maxPayload = 16 << 20
	}
	return &HTTPServer{
		addr:       addr,
		maxPayload: maxPayload,
		mux:        http.NewServeMux(),
	}
}

func (s *HTTPServer) Protocol() Protocol { return ProtocolHTTP }

// Handle mounts an additional handler on the server mux. Must be called
// before Start.
func (s *HTTPServer) Handle(pattern string, h http.Handler) {
	s.mux.Handle(methodPattern(pattern, h))
}

// methodPattern splits a "METHOD /path" ServeMux pattern into a plain
// path and a handler that enforces the method, for toolchains whose
// ServeMux does not route on methods. As with method-aware routing, a
// GET pattern also admits HEAD.
func methodPattern(pattern string, h http.Handler) (string, http.Handler) {
	method, path, ok := strings.Cut(pattern, " ")
	if !ok || strings.HasPrefix(pattern, "/") {
		return pattern, h
	}
	return path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// Addr returns the bound listen address, valid after Start.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *HTTPServer) Start(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyStarted
	}

	s.mux.Handle(methodPattern("POST "+DefaultRPCPath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.maxPayload)+1))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		if uint32(len(body)) > s.maxPayload {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		reply := onMessage(body)
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(reply)
	})))

	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if onError != nil {
				onError(fmt.Errorf("http serve: %w", err))
			}
		}
	}()
	return nil
}

// Send is not supported; replies travel back in the HTTP response.
func (s *HTTPServer) Send([]byte) error {
	return errors.New("http server transport cannot send unsolicited messages")
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.srv
	s.mu.Unlock()
	return srv.Shutdown(ctx)
}
