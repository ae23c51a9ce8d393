package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// MiddlewareOption configures the rate limiting middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	trustProxyHeaders bool
	userHeader        string
	apiKeyHeader      string
}

// WithProxyHeaders makes the middleware honor X-Forwarded-For and
// X-Real-IP. Only enable behind a trusted proxy.
func WithProxyHeaders() MiddlewareOption {
	return func(c *middlewareConfig) { c.trustProxyHeaders = true }
}

// WithUserHeader names the header carrying the authenticated user ID.
func WithUserHeader(h string) MiddlewareOption {
	return func(c *middlewareConfig) { c.userHeader = h }
}

// WithAPIKeyHeader names the header carrying the client API key.
func WithAPIKeyHeader(h string) MiddlewareOption {
	return func(c *middlewareConfig) { c.apiKeyHeader = h }
}

// Middleware enforces the limiter on every request, keying on the
// client IP plus any configured identity headers. A nil limiter passes
// through.
func Middleware(limiter *Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		apiKeyHeader: "X-API-Key",
	}
	for _, o := range opts {
		o(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			keys := Keys{IP: clientIP(r, cfg.trustProxyHeaders)}
			if cfg.userHeader != "" {
				keys.UserID = r.Header.Get(cfg.userHeader)
			}
			if cfg.apiKeyHeader != "" {
				keys.APIKey = r.Header.Get(cfg.apiKeyHeader)
			}

			if !limiter.Check(keys) {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests. Please slow down."}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP, optionally honoring proxy headers.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				xff = xff[:idx]
			}
			if ip := strings.TrimSpace(xff); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
