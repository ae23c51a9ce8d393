// Package config loads the mcpd daemon configuration from YAML or JSON
// files, applying defaults and validating before anything starts.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcpwire/mcpd/pkg/ratelimit"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound = errors.New("configuration file not found")
	ErrEmptyFile    = errors.New("configuration file is empty")
	ErrInvalid      = errors.New("invalid configuration")
)

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Gateway   GatewayConfig   `yaml:"gateway" json:"gateway"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`

	// Plugins are paths to plugin .so files loaded at startup.
	Plugins []string `yaml:"plugins" json:"plugins"`
}

// ServerConfig configures the MCP server and its transports.
type ServerConfig struct {
	Name string `yaml:"name" json:"name"`

	// Listen is the framed-TCP listen address; empty disables TCP.
	Listen string `yaml:"listen" json:"listen"`

	// HTTPListen is the HTTP listen address (RPC, events, metrics);
	// empty disables HTTP.
	HTTPListen string `yaml:"httpListen" json:"httpListen"`

	// Stdio serves on stdin/stdout instead of listening.
	Stdio bool `yaml:"stdio" json:"stdio"`

	// DocRoot, when set, serves static files on the HTTP transport for
	// paths outside the RPC and event endpoints.
	DocRoot string `yaml:"docRoot" json:"docRoot"`

	MaxPayload      uint32 `yaml:"maxPayload" json:"maxPayload"`
	CacheTTLSeconds int    `yaml:"cacheTtlSeconds" json:"cacheTtlSeconds"`
	CacheMaxEntries int    `yaml:"cacheMaxEntries" json:"cacheMaxEntries"`

	Resources bool `yaml:"resources" json:"resources"`
	Tools     bool `yaml:"tools" json:"tools"`
}

// CacheTTL returns the configured cache TTL as a duration.
func (s *ServerConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// GatewayConfig configures gateway mode.
type GatewayConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// BackendsFile is the JSON backend list, reloadable at runtime.
	BackendsFile string `yaml:"backendsFile" json:"backendsFile"`

	ForwardTimeoutMs int `yaml:"forwardTimeoutMs" json:"forwardTimeoutMs"`
}

// ForwardTimeout returns the configured forward timeout as a duration.
func (g *GatewayConfig) ForwardTimeout() time.Duration {
	return time.Duration(g.ForwardTimeoutMs) * time.Millisecond
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// AuthConfig configures bearer-token authentication on the HTTP
// surface. An empty secret disables it.
type AuthConfig struct {
	Secret string `yaml:"secret" json:"secret"`
	Issuer string `yaml:"issuer" json:"issuer"`
}

// RateLimitConfig configures request limiting.
type RateLimitConfig struct {
	// Rate and Burst feed the aggregate server dispatch bucket; a zero
	// rate disables it.
	Rate  float64 `yaml:"rate" json:"rate"`
	Burst int     `yaml:"burst" json:"burst"`

	// Rules feed the keyed limiter on the HTTP surface.
	Rules []ratelimit.Rule `yaml:"rules" json:"rules"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:      "mcpd",
			Listen:    "127.0.0.1:7450",
			Resources: true,
			Tools:     true,
		},
		Gateway: GatewayConfig{
			ForwardTimeoutMs: 30000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, parses, and validates the config file at path. YAML and
// JSON are detected by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	cfg := Default()
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("%w: server.name is required", ErrInvalid)
	}
	if !c.Server.Stdio && c.Server.Listen == "" && c.Server.HTTPListen == "" && !c.Gateway.Enabled {
		return fmt.Errorf("%w: no transport configured", ErrInvalid)
	}
	if c.Gateway.Enabled && c.Gateway.BackendsFile == "" {
		return fmt.Errorf("%w: gateway.backendsFile is required when gateway is enabled", ErrInvalid)
	}
	if c.RateLimit.Rate < 0 {
		return fmt.Errorf("%w: rateLimit.rate cannot be negative", ErrInvalid)
	}
	for _, p := range c.Plugins {
		if p == "" {
			return fmt.Errorf("%w: empty plugin path", ErrInvalid)
		}
	}
	return nil
}
