package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "mcpd.yaml", `
server:
  name: test-server
  listen: "127.0.0.1:9000"
  cacheTtlSeconds: 120
rateLimit:
  rate: 100
  burst: 20
  rules:
    - name: api-clients
      key: api_key
      algorithm: token_bucket
      params:
        tokensPerSecond: 10
        maxTokens: 50
plugins:
  - /opt/mcpd/weather.so
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-server", cfg.Server.Name)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, 120, cfg.Server.CacheTTLSeconds)
	assert.Equal(t, 100.0, cfg.RateLimit.Rate)
	require.Len(t, cfg.RateLimit.Rules, 1)
	assert.Equal(t, "api-clients", cfg.RateLimit.Rules[0].Name)
	assert.Equal(t, []string{"/opt/mcpd/weather.so"}, cfg.Plugins)

	// Defaults survive partial files.
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Server.Resources)
}

func TestLoad_JSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "mcpd.json", `{
  "server": {"name": "j", "stdio": true},
  "logging": {"level": "debug", "format": "json"}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "j", cfg.Server.Name)
	assert.True(t, cfg.Server.Stdio)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	_, err := Load("/nonexistent/mcpd.yaml")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLoad_Empty(t *testing.T) {
	t.Parallel()
	_, err := Load(writeFile(t, "empty.yaml", "  \n"))
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestLoad_BadYAML(t *testing.T) {
	t.Parallel()
	_, err := Load(writeFile(t, "bad.yaml", "server: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default ok", func(c *Config) {}, false},
		{"no name", func(c *Config) { c.Server.Name = "" }, true},
		{"no transport", func(c *Config) { c.Server.Listen = "" }, true},
		{"stdio only", func(c *Config) {
			c.Server.Listen = ""
			c.Server.Stdio = true
		}, false},
		{"gateway without backends file", func(c *Config) {
			c.Gateway.Enabled = true
		}, true},
		{"gateway with backends file", func(c *Config) {
			c.Gateway.Enabled = true
			c.Gateway.BackendsFile = "backends.json"
		}, false},
		{"negative rate", func(c *Config) { c.RateLimit.Rate = -1 }, true},
		{"empty plugin path", func(c *Config) { c.Plugins = []string{""} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
