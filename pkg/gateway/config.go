package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RoutingRules declare which traffic a backend serves.
type RoutingRules struct {
	// ResourcePrefixes route read_resource by URI prefix, in order.
	ResourcePrefixes []string `json:"resource_prefixes"`
	// ToolNames route call_tool by exact tool name.
	ToolNames []string `json:"tool_names"`
}

// BackendInfo is one entry of the gateway config file.
type BackendInfo struct {
	// Name is the unique logical backend ID.
	Name string `json:"name"`
	// Address is a transport address (tcp://host:port, stdio:/path, …).
	Address string       `json:"address"`
	Routing RoutingRules `json:"routing"`
	// TimeoutMs overrides the gateway forward timeout for this backend.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// Timeout returns the backend's forward timeout, or fallback when the
// config carries none.
func (b *BackendInfo) Timeout(fallback time.Duration) time.Duration {
	if b.TimeoutMs > 0 {
		return time.Duration(b.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// ParseConfig validates a gateway config document: a top-level JSON
// array of backends, each with a name, an address, and routing rules.
func ParseConfig(data []byte) ([]BackendInfo, error) {
	var backends []BackendInfo
	if err := json.Unmarshal(data, &backends); err != nil {
		return nil, fmt.Errorf("gateway config: %w", err)
	}
	seen := make(map[string]struct{}, len(backends))
	for i := range backends {
		b := &backends[i]
		if b.Name == "" {
			return nil, fmt.Errorf("gateway config: backend %d: name is required", i)
		}
		if b.Address == "" {
			return nil, fmt.Errorf("gateway config: backend %q: address is required", b.Name)
		}
		if b.Routing.ResourcePrefixes == nil && b.Routing.ToolNames == nil {
			return nil, fmt.Errorf("gateway config: backend %q: routing is required", b.Name)
		}
		if _, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("gateway config: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return backends, nil
}

// ConfigManager holds the gateway's backend list behind an RW-lock.
// Route lookups and forwarding take the read side; Reload is the only
// writer and swaps the list atomically on successful parse.
type ConfigManager struct {
	path string

	mu       sync.RWMutex
	backends []BackendInfo
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (*ConfigManager, error) {
	m := &ConfigManager{path: path}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewConfigManager wraps an already-parsed backend list; used by tests
// and programmatic setups that have no config file.
func NewConfigManager(backends []BackendInfo) *ConfigManager {
	return &ConfigManager{backends: backends}
}

// Reload re-reads the config file. On any failure the previous backend
// list stays in effect and the error is returned.
func (m *ConfigManager) Reload() error {
	if m.path == "" {
		return fmt.Errorf("gateway config: no file to reload")
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	backends, err := ParseConfig(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.backends = backends
	m.mu.Unlock()
	return nil
}

// Backends returns the current backend list. The slice is shared; do
// not mutate it.
func (m *ConfigManager) Backends() []BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backends
}

// Lookup finds a backend by name.
func (m *ConfigManager) Lookup(name string) *BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.backends {
		if m.backends[i].Name == name {
			return &m.backends[i]
		}
	}
	return nil
}
