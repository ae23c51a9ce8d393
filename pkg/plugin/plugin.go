// Package plugin loads MCP extension modules built with the Go plugin
// toolchain. Each .so exports a Descriptor variable named MCPDescriptor
// declaring its identity, lifecycle hooks, and optional resource and
// tool handlers, which the loader registers on the host server.
package plugin

import (
	"fmt"
	"log/slog"
	goplugin "plugin"
	"sync"

	"github.com/mcpwire/mcpd/pkg/logging"
	"github.com/mcpwire/mcpd/pkg/mcp"
	"github.com/mcpwire/mcpd/pkg/server"
)

// SymbolName is the exported descriptor symbol every plugin carries.
const SymbolName = "MCPDescriptor"

// Descriptor declares a plugin to the host.
type Descriptor struct {
	Name        string
	Version     string
	Author      string
	Description string

	// Initialize runs after the symbol lookup; a non-zero return aborts
	// the load and the plugin is discarded.
	Initialize func(host *server.Server) int

	// Finalize runs at unload. Non-zero returns are logged, not fatal.
	Finalize func() int

	// Resources and Tools are registered on the host after a successful
	// Initialize.
	Resources []ResourceExport
	Tools     []ToolExport
}

// ResourceExport pairs a resource with its handler.
type ResourceExport struct {
	Resource mcp.Resource
	CacheTTL int
	Handler  server.ResourceHandler
}

// ToolExport pairs a tool with its handler.
type ToolExport struct {
	Tool    mcp.Tool
	Handler server.ToolHandler
}

// Loaded is one successfully loaded plugin.
type Loaded struct {
	Path       string
	Descriptor *Descriptor
}

// Loader opens plugin files and tracks what it has loaded.
type Loader struct {
	host   *server.Server
	logger *slog.Logger

	mu     sync.Mutex
	loaded []*Loaded
}

// NewLoader creates a loader registering into host.
func NewLoader(host *server.Server, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{host: host, logger: logging.Component(logger, "plugin")}
}

// Load opens the plugin at path, resolves its descriptor, initializes
// it, and registers its exports. A failed initialize discards the
// plugin.
func (l *Loader) Load(path string) (*Loaded, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(SymbolName)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: missing symbol %s: %w", path, SymbolName, err)
	}
	desc, ok := sym.(*Descriptor)
	if !ok {
		return nil, fmt.Errorf("plugin %s: symbol %s has type %T, want *plugin.Descriptor", path, SymbolName, sym)
	}
	if desc.Name == "" {
		return nil, fmt.Errorf("plugin %s: descriptor has no name", path)
	}

	if desc.Initialize != nil {
		if rc := desc.Initialize(l.host); rc != 0 {
			return nil, fmt.Errorf("plugin %s: initialize returned %d", desc.Name, rc)
		}
	}

	if err := l.register(desc); err != nil {
		if desc.Finalize != nil {
			desc.Finalize()
		}
		return nil, err
	}

	loaded := &Loaded{Path: path, Descriptor: desc}
	l.mu.Lock()
	l.loaded = append(l.loaded, loaded)
	l.mu.Unlock()

	l.logger.Info("plugin loaded",
		"name", desc.Name, "version", desc.Version, "path", path,
		"resources", len(desc.Resources), "tools", len(desc.Tools))
	return loaded, nil
}

func (l *Loader) register(desc *Descriptor) error {
	for _, r := range desc.Resources {
		if err := l.host.RegisterResource(r.Resource, r.CacheTTL, r.Handler); err != nil {
			return fmt.Errorf("plugin %s: %w", desc.Name, err)
		}
	}
	for _, t := range desc.Tools {
		if err := l.host.RegisterTool(t.Tool, t.Handler); err != nil {
			return fmt.Errorf("plugin %s: %w", desc.Name, err)
		}
	}
	return nil
}

// UnloadAll finalizes every loaded plugin in reverse load order. The Go
// runtime cannot unmap plugin code; unload here means running finalizers
// and dropping references.
func (l *Loader) UnloadAll() {
	l.mu.Lock()
	loaded := l.loaded
	l.loaded = nil
	l.mu.Unlock()

	for i := len(loaded) - 1; i >= 0; i-- {
		desc := loaded[i].Descriptor
		if desc.Finalize == nil {
			continue
		}
		if rc := desc.Finalize(); rc != 0 {
			l.logger.Warn("plugin finalize failed", "name", desc.Name, "rc", rc)
		}
	}
}

// Plugins lists the loaded plugins.
func (l *Loader) Plugins() []*Loaded {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Loaded, len(l.loaded))
	copy(out, l.loaded)
	return out
}
