package gateway

import (
	"encoding/json"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/mcpwire/mcpd/pkg/mcp"
)

var (
	uriPath  = jp.C("uri")
	namePath = jp.C("name")
)

// extractParam pulls one string member out of raw request params
// without decoding the whole document.
func extractParam(params json.RawMessage, path jp.Expr) string {
	if len(params) == 0 {
		return ""
	}
	doc, err := oj.Parse(params)
	if err != nil {
		return ""
	}
	for _, v := range path.Get(doc) {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Classify picks the backend for a request. read_resource routes by the
// first backend whose resource prefix starts the URI; call_tool by the
// first backend listing the tool name. Scan order is config order, so
// ties go to the earlier backend. A nil return means no backend serves
// the request.
func (m *ConfigManager) Classify(method string, params json.RawMessage) *BackendInfo {
	switch method {
	case mcp.MethodReadResource:
		uri := extractParam(params, uriPath)
		if uri == "" {
			return nil
		}
		return m.classifyByURI(uri)
	case mcp.MethodCallTool:
		name := extractParam(params, namePath)
		if name == "" {
			return nil
		}
		return m.classifyByTool(name)
	default:
		return nil
	}
}

func (m *ConfigManager) classifyByURI(uri string) *BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.backends {
		for _, prefix := range m.backends[i].Routing.ResourcePrefixes {
			if prefix != "" && strings.HasPrefix(uri, prefix) {
				return &m.backends[i]
			}
		}
	}
	return nil
}

func (m *ConfigManager) classifyByTool(name string) *BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.backends {
		for _, tool := range m.backends[i].Routing.ToolNames {
			if tool == name {
				return &m.backends[i]
			}
		}
	}
	return nil
}
