// Package mcp implements the client-side transports Cubicler uses to reach
// backend MCP servers: HTTP, SSE, stdio child processes, and an "auto" mode
// that tries SSE and falls back to HTTP.
//
// All transports share a uniform contract and are safe for concurrent use;
// I/O is serialized internally where the wire requires it.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/cubicler/cubicler/pkg/models"
)

// Transport is the uniform request/response interface consumed by the MCP
// provider. Initialize must be called once before SendRequest.
type Transport interface {
	Initialize(ctx context.Context) error
	SendRequest(ctx context.Context, req *models.MCPRequest) (*models.MCPResponse, error)
	Close() error
}

// NewTransport builds the transport matching the server's configured
// transport kind. A URL config without a transport field gets auto mode.
func NewTransport(identifier string, cfg models.McpServerConfig, timeout time.Duration) (Transport, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch cfg.Transport {
	case models.McpTransportHTTP:
		return NewHTTPTransport(identifier, cfg.URL, cfg.Headers, timeout), nil
	case models.McpTransportSSE:
		return NewSSETransport(identifier, cfg.URL, cfg.Headers, timeout), nil
	case models.McpTransportStdio:
		return NewStdioTransport(identifier, cfg.Command, cfg.Args, cfg.Env, timeout), nil
	case models.McpTransportAuto, "":
		return NewAutoTransport(identifier, cfg.URL, cfg.Headers, timeout), nil
	default:
		return nil, fmt.Errorf("unknown mcp transport %q for server %s", cfg.Transport, identifier)
	}
}

// idKey normalizes a JSON-RPC id (string or number) into a correlation key.
func idKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
