package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/mcp"
	"github.com/cubicler/cubicler/internal/naming"
	"github.com/cubicler/cubicler/pkg/models"
)

// MCPProvider aggregates tools from all configured MCP servers behind the
// common provider contract. Tool names are mangled with the server hash so
// servers cannot collide; transports are created lazily per server and
// reused.
type MCPProvider struct {
	loader  *config.Loader
	timeout time.Duration

	mu         sync.Mutex
	transports map[string]mcp.Transport
	// functionNames maps server hash -> snake name -> backend tool name, so
	// decoded calls can be routed back to the name the backend declared.
	functionNames map[string]map[string]string
}

// NewMCPProvider creates the MCP provider.
func NewMCPProvider(loader *config.Loader, timeout time.Duration) *MCPProvider {
	return &MCPProvider{
		loader:        loader,
		timeout:       timeout,
		transports:    make(map[string]mcp.Transport),
		functionNames: make(map[string]map[string]string),
	}
}

// Identifier implements ToolsProvider.
func (p *MCPProvider) Identifier() string { return "mcp" }

// Initialize verifies the providers config loads. Transports are created
// lazily on first use per server.
func (p *MCPProvider) Initialize(ctx context.Context) error {
	_, err := p.loader.Providers(ctx)
	return err
}

// ToolsList aggregates every server's tools/list, renaming each tool to its
// mangled form. A failing server is logged and skipped; a partial result is
// valid.
func (p *MCPProvider) ToolsList(ctx context.Context) ([]models.ToolDefinition, error) {
	cfg, err := p.loader.Providers(ctx)
	if err != nil {
		return nil, err
	}

	var tools []models.ToolDefinition
	for id, server := range cfg.MCPServers {
		serverTools, err := p.listServerTools(ctx, id, server)
		if err != nil {
			log.Warn().Str("server", id).Err(err).Msg("MCP server tools/list failed, skipping")
			continue
		}
		tools = append(tools, serverTools...)
	}
	return tools, nil
}

func (p *MCPProvider) listServerTools(ctx context.Context, id string, server models.McpServerConfig) ([]models.ToolDefinition, error) {
	transport, err := p.transportFor(ctx, id, server)
	if err != nil {
		return nil, err
	}

	resp, err := transport.SendRequest(ctx, &models.MCPRequest{
		Jsonrpc: "2.0",
		Method:  "tools/list",
		ID:      uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result struct {
		Tools []models.MCPToolInfo `json:"tools"`
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &models.TransportError{Kind: models.TransportParseFrame, Err: err}
	}

	hash := naming.Hash6(id, server.PrimaryString())
	names := make(map[string]string, len(result.Tools))
	tools := make([]models.ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		snake := naming.SnakeCase(t.Name)
		names[snake] = t.Name
		tools = append(tools, models.ToolDefinition{
			Name:        hash + "_" + snake,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	p.mu.Lock()
	p.functionNames[hash] = names
	p.mu.Unlock()
	return tools, nil
}

// ToolsCall decodes the mangled name, resolves the server by recomputed
// hash, and issues tools/call on its transport.
func (p *MCPProvider) ToolsCall(ctx context.Context, name string, args map[string]any) (any, error) {
	hash, function, err := naming.DecodeName(name)
	if err != nil {
		return nil, err
	}

	cfg, err := p.loader.Providers(ctx)
	if err != nil {
		return nil, err
	}
	id, server, ok := resolveMCPServer(cfg, hash)
	if !ok {
		return nil, models.NewNotFound(models.NotFoundServer, hash)
	}

	transport, err := p.transportFor(ctx, id, server)
	if err != nil {
		return nil, err
	}

	backendName, err := p.backendToolName(ctx, id, server, hash, function)
	if err != nil {
		return nil, err
	}

	params, err := json.Marshal(models.MCPToolCallParams{Name: backendName, Arguments: args})
	if err != nil {
		return nil, err
	}
	resp, err := transport.SendRequest(ctx, &models.MCPRequest{
		Jsonrpc: "2.0",
		Method:  "tools/call",
		Params:  params,
		ID:      uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// backendToolName maps the decoded snake name back to the tool name the
// backend declared, refreshing the server's tool list when unknown.
func (p *MCPProvider) backendToolName(ctx context.Context, id string, server models.McpServerConfig, hash, function string) (string, error) {
	p.mu.Lock()
	names := p.functionNames[hash]
	p.mu.Unlock()
	if name, ok := names[function]; ok {
		return name, nil
	}

	if _, err := p.listServerTools(ctx, id, server); err != nil {
		return "", err
	}
	p.mu.Lock()
	names = p.functionNames[hash]
	p.mu.Unlock()
	if name, ok := names[function]; ok {
		return name, nil
	}
	// Unknown to the backend's list: pass the decoded name through and let
	// the backend report its own error.
	return function, nil
}

// CanHandleRequest reports whether the name decodes and its hash matches a
// configured MCP server. It never returns an error to the router.
func (p *MCPProvider) CanHandleRequest(name string) bool {
	hash, _, err := naming.DecodeName(name)
	if err != nil {
		return false
	}
	cfg, err := p.loader.Providers(context.Background())
	if err != nil {
		return false
	}
	_, _, ok := resolveMCPServer(cfg, hash)
	return ok
}

func resolveMCPServer(cfg *models.ProvidersConfig, hash string) (string, models.McpServerConfig, bool) {
	for id, server := range cfg.MCPServers {
		if naming.Hash6(id, server.PrimaryString()) == hash {
			return id, server, true
		}
	}
	return "", models.McpServerConfig{}, false
}

// transportFor returns the server's transport, creating and initializing it
// under the lock on first use.
func (p *MCPProvider) transportFor(ctx context.Context, id string, server models.McpServerConfig) (mcp.Transport, error) {
	p.mu.Lock()
	if t, ok := p.transports[id]; ok {
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	t, err := mcp.NewTransport(id, server, p.timeout)
	if err != nil {
		return nil, err
	}
	if err := t.Initialize(ctx); err != nil {
		t.Close()
		return nil, fmt.Errorf("initialize transport for %s: %w", id, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.transports[id]; ok {
		// Another goroutine won the race; keep its transport.
		t.Close()
		return existing, nil
	}
	p.transports[id] = t
	return t, nil
}

// Close shuts down every created transport.
func (p *MCPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.transports {
		if err := t.Close(); err != nil {
			log.Warn().Str("server", id).Err(err).Msg("Closing MCP transport failed")
		}
		delete(p.transports, id)
	}
	return nil
}
