// Package mcprouter implements Cubicler's MCP server surface: JSON-RPC 2.0
// dispatch over the provider set, plus the SSE delivery bridge for clients
// that want streamed responses.
package mcprouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cubicler/cubicler/internal/provider"
	"github.com/cubicler/cubicler/pkg/models"
)

// routerState tracks initialization progress.
type routerState int

const (
	stateUninitialized routerState = iota
	stateInitializing
	stateReady
)

// Router dispatches MCP JSON-RPC requests across the registered providers.
// Provider order matters: the first provider whose CanHandleRequest matches
// wins, and built-ins are placed first so nothing can shadow them.
type Router struct {
	providers []provider.ToolsProvider
	version   string

	mu    sync.Mutex
	state routerState
}

// NewRouter creates a router over providers, in priority order.
func NewRouter(providers []provider.ToolsProvider, version string) *Router {
	return &Router{providers: providers, version: version}
}

// Initialize fans out to every provider. Any provider failure is fatal; the
// router stays uninitialized. Idempotent once Ready.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.state == stateReady {
		r.mu.Unlock()
		return nil
	}
	r.state = stateInitializing
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.providers {
		p := p
		g.Go(func() error {
			if err := p.Initialize(gctx); err != nil {
				return fmt.Errorf("initialize provider %s: %w", p.Identifier(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.mu.Lock()
		r.state = stateUninitialized
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.state = stateReady
	r.mu.Unlock()
	log.Info().Int("providers", len(r.providers)).Msg("MCP router initialized")
	return nil
}

func (r *Router) ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateReady
}

// Handle processes one MCP JSON-RPC request. It never panics outward and
// never returns a Go error to the caller: every outcome is a valid JSON-RPC
// response with the caller's id echoed. Notifications return nil.
func (r *Router) Handle(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	switch req.Method {
	case "initialize":
		return r.handleInitialize(ctx, req)

	case "tools/list":
		return r.handleToolsList(ctx, req)

	case "tools/call":
		return r.handleToolsCall(ctx, req)

	case "ping":
		return models.NewMCPResultResponse(req.ID, map[string]string{"status": "pong"})

	case "notifications/initialized":
		log.Debug().Msg("MCP client initialized")
		return nil

	default:
		return models.NewMCPErrorResponse(req.ID, models.MCPErrorMethodNotFound,
			fmt.Sprintf("Method not supported: %s", req.Method), nil)
	}
}

func (r *Router) handleInitialize(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	if err := r.Initialize(ctx); err != nil {
		return models.NewMCPErrorResponse(req.ID, models.MCPErrorInternal, "Initialization failed", err.Error())
	}
	return models.NewMCPResultResponse(req.ID, map[string]any{
		"protocolVersion": models.MCPProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]bool{"listChanged": true},
		},
		"serverInfo": map[string]string{
			"name":    "Cubicler",
			"version": r.version,
		},
	})
}

func (r *Router) handleToolsList(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	if !r.ready() {
		return models.NewMCPErrorResponse(req.ID, models.MCPErrorInternal, "Router not initialized", nil)
	}

	tools, err := r.ToolsList(ctx)
	if err != nil {
		return models.NewMCPErrorResponse(req.ID, models.MCPErrorInternal, "Internal error", err.Error())
	}

	items := make([]models.MCPToolInfo, 0, len(tools))
	for _, t := range tools {
		items = append(items, models.MCPToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return models.NewMCPResultResponse(req.ID, map[string]any{"tools": items})
}

// ToolsList concatenates every provider's tool list, in provider order. The
// dispatch service uses this directly when composing agent requests.
func (r *Router) ToolsList(ctx context.Context) ([]models.ToolDefinition, error) {
	var tools []models.ToolDefinition
	for _, p := range r.providers {
		list, err := p.ToolsList(ctx)
		if err != nil {
			return nil, fmt.Errorf("provider %s tools/list: %w", p.Identifier(), err)
		}
		tools = append(tools, list...)
	}
	return tools, nil
}

func (r *Router) handleToolsCall(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	if !r.ready() {
		return models.NewMCPErrorResponse(req.ID, models.MCPErrorInternal, "Router not initialized", nil)
	}

	var params models.MCPToolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return models.NewMCPErrorResponse(req.ID, models.MCPErrorInvalidParams, "Invalid params", err.Error())
		}
	}
	if params.Name == "" {
		return models.NewMCPErrorResponse(req.ID, models.MCPErrorInvalidParams, "Invalid params", "tool name is required")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	result, err := r.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		var mcpErr *models.MCPError
		if errors.As(err, &mcpErr) {
			return &models.MCPResponse{Jsonrpc: "2.0", Error: mcpErr, ID: req.ID}
		}
		return models.NewMCPErrorResponse(req.ID, models.MCPErrorInternal, "Tool execution failed", err.Error())
	}

	return models.NewMCPResultResponse(req.ID, wrapToolResult(result))
}

// CallTool routes a tool invocation to the first provider that claims the
// name. The direct agent transport calls this in-process.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	for _, p := range r.providers {
		if p.CanHandleRequest(name) {
			return p.ToolsCall(ctx, name, args)
		}
	}
	return nil, &models.MCPError{
		Code:    models.MCPErrorInvalidParams,
		Message: "Unknown tool",
		Data:    fmt.Sprintf("no provider handles %q", name),
	}
}

// wrapToolResult shapes a raw provider result as MCP content. Strings pass
// through as a single text item; anything else is serialized to JSON text.
func wrapToolResult(result any) models.MCPToolResult {
	var text string
	switch v := result.(type) {
	case string:
		text = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(raw)
		}
	}
	return models.MCPToolResult{
		Content: []models.MCPContent{{Type: "text", Text: text}},
	}
}
