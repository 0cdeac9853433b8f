package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// Built-in tool names, always literal and never hash-mangled.
const (
	ToolAvailableServers = "cubicler_available_servers"
	ToolFetchServerTools = "cubicler_fetch_server_tools"

	// InternalServerIdentifier is the pseudo-server exposing the built-ins.
	InternalServerIdentifier = "cubicler"
)

// InternalProvider exposes Cubicler's built-in tools. It aggregates over the
// other providers, which are attached after construction via SetProviders
// and SetServersProvider (two-phase init, since the provider set and the
// server registry come from the same config).
type InternalProvider struct {
	mu        sync.RWMutex
	servers   ServersProvider
	providers []ToolsProvider
}

// NewInternalProvider creates the internal tools provider.
func NewInternalProvider() *InternalProvider {
	return &InternalProvider{}
}

// SetServersProvider attaches the server registry. Must be called before
// Initialize.
func (p *InternalProvider) SetServersProvider(sp ServersProvider) {
	p.mu.Lock()
	p.servers = sp
	p.mu.Unlock()
}

// SetProviders attaches the backend providers the built-ins aggregate over.
func (p *InternalProvider) SetProviders(providers []ToolsProvider) {
	p.mu.Lock()
	p.providers = providers
	p.mu.Unlock()
}

// Identifier implements ToolsProvider.
func (p *InternalProvider) Identifier() string { return InternalServerIdentifier }

// Initialize implements ToolsProvider.
func (p *InternalProvider) Initialize(context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.servers == nil {
		return fmt.Errorf("internal provider: servers provider not attached")
	}
	return nil
}

// ToolsList returns the two built-ins.
func (p *InternalProvider) ToolsList(context.Context) ([]models.ToolDefinition, error) {
	return builtinTools(), nil
}

func builtinTools() []models.ToolDefinition {
	return []models.ToolDefinition{
		{
			Name:        ToolAvailableServers,
			Description: "List all servers providing tools, with their tool counts.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolFetchServerTools,
			Description: "Fetch the tool definitions exposed by one server.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"serverIdentifier": map[string]any{
						"type":        "string",
						"description": "Identifier of the server to inspect",
					},
				},
				"required": []string{"serverIdentifier"},
			},
		},
	}
}

// CanHandleRequest matches the two literal built-in names.
func (p *InternalProvider) CanHandleRequest(name string) bool {
	return name == ToolAvailableServers || name == ToolFetchServerTools
}

// ToolsCall dispatches a built-in.
func (p *InternalProvider) ToolsCall(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolAvailableServers:
		return p.availableServers(ctx)
	case ToolFetchServerTools:
		identifier, _ := args["serverIdentifier"].(string)
		if identifier == "" {
			return nil, fmt.Errorf("serverIdentifier is required")
		}
		return p.fetchServerTools(ctx, identifier)
	default:
		return nil, models.NewNotFound(models.NotFoundTool, name)
	}
}

type serverSummary struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ToolsCount  int    `json:"toolsCount"`
}

func (p *InternalProvider) availableServers(ctx context.Context) (any, error) {
	p.mu.RLock()
	sp := p.servers
	p.mu.RUnlock()
	if sp == nil {
		return nil, fmt.Errorf("internal provider: servers provider not attached")
	}

	servers, err := sp.Servers(ctx)
	if err != nil {
		return nil, err
	}

	tools := p.aggregateTools(ctx)
	summaries := make([]serverSummary, 0, len(servers))
	for _, s := range servers {
		count := 0
		if hash, err := sp.HashOf(ctx, s.Identifier); err == nil {
			prefix := hash + "_"
			for _, t := range tools {
				if strings.HasPrefix(t.Name, prefix) {
					count++
				}
			}
		}
		summaries = append(summaries, serverSummary{
			Identifier:  s.Identifier,
			Name:        s.Name,
			Description: s.Description,
			ToolsCount:  count,
		})
	}

	return map[string]any{
		"total":   len(summaries),
		"servers": summaries,
	}, nil
}

func (p *InternalProvider) fetchServerTools(ctx context.Context, identifier string) (any, error) {
	if identifier == InternalServerIdentifier {
		return map[string]any{"tools": builtinTools()}, nil
	}

	p.mu.RLock()
	sp := p.servers
	p.mu.RUnlock()
	if sp == nil {
		return nil, fmt.Errorf("internal provider: servers provider not attached")
	}

	hash, err := sp.HashOf(ctx, identifier)
	if err != nil {
		return nil, err
	}

	prefix := hash + "_"
	var tools []models.ToolDefinition
	for _, t := range p.aggregateTools(ctx) {
		if strings.HasPrefix(t.Name, prefix) {
			tools = append(tools, t)
		}
	}
	if tools == nil {
		tools = []models.ToolDefinition{}
	}
	return map[string]any{"tools": tools}, nil
}

// aggregateTools collects every attached provider's tool list. A failing
// provider contributes nothing and does not abort aggregation.
func (p *InternalProvider) aggregateTools(ctx context.Context) []models.ToolDefinition {
	p.mu.RLock()
	providers := p.providers
	p.mu.RUnlock()

	var tools []models.ToolDefinition
	for _, prov := range providers {
		list, err := prov.ToolsList(ctx)
		if err != nil {
			log.Warn().Str("provider", prov.Identifier()).Err(err).Msg("Provider tools/list failed during aggregation")
			continue
		}
		tools = append(tools, list...)
	}
	return tools
}
