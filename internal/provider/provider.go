// Package provider adapts backend families (MCP servers, REST APIs) and
// Cubicler's own built-ins to a common tools contract consumed by the MCP
// router.
package provider

import (
	"context"
	"sort"

	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/naming"
	"github.com/cubicler/cubicler/pkg/models"
)

// ToolsProvider is the capability set every provider implements. For any
// name returned by ToolsList, CanHandleRequest must report true and
// ToolsCall must not fail with an invalid-name error.
type ToolsProvider interface {
	Identifier() string
	Initialize(ctx context.Context) error
	ToolsList(ctx context.Context) ([]models.ToolDefinition, error)
	ToolsCall(ctx context.Context, name string, args map[string]any) (any, error)
	CanHandleRequest(name string) bool
}

// ServersProvider resolves configured servers and their name-mangling
// hashes. The internal tools provider consumes it via two-phase init.
type ServersProvider interface {
	Servers(ctx context.Context) ([]models.ServerInfo, error)
	HashOf(ctx context.Context, identifier string) (string, error)
}

// Registry resolves servers across both provider families from the loaded
// providers config.
type Registry struct {
	loader *config.Loader
}

// NewRegistry creates a Registry over the given loader.
func NewRegistry(loader *config.Loader) *Registry {
	return &Registry{loader: loader}
}

// Servers lists all configured servers (MCP and REST) sorted by identifier.
func (r *Registry) Servers(ctx context.Context) ([]models.ServerInfo, error) {
	cfg, err := r.loader.Providers(ctx)
	if err != nil {
		return nil, err
	}
	servers := make([]models.ServerInfo, 0, len(cfg.MCPServers)+len(cfg.RESTServers))
	for id, s := range cfg.MCPServers {
		servers = append(servers, models.ServerInfo{Identifier: id, Name: s.Name, Description: s.Description})
	}
	for id, s := range cfg.RESTServers {
		servers = append(servers, models.ServerInfo{Identifier: id, Name: s.Name, Description: s.Description})
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Identifier < servers[j].Identifier })
	return servers, nil
}

// HashOf returns the function-name hash for the identified server.
func (r *Registry) HashOf(ctx context.Context, identifier string) (string, error) {
	cfg, err := r.loader.Providers(ctx)
	if err != nil {
		return "", err
	}
	if s, ok := cfg.MCPServers[identifier]; ok {
		return naming.Hash6(identifier, s.PrimaryString()), nil
	}
	if s, ok := cfg.RESTServers[identifier]; ok {
		return naming.Hash6(identifier, s.URL), nil
	}
	return "", models.NewNotFound(models.NotFoundServer, identifier)
}
