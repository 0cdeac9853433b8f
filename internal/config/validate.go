package config

import (
	"fmt"
	"regexp"

	"github.com/cubicler/cubicler/pkg/models"
)

// identifierPattern is the format rule for agent, server, and webhook
// identifiers.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const maxIdentifierLength = 32

func validIdentifier(id string) bool {
	return len(id) > 0 && len(id) <= maxIdentifierLength && identifierPattern.MatchString(id)
}

func validateAgents(cfg *models.AgentsConfig) error {
	if len(cfg.Agents) == 0 {
		return &models.ConfigInvalidError{Reason: "agents config must define at least one agent"}
	}
	for id, agent := range cfg.Agents {
		if !validIdentifier(id) {
			return &models.ConfigInvalidError{Reason: fmt.Sprintf("agent identifier %q is invalid", id)}
		}
		switch agent.Transport {
		case models.AgentTransportHTTP, models.AgentTransportSSE:
			if agent.Transport == models.AgentTransportHTTP && agent.URL == "" {
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("agent %q: http transport requires url", id)}
			}
		case models.AgentTransportStdio:
			if agent.Command == "" {
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("agent %q: stdio transport requires command", id)}
			}
		case models.AgentTransportDirect:
			if agent.Provider == "" || agent.Model == "" {
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("agent %q: direct transport requires provider and model", id)}
			}
		default:
			return &models.ConfigInvalidError{Reason: fmt.Sprintf("agent %q: unknown transport %q", id, agent.Transport)}
		}
	}
	return nil
}

var restMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

func validateProviders(cfg *models.ProvidersConfig) error {
	for id, server := range cfg.MCPServers {
		if !validIdentifier(id) {
			return &models.ConfigInvalidError{Reason: fmt.Sprintf("mcp server identifier %q is invalid", id)}
		}
		switch server.Transport {
		case models.McpTransportHTTP, models.McpTransportSSE:
			if server.URL == "" {
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("mcp server %q: %s transport requires url", id, server.Transport)}
			}
		case models.McpTransportStdio:
			if server.Command == "" {
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("mcp server %q: stdio transport requires command", id)}
			}
		case models.McpTransportAuto, "":
			if server.URL == "" {
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("mcp server %q: auto transport requires url", id)}
			}
		default:
			return &models.ConfigInvalidError{Reason: fmt.Sprintf("mcp server %q: unknown transport %q", id, server.Transport)}
		}
	}
	for id, server := range cfg.RESTServers {
		if !validIdentifier(id) {
			return &models.ConfigInvalidError{Reason: fmt.Sprintf("rest server identifier %q is invalid", id)}
		}
		if server.URL == "" {
			return &models.ConfigInvalidError{Reason: fmt.Sprintf("rest server %q: url is required", id)}
		}
		for name, ep := range server.Endpoints {
			if ep.Path == "" {
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("rest server %q endpoint %q: path is required", id, name)}
			}
			if !restMethods[ep.Method] {
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("rest server %q endpoint %q: invalid method %q", id, name, ep.Method)}
			}
		}
	}
	return nil
}

func validateWebhooks(cfg *models.WebhooksConfig) error {
	for id, hook := range cfg.Webhooks {
		if !validIdentifier(id) {
			return &models.ConfigInvalidError{Reason: fmt.Sprintf("webhook identifier %q is invalid", id)}
		}
		if len(hook.AllowedAgents) == 0 {
			return &models.ConfigInvalidError{Reason: fmt.Sprintf("webhook %q: allowedAgents must not be empty", id)}
		}
		if hook.Auth != nil {
			switch hook.Auth.Type {
			case "signature", "bearer":
			default:
				return &models.ConfigInvalidError{Reason: fmt.Sprintf("webhook %q: unknown auth type %q", id, hook.Auth.Type)}
			}
		}
	}
	return nil
}
