// Package dispatch orchestrates a conversation turn: resolve the agent,
// compose its prompt, assemble tools and server summaries, invoke the
// transport, and normalize the outcome.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/internal/agent"
	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/mcprouter"
	"github.com/cubicler/cubicler/internal/provider"
	"github.com/cubicler/cubicler/pkg/models"
)

// FallbackPrompt is used when no prompt segment is configured at all.
const FallbackPrompt = "You are a helpful AI assistant powered by Cubicler."

// Service runs dispatches.
type Service struct {
	loader  *config.Loader
	router  *mcprouter.Router
	servers provider.ServersProvider
	factory *agent.Factory
}

// NewService creates the dispatch service.
func NewService(loader *config.Loader, router *mcprouter.Router, servers provider.ServersProvider, factory *agent.Factory) *Service {
	return &Service{loader: loader, router: router, servers: servers, factory: factory}
}

// Dispatch sends the conversation to the identified agent, or the first
// configured agent when agentID is empty. Agent-side failures never surface
// as errors: they become a synthetic apology response.
func (s *Service) Dispatch(ctx context.Context, agentID string, req *models.DispatchRequest) (*models.DispatchResponse, error) {
	if len(req.Messages) == 0 {
		return nil, models.ErrEmptyMessages
	}

	agentsCfg, err := s.loader.Agents(ctx)
	if err != nil {
		return nil, err
	}

	id, cfg, err := resolveAgent(agentsCfg, agentID)
	if err != nil {
		return nil, err
	}

	prompt := ComposePrompt(agentsCfg.BasePrompt, cfg.Prompt, agentsCfg.DefaultPrompt)

	tools, err := s.router.ToolsList(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Collecting tools for dispatch failed, continuing with none")
		tools = nil
	}
	servers, err := s.servers.Servers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Collecting server summaries for dispatch failed, continuing with none")
		servers = nil
	}

	agentReq := &models.AgentRequest{
		Agent: models.AgentInfo{
			Identifier:  id,
			Name:        cfg.Name,
			Description: cfg.Description,
			Prompt:      prompt,
		},
		Tools:    tools,
		Servers:  servers,
		Messages: req.Messages,
	}

	transport, err := s.factory.TransportFor(id, cfg)
	if err != nil {
		return syntheticResponse(id, err), nil
	}

	resp, err := transport.Dispatch(ctx, agentReq)
	if err != nil {
		log.Warn().Str("agent", id).Err(err).Msg("Agent dispatch failed")
		return syntheticResponse(id, err), nil
	}

	return &models.DispatchResponse{
		Sender:    id,
		Timestamp: resp.Timestamp,
		Type:      resp.Type,
		Content:   resp.Content,
		Metadata:  *resp.Metadata,
	}, nil
}

// resolveAgent picks the named agent, or the first by identifier order when
// no name is given.
func resolveAgent(cfg *models.AgentsConfig, agentID string) (string, models.AgentConfig, error) {
	if agentID != "" {
		agentCfg, ok := cfg.Agents[agentID]
		if !ok {
			return "", models.AgentConfig{}, models.NewNotFound(models.NotFoundAgent, agentID)
		}
		return agentID, agentCfg, nil
	}

	if len(cfg.Agents) == 0 {
		return "", models.AgentConfig{}, models.NewNotFound(models.NotFoundAgent, "(default)")
	}
	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0], cfg.Agents[ids[0]], nil
}

// ComposePrompt joins the configured prompt segments with blank lines: base
// prompt first, then the agent's own prompt or the shared default. Empty
// segments are dropped; an empty result falls back to FallbackPrompt.
func ComposePrompt(basePrompt, agentPrompt, defaultPrompt string) string {
	var parts []string
	if basePrompt != "" {
		parts = append(parts, basePrompt)
	}
	if agentPrompt != "" {
		parts = append(parts, agentPrompt)
	} else if defaultPrompt != "" {
		parts = append(parts, defaultPrompt)
	}
	if len(parts) == 0 {
		return FallbackPrompt
	}
	return strings.Join(parts, "\n\n")
}

func syntheticResponse(agentID string, err error) *models.DispatchResponse {
	content := fmt.Sprintf("Sorry, I encountered an error while processing your request: %s", err.Error())
	return &models.DispatchResponse{
		Sender:    agentID,
		Timestamp: time.Now().UTC(),
		Type:      "text",
		Content:   &content,
		Metadata:  models.ResponseMetadata{},
	}
}
