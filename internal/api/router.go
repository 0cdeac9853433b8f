// Package api assembles the public HTTP surface of the Cubicler gateway.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cubicler/cubicler/internal/api/handlers"
	"github.com/cubicler/cubicler/internal/api/middleware"
	"github.com/cubicler/cubicler/internal/config"
)

// NewRouter creates the HTTP router with all routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewAPIKeyAuth().Middleware)
	if cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-MCP-Client-Id", "X-Agent-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Health & info
	r.Get("/health", h.GetHealth)
	r.Get("/version", h.GetVersion)

	// Agents
	r.Get("/agents", h.ListAgents)

	// Dispatch
	r.Post("/dispatch", h.Dispatch)
	r.Post("/dispatch/{agentId}", h.Dispatch)

	// MCP endpoint and its SSE bridge
	r.Post("/mcp", h.PostMCP)
	r.Get("/mcp/sse/{clientId}", h.MCPSSE)

	// Agent SSE transport
	r.Get("/sse/{agentId}", h.AgentSSE)
	r.Post("/sse/response/{requestId}", h.AgentSSEResponse)

	// Webhooks
	r.Post("/webhook/{identifier}", h.Webhook)
	r.Post("/webhook/{identifier}/{agentId}", h.Webhook)

	return r
}
