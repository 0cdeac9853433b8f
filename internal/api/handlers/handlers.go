// Package handlers implements the HTTP handlers for the Cubicler gateway:
// dispatch, webhooks, the MCP endpoint with its SSE bridge, agent SSE
// channels, and health/info.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/internal/agent"
	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/dispatch"
	"github.com/cubicler/cubicler/internal/health"
	"github.com/cubicler/cubicler/internal/mcprouter"
	"github.com/cubicler/cubicler/internal/webhook"
	"github.com/cubicler/cubicler/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Config     *config.Config
	Loader     *config.Loader
	Router     *mcprouter.Router
	Bridge     *mcprouter.Bridge
	Hub        *agent.SSEHub
	Dispatcher *dispatch.Service
	Webhooks   *webhook.Service
	Health     *health.Checker
}

// New creates a Handlers instance.
func New(cfg *config.Config, loader *config.Loader, router *mcprouter.Router, bridge *mcprouter.Bridge, hub *agent.SSEHub, dispatcher *dispatch.Service, webhooks *webhook.Service, checker *health.Checker) *Handlers {
	return &Handlers{
		Config:     cfg,
		Loader:     loader,
		Router:     router,
		Bridge:     bridge,
		Hub:        hub,
		Dispatcher: dispatcher,
		Webhooks:   webhooks,
		Health:     checker,
	}
}

// ── Health & info ────────────────────────────────────────────

func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Health.Check(r.Context()))
}

func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "cubicler",
		"version": h.Config.Version,
	})
}

// ── Agents ───────────────────────────────────────────────────

type agentSummary struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Loader.Agents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	agents := make([]agentSummary, 0, len(cfg.Agents))
	for id, a := range cfg.Agents {
		agents = append(agents, agentSummary{Identifier: id, Name: a.Name, Description: a.Description})
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Identifier < agents[j].Identifier })

	respondJSON(w, http.StatusOK, map[string]any{
		"total":  len(agents),
		"agents": agents,
	})
}

// ── Dispatch ─────────────────────────────────────────────────

func (h *Handlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	var req models.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.Dispatcher.Dispatch(r.Context(), agentID, &req)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondDispatchError(w http.ResponseWriter, err error) {
	var nf *models.NotFoundError
	switch {
	case errors.Is(err, models.ErrEmptyMessages):
		respondError(w, http.StatusBadRequest, "messages must not be empty")
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, nf.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// ── MCP endpoint and SSE bridge ──────────────────────────────

// MCPClientIDHeader routes a POST's response onto the client's SSE channel.
const MCPClientIDHeader = "X-MCP-Client-Id"

func (h *Handlers) PostMCP(w http.ResponseWriter, r *http.Request) {
	var req models.MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON-RPC request")
		return
	}

	resp := h.Router.Handle(r.Context(), &req)
	if resp == nil {
		// Notification: no response body.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if clientID := r.Header.Get(MCPClientIDHeader); clientID != "" {
		if h.Bridge.Deliver(clientID, resp) {
			respondJSON(w, http.StatusAccepted, map[string]any{
				"streamed": true,
				"id":       resp.ID,
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) MCPSSE(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	frames, cancel := h.Bridge.Register(clientID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info().Str("client", clientID).Msg("MCP SSE channel opened")
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// ── Agent SSE transport endpoints ────────────────────────────

func (h *Handlers) AgentSSE(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	envelopes, cancel := h.Hub.Register(agentID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info().Str("agent", agentID).Msg("Agent SSE channel opened")
	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			frame, err := agent.MarshalEnvelope(env)
			if err != nil {
				log.Error().Str("agent", agentID).Err(err).Msg("Marshaling agent envelope failed")
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handlers) AgentSSEResponse(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	var resp models.AgentResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid agent response body")
		return
	}

	if err := h.Hub.Respond(requestID, &resp); err != nil {
		respondError(w, http.StatusNotFound, "No pending request with that id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Webhooks ─────────────────────────────────────────────────

func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		agentID = r.Header.Get("X-Agent-Id")
	}

	// Signatures are verified against the body bytes as sent, so the raw
	// form is kept alongside the decoded payload.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	resp, err := h.Webhooks.Trigger(r.Context(), &webhook.Request{
		Identifier: identifier,
		AgentID:    agentID,
		Payload:    payload,
		Body:       body,
		Headers:    headers,
	})
	if err != nil {
		respondWebhookError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondWebhookError(w http.ResponseWriter, err error) {
	var nf *models.NotFoundError
	var authErr *models.AuthError
	switch {
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, nf.Error())
	case errors.As(err, &authErr):
		if authErr.Reason == models.AuthAgentNotAuthorized {
			respondError(w, http.StatusForbidden, authErr.Error())
		} else {
			respondError(w, http.StatusUnauthorized, authErr.Error())
		}
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
