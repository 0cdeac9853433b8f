package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// SSEEnvelope is the frame written to a connected SSE agent: the request
// plus the id the agent must echo when it POSTs its response back.
type SSEEnvelope struct {
	RequestID string               `json:"requestId"`
	Request   *models.AgentRequest `json:"request"`
}

// SSEHub tracks connected SSE agents and in-flight requests awaiting their
// correlated response POSTs. At most one channel per agent; a re-register
// replaces the previous one.
type SSEHub struct {
	mu      sync.Mutex
	agents  map[string]chan SSEEnvelope
	pending map[string]chan *models.AgentResponse
}

// NewSSEHub creates an empty hub.
func NewSSEHub() *SSEHub {
	return &SSEHub{
		agents:  make(map[string]chan SSEEnvelope),
		pending: make(map[string]chan *models.AgentResponse),
	}
}

// Register opens the agent's channel. The HTTP layer streams envelopes from
// the returned channel to the agent. The cancel func unregisters the channel
// if it is still the active one.
func (h *SSEHub) Register(agentID string) (<-chan SSEEnvelope, func()) {
	ch := make(chan SSEEnvelope, 16)

	h.mu.Lock()
	if prev, ok := h.agents[agentID]; ok {
		close(prev)
		log.Debug().Str("agent", agentID).Msg("Replacing existing agent SSE channel")
	}
	h.agents[agentID] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if h.agents[agentID] == ch {
			delete(h.agents, agentID)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Connected reports whether the agent currently has a channel.
func (h *SSEHub) Connected(agentID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.agents[agentID]
	return ok
}

// Respond delivers an agent's posted response to the dispatch awaiting it.
func (h *SSEHub) Respond(requestID string, resp *models.AgentResponse) error {
	h.mu.Lock()
	ch, ok := h.pending[requestID]
	if ok {
		delete(h.pending, requestID)
	}
	h.mu.Unlock()
	if !ok {
		return models.NewNotFound(models.NotFoundAgent, requestID)
	}
	ch <- resp
	return nil
}

// send writes the envelope to the agent's channel and registers the pending
// response slot.
func (h *SSEHub) send(agentID string, env SSEEnvelope) (chan *models.AgentResponse, error) {
	respCh := make(chan *models.AgentResponse, 1)

	h.mu.Lock()
	agentCh, ok := h.agents[agentID]
	if !ok {
		h.mu.Unlock()
		return nil, models.ErrAgentDisconnected
	}
	h.pending[env.RequestID] = respCh
	select {
	case agentCh <- env:
		h.mu.Unlock()
		return respCh, nil
	default:
		delete(h.pending, env.RequestID)
		h.mu.Unlock()
		return nil, fmt.Errorf("agent %s channel full", agentID)
	}
}

func (h *SSEHub) abandon(requestID string) {
	h.mu.Lock()
	delete(h.pending, requestID)
	h.mu.Unlock()
}

// SSETransport dispatches to an agent connected over SSE. The agent must
// already hold an open channel; a response arrives as a separate POST
// correlated by request id.
type SSETransport struct {
	hub     *SSEHub
	agentID string
	timeout time.Duration
}

// NewSSETransport creates an SSE agent transport backed by hub.
func NewSSETransport(hub *SSEHub, agentID string, timeout time.Duration) *SSETransport {
	return &SSETransport{hub: hub, agentID: agentID, timeout: timeout}
}

// Dispatch implements Transport.
func (t *SSETransport) Dispatch(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error) {
	env := SSEEnvelope{RequestID: uuid.New().String(), Request: req}
	respCh, err := t.hub.send(t.agentID, env)
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if !resp.Valid() {
			return nil, fmt.Errorf("%w: missing type or metadata", models.ErrInvalidAgentResponse)
		}
		return resp, nil
	case <-time.After(t.timeout):
		t.hub.abandon(env.RequestID)
		return nil, &models.TransportError{Kind: models.TransportTimeout, Err: fmt.Errorf("agent %s response timed out", t.agentID)}
	case <-ctx.Done():
		t.hub.abandon(env.RequestID)
		return nil, &models.TransportError{Kind: models.TransportTimeout, Err: ctx.Err()}
	}
}

// MarshalEnvelope renders the envelope as an SSE data frame.
func MarshalEnvelope(env SSEEnvelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("data: %s\n\n", raw)), nil
}
