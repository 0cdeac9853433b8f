// Package agent implements the transports Cubicler uses to reach agents:
// HTTP POST, SSE channels with correlated response posts, pooled stdio child
// processes, and in-process "direct" LLM clients.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cubicler/cubicler/internal/mcprouter"
	"github.com/cubicler/cubicler/pkg/models"
)

// Transport delivers an AgentRequest to one agent and returns its response.
type Transport interface {
	Dispatch(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error)
}

// Closer is implemented by transports that hold processes or connections.
type Closer interface {
	Close() error
}

// Factory builds and caches one transport per agent identifier. Stdio pools
// and SSE registrations are stateful, so instances must be reused across
// dispatches.
type Factory struct {
	hub     *SSEHub
	router  *mcprouter.Router
	timeout time.Duration

	mu         sync.Mutex
	transports map[string]Transport
}

// NewFactory creates a factory. hub backs SSE agents; router backs direct
// agents' in-process tool calls.
func NewFactory(hub *SSEHub, router *mcprouter.Router, timeout time.Duration) *Factory {
	return &Factory{
		hub:        hub,
		router:     router,
		timeout:    timeout,
		transports: make(map[string]Transport),
	}
}

// TransportFor returns the cached transport for the agent, creating it on
// first use.
func (f *Factory) TransportFor(id string, cfg models.AgentConfig) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[id]; ok {
		return t, nil
	}

	t, err := f.build(id, cfg)
	if err != nil {
		return nil, err
	}
	f.transports[id] = t
	return t, nil
}

func (f *Factory) build(id string, cfg models.AgentConfig) (Transport, error) {
	switch cfg.Transport {
	case models.AgentTransportHTTP:
		return NewHTTPTransport(cfg.URL, cfg.Headers, f.timeout), nil
	case models.AgentTransportSSE:
		return NewSSETransport(f.hub, id, f.timeout), nil
	case models.AgentTransportStdio:
		return NewStdioTransport(id, cfg), nil
	case models.AgentTransportDirect:
		return NewDirectTransport(cfg, f.router)
	default:
		return nil, fmt.Errorf("unsupported agent transport %q", cfg.Transport)
	}
}

// Close shuts down every stateful transport the factory created.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for id, t := range f.transports {
		if c, ok := t.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close transport %s: %w", id, err)
			}
		}
		delete(f.transports, id)
	}
	return firstErr
}
