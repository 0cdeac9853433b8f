package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// AutoTransport attempts SSE initialization and falls back to plain HTTP on
// any failure. The decision is made once and cached for the transport's
// lifetime.
type AutoTransport struct {
	identifier string
	url        string
	headers    map[string]string
	timeout    time.Duration

	mu     sync.Mutex
	chosen Transport
}

// NewAutoTransport creates an auto transport for the given server.
func NewAutoTransport(identifier, url string, headers map[string]string, timeout time.Duration) *AutoTransport {
	return &AutoTransport{
		identifier: identifier,
		url:        url,
		headers:    headers,
		timeout:    timeout,
	}
}

// Initialize probes SSE first; on any failure it settles on HTTP.
func (t *AutoTransport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chosen != nil {
		return nil
	}

	sse := NewSSETransport(t.identifier, t.url, t.headers, t.timeout)
	if err := sse.Initialize(ctx); err == nil {
		t.chosen = sse
		log.Debug().Str("server", t.identifier).Msg("Auto transport settled on SSE")
		return nil
	} else {
		sse.Close()
		log.Debug().Str("server", t.identifier).Err(err).Msg("SSE probe failed, falling back to HTTP")
	}

	httpT := NewHTTPTransport(t.identifier, t.url, t.headers, t.timeout)
	if err := httpT.Initialize(ctx); err != nil {
		return err
	}
	t.chosen = httpT
	return nil
}

// SendRequest delegates to the settled transport.
func (t *AutoTransport) SendRequest(ctx context.Context, req *models.MCPRequest) (*models.MCPResponse, error) {
	t.mu.Lock()
	chosen := t.chosen
	t.mu.Unlock()
	if chosen == nil {
		return nil, &models.TransportError{
			Kind: models.TransportIO,
			Err:  fmt.Errorf("auto transport for %s not initialized", t.identifier),
		}
	}
	return chosen.SendRequest(ctx, req)
}

// Close closes the settled transport, if any.
func (t *AutoTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chosen == nil {
		return nil
	}
	return t.chosen.Close()
}
