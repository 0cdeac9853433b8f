package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cubicler/cubicler/pkg/models"
)

// HTTPTransport POSTs JSON-RPC requests to a backend MCP server over plain
// HTTP. The backend is contacted lazily, so Initialize is a no-op.
type HTTPTransport struct {
	identifier string
	url        string
	headers    map[string]string
	client     *http.Client
}

// NewHTTPTransport creates an HTTP transport for the given server.
func NewHTTPTransport(identifier, url string, headers map[string]string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		identifier: identifier,
		url:        url,
		headers:    headers,
		client:     &http.Client{Timeout: timeout},
	}
}

// Initialize implements Transport. HTTP needs no handshake.
func (t *HTTPTransport) Initialize(context.Context) error { return nil }

// SendRequest POSTs the request and decodes the JSON-RPC response. A non-2xx
// status becomes an MCP error response with code -32603, not a Go error.
func (t *HTTPTransport) SendRequest(ctx context.Context, req *models.MCPRequest) (*models.MCPResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &models.TransportError{Kind: models.TransportTimeout, Err: err}
		}
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.NewMCPErrorResponse(req.ID, models.MCPErrorInternal,
			fmt.Sprintf("MCP server %s returned HTTP %d", t.identifier, resp.StatusCode),
			string(respBody)), nil
	}

	var mcpResp models.MCPResponse
	if err := json.Unmarshal(respBody, &mcpResp); err != nil {
		return nil, &models.TransportError{Kind: models.TransportParseFrame, Err: err}
	}
	return &mcpResp, nil
}

// Close implements Transport.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
