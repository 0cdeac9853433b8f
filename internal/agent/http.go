package agent

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

// HTTPTransport POSTs the AgentRequest as JSON to the agent's URL.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPTransport creates an HTTP agent transport.
func NewHTTPTransport(url string, headers map[string]string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Dispatch implements Transport.
func (t *HTTPTransport) Dispatch(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(raw))
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &models.UpstreamStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var agentResp models.AgentResponse
	if err := json.Unmarshal(body, &agentResp); err != nil {
		return nil, &models.TransportError{Kind: models.TransportParseFrame, Err: err}
	}
	if !agentResp.Valid() {
		return nil, fmt.Errorf("%w: missing type or metadata", models.ErrInvalidAgentResponse)
	}
	return &agentResp, nil
}
