package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// SSETransport keeps one long-lived event stream open for receiving and
// POSTs correlated requests to the same URL. Responses are matched to
// requests by JSON-RPC id.
type SSETransport struct {
	identifier string
	url        string
	headers    map[string]string
	client     *http.Client
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]chan *models.MCPResponse
	stream  io.Closer
	cancel  context.CancelFunc
	closed  bool
}

// NewSSETransport creates an SSE transport for the given server.
func NewSSETransport(identifier, url string, headers map[string]string, timeout time.Duration) *SSETransport {
	return &SSETransport{
		identifier: identifier,
		url:        url,
		headers:    headers,
		client:     &http.Client{}, // no client timeout: the stream is long-lived
		timeout:    timeout,
		pending:    make(map[string]chan *models.MCPResponse),
	}
}

// Initialize opens the event stream and performs the MCP initialize
// handshake. Any failure here is surfaced so callers (notably the auto
// transport) can treat transport creation as failed.
func (t *SSETransport) Initialize(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return &models.TransportError{
			Kind: models.TransportIO,
			Err:  fmt.Errorf("SSE stream for %s returned HTTP %d", t.identifier, resp.StatusCode),
		}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return &models.TransportError{
			Kind: models.TransportIO,
			Err:  fmt.Errorf("SSE stream for %s returned content type %q", t.identifier, ct),
		}
	}

	t.mu.Lock()
	t.stream = resp.Body
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(resp.Body)

	initReq := &models.MCPRequest{
		Jsonrpc: "2.0",
		Method:  "initialize",
		ID:      uuid.New().String(),
		Params: mustMarshal(map[string]any{
			"protocolVersion": models.MCPProtocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]string{"name": "Cubicler", "version": "2.0"},
		}),
	}
	initCtx, initCancel := context.WithTimeout(ctx, t.timeout)
	defer initCancel()
	if _, err := t.SendRequest(initCtx, initReq); err != nil {
		t.Close()
		return fmt.Errorf("SSE initialize for %s: %w", t.identifier, err)
	}
	return nil
}

// readLoop parses "data: <json>" frames off the stream and delivers them to
// pending requests by id.
func (t *SSETransport) readLoop(body io.ReadCloser) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var resp models.MCPResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			log.Warn().Str("server", t.identifier).Err(err).Msg("Unparseable SSE frame dropped")
			continue
		}
		if resp.ID == nil {
			continue // server-initiated notification, not a response
		}

		t.mu.Lock()
		ch, ok := t.pending[idKey(resp.ID)]
		if ok {
			delete(t.pending, idKey(resp.ID))
		}
		t.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// SendRequest POSTs the request and waits for the correlated response frame
// on the event stream.
func (t *SSETransport) SendRequest(ctx context.Context, req *models.MCPRequest) (*models.MCPResponse, error) {
	key := idKey(req.ID)
	ch := make(chan *models.MCPResponse, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, &models.TransportError{Kind: models.TransportIO, Err: fmt.Errorf("transport closed")}
	}
	t.pending[key] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &models.TransportError{
			Kind: models.TransportIO,
			Err:  fmt.Errorf("SSE POST for %s returned HTTP %d", t.identifier, resp.StatusCode),
		}
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case mcpResp := <-ch:
		return mcpResp, nil
	case <-timer.C:
		return nil, &models.TransportError{Kind: models.TransportTimeout, Err: fmt.Errorf("no SSE response for id %v", req.ID)}
	case <-ctx.Done():
		return nil, &models.TransportError{Kind: models.TransportTimeout, Err: ctx.Err()}
	}
}

// Close tears down the stream and fails any pending requests.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	if t.stream != nil {
		t.stream.Close()
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
