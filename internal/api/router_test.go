package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cubicler/cubicler/internal/agent"
	"github.com/cubicler/cubicler/internal/api"
	"github.com/cubicler/cubicler/internal/api/handlers"
	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/dispatch"
	"github.com/cubicler/cubicler/internal/health"
	"github.com/cubicler/cubicler/internal/mcprouter"
	"github.com/cubicler/cubicler/internal/provider"
	"github.com/cubicler/cubicler/internal/webhook"
	"github.com/cubicler/cubicler/pkg/models"
)

func writeDoc(t *testing.T, envVar, content, name string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	t.Setenv(envVar, path)
}

// newTestServer wires the full HTTP surface over an echoing HTTP agent.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	agentBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := "agent says hi"
		json.NewEncoder(w).Encode(models.AgentResponse{
			Timestamp: time.Now().UTC(),
			Type:      "text",
			Content:   &content,
			Metadata:  &models.ResponseMetadata{UsedToken: 7},
		})
	}))
	t.Cleanup(agentBackend.Close)

	writeDoc(t, config.EnvAgentsList, `{
		"agents": {
			"alpha_agent": {
				"name": "Alpha",
				"description": "Test agent",
				"transport": "http",
				"url": "`+agentBackend.URL+`"
			}
		}
	}`, "agents.json")
	writeDoc(t, config.EnvProvidersList, `{"mcpServers": {}, "restServers": {}}`, "providers.json")
	writeDoc(t, config.EnvWebhooksList, `{
		"webhooks": {
			"alerts": {
				"name": "Alerts",
				"description": "Monitoring",
				"auth": {"type": "bearer", "token": "alert-token"},
				"allowedAgents": ["alpha_agent"]
			}
		}
	}`, "webhooks.json")

	cfg := config.Load()
	cfg.AgentsCache = config.CacheConfig{Enabled: false}
	cfg.ProvidersCache = config.CacheConfig{Enabled: false}
	cfg.WebhooksCache = config.CacheConfig{Enabled: false}
	loader := config.NewLoader(cfg)

	registry := provider.NewRegistry(loader)
	internal := provider.NewInternalProvider()
	internal.SetServersProvider(registry)
	mcpProv := provider.NewMCPProvider(loader, cfg.CallTimeout)
	restProv := provider.NewRESTProvider(loader, cfg.CallTimeout)
	internal.SetProviders([]provider.ToolsProvider{mcpProv, restProv})

	router := mcprouter.NewRouter([]provider.ToolsProvider{internal, mcpProv, restProv}, cfg.Version)
	if err := router.Initialize(context.Background()); err != nil {
		t.Fatalf("router Initialize() error = %v", err)
	}

	bridge := mcprouter.NewBridge()
	hub := agent.NewSSEHub()
	factory := agent.NewFactory(hub, router, cfg.CallTimeout)
	t.Cleanup(func() { factory.Close() })

	dispatcher := dispatch.NewService(loader, router, registry, factory)
	webhooks := webhook.NewService(loader, dispatcher)
	checker := health.NewChecker(loader, router)

	h := handlers.New(cfg, loader, router, bridge, hub, dispatcher, webhooks, checker)
	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestEndpoints_HealthAndVersion(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if report.Status != "healthy" {
		t.Errorf("health status = %q: %+v", report.Status, report.Services)
	}

	vresp, err := http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version: %v", err)
	}
	defer vresp.Body.Close()
	var version map[string]string
	json.NewDecoder(vresp.Body).Decode(&version)
	if version["service"] != "cubicler" {
		t.Errorf("version = %v", version)
	}
}

func TestEndpoints_ListAgents(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/agents")
	if err != nil {
		t.Fatalf("GET /agents: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Total  int `json:"total"`
		Agents []struct {
			Identifier string `json:"identifier"`
		} `json:"agents"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Total != 1 || body.Agents[0].Identifier != "alpha_agent" {
		t.Errorf("agents = %+v", body)
	}
}

func TestEndpoints_Dispatch(t *testing.T) {
	srv := newTestServer(t)

	t.Run("success", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/dispatch",
			`{"messages":[{"sender":{"id":"u1"},"type":"text","content":"hello"}]}`, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		var dr models.DispatchResponse
		json.Unmarshal(body, &dr)
		if dr.Sender != "alpha_agent" || *dr.Content != "agent says hi" {
			t.Errorf("response = %s", body)
		}
	})

	t.Run("empty messages", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/dispatch", `{"messages":[]}`, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("unknown agent", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/dispatch/ghost",
			`{"messages":[{"sender":{"id":"u1"},"content":"hi"}]}`, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/dispatch", `{not json`, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestEndpoints_MCP(t *testing.T) {
	srv := newTestServer(t)

	t.Run("initialize", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mcp",
			`{"jsonrpc":"2.0","method":"initialize","id":1}`, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), models.MCPProtocolVersion) {
			t.Errorf("body = %s", body)
		}
	})

	t.Run("tools/list includes builtins", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mcp",
			`{"jsonrpc":"2.0","method":"tools/list","id":2}`, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), "cubicler_available_servers") {
			t.Errorf("body missing builtins: %s", body)
		}
	})

	t.Run("unknown method is JSON-RPC error with 200", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/mcp",
			`{"jsonrpc":"2.0","method":"resources/list","id":3}`, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200 with JSON-RPC error", resp.StatusCode)
		}
		if !strings.Contains(string(body), "-32601") {
			t.Errorf("body = %s", body)
		}
	})

	t.Run("notification", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/mcp",
			`{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("status = %d, want 204", resp.StatusCode)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/mcp", `{broken`, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestEndpoints_MCPSSEBridge(t *testing.T) {
	srv := newTestServer(t)

	// Open the SSE channel first.
	sseReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/mcp/sse/client-1", nil)
	sseResp, err := http.DefaultClient.Do(sseReq)
	if err != nil {
		t.Fatalf("open SSE channel: %v", err)
	}
	defer sseResp.Body.Close()
	if ct := sseResp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	frames := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(sseResp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				frames <- strings.TrimSpace(strings.TrimPrefix(line, "data: "))
				return
			}
		}
	}()

	// Bridged POST: synchronous 202, real response on the stream.
	time.Sleep(100 * time.Millisecond) // let the channel register
	resp, body := postJSON(t, srv.URL+"/mcp",
		`{"jsonrpc":"2.0","method":"ping","id":"p1"}`,
		map[string]string{"X-MCP-Client-Id": "client-1"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"streamed":true`) {
		t.Errorf("body = %s", body)
	}

	select {
	case frame := <-frames:
		var rpcResp models.MCPResponse
		if err := json.Unmarshal([]byte(frame), &rpcResp); err != nil {
			t.Fatalf("frame not JSON: %v", err)
		}
		if rpcResp.ID != "p1" {
			t.Errorf("frame id = %v", rpcResp.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame arrived on the SSE channel")
	}
}

func TestEndpoints_Webhook(t *testing.T) {
	srv := newTestServer(t)
	payload := `{"alert":"cpu"}`

	t.Run("success", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/webhook/alerts/alpha_agent", payload,
			map[string]string{"Authorization": "Bearer alert-token"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
	})

	t.Run("missing auth", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/webhook/alerts/alpha_agent", payload, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("agent not allowed", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/webhook/alerts/stranger", payload,
			map[string]string{"Authorization": "Bearer alert-token"})
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
	})

	t.Run("unknown webhook", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/webhook/ghost/alpha_agent", payload, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestEndpoints_APIKeyAuth(t *testing.T) {
	t.Setenv("CUBICLER_API_KEYS", "secret-key")
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/dispatch",
		`{"messages":[{"sender":{"id":"u1"},"content":"hi"}]}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated dispatch status = %d, want 401", resp.StatusCode)
	}

	resp2, _ := postJSON(t, srv.URL+"/dispatch",
		`{"messages":[{"sender":{"id":"u1"},"content":"hi"}]}`,
		map[string]string{"X-API-Key": "secret-key"})
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("authenticated dispatch status = %d, want 200", resp2.StatusCode)
	}

	hresp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want public 200", hresp.StatusCode)
	}
}
