package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cubicler/cubicler/internal/agent"
	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/dispatch"
	"github.com/cubicler/cubicler/internal/mcprouter"
	"github.com/cubicler/cubicler/internal/provider"
	"github.com/cubicler/cubicler/pkg/models"
)

func TestComposePrompt(t *testing.T) {
	tests := []struct {
		name                       string
		base, agentP, defaultP     string
		want                       string
	}{
		{"all segments", "Base.", "Agent.", "Default.", "Base.\n\nAgent."},
		{"default when agent empty", "Base.", "", "Default.", "Base.\n\nDefault."},
		{"agent only", "", "Agent.", "", "Agent."},
		{"fallback", "", "", "", dispatch.FallbackPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dispatch.ComposePrompt(tt.base, tt.agentP, tt.defaultP); got != tt.want {
				t.Errorf("ComposePrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

type emptyServers struct{}

func (emptyServers) Servers(context.Context) ([]models.ServerInfo, error) { return nil, nil }
func (emptyServers) HashOf(context.Context, string) (string, error) {
	return "", errors.New("no servers")
}

var _ provider.ServersProvider = emptyServers{}

func setupService(t *testing.T, agentURL string) *dispatch.Service {
	t.Helper()

	agentsJSON := `{
		"basePrompt": "You are part of Cubicler.",
		"defaultPrompt": "Be concise.",
		"agents": {
			"alpha_agent": {
				"name": "Alpha",
				"description": "First agent",
				"transport": "http",
				"url": "` + agentURL + `"
			},
			"beta_agent": {
				"name": "Beta",
				"description": "Second agent",
				"transport": "http",
				"url": "http://localhost:1"
			}
		}
	}`
	path := filepath.Join(t.TempDir(), "agents.json")
	if err := os.WriteFile(path, []byte(agentsJSON), 0o644); err != nil {
		t.Fatalf("write agents file: %v", err)
	}
	t.Setenv(config.EnvAgentsList, path)

	cfg := config.Load()
	cfg.AgentsCache = config.CacheConfig{Enabled: false}
	loader := config.NewLoader(cfg)

	router := mcprouter.NewRouter(nil, "2.0.0")
	if err := router.Initialize(context.Background()); err != nil {
		t.Fatalf("router Initialize() error = %v", err)
	}
	factory := agent.NewFactory(agent.NewSSEHub(), router, 5*time.Second)
	t.Cleanup(func() { factory.Close() })

	return dispatch.NewService(loader, router, emptyServers{}, factory)
}

func agentBackend(t *testing.T, check func(req models.AgentRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.AgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode agent request: %v", err)
		}
		if check != nil {
			check(req)
		}
		content := "done"
		json.NewEncoder(w).Encode(models.AgentResponse{
			Timestamp: time.Now().UTC(),
			Type:      "text",
			Content:   &content,
			Metadata:  &models.ResponseMetadata{UsedToken: 5, UsedTools: 0},
		})
	}))
}

func TestService_DispatchNamedAgent(t *testing.T) {
	var gotPrompt string
	backend := agentBackend(t, func(req models.AgentRequest) {
		gotPrompt = req.Agent.Prompt
	})
	defer backend.Close()

	svc := setupService(t, backend.URL)
	resp, err := svc.Dispatch(context.Background(), "alpha_agent", &models.DispatchRequest{
		Messages: []models.Message{{Sender: models.MessageSender{ID: "u1"}, Type: "text", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if resp.Sender != "alpha_agent" {
		t.Errorf("sender = %q", resp.Sender)
	}
	if *resp.Content != "done" {
		t.Errorf("content = %q", *resp.Content)
	}
	if gotPrompt != "You are part of Cubicler.\n\nBe concise." {
		t.Errorf("prompt = %q", gotPrompt)
	}
}

func TestService_DispatchDefaultAgentIsFirst(t *testing.T) {
	backend := agentBackend(t, nil)
	defer backend.Close()

	svc := setupService(t, backend.URL)
	resp, err := svc.Dispatch(context.Background(), "", &models.DispatchRequest{
		Messages: []models.Message{{Sender: models.MessageSender{ID: "u1"}, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if resp.Sender != "alpha_agent" {
		t.Errorf("sender = %q, want first agent by identifier", resp.Sender)
	}
}

func TestService_EmptyMessages(t *testing.T) {
	svc := setupService(t, "http://localhost:1")
	_, err := svc.Dispatch(context.Background(), "alpha_agent", &models.DispatchRequest{})
	if !errors.Is(err, models.ErrEmptyMessages) {
		t.Fatalf("Dispatch() error = %v, want ErrEmptyMessages", err)
	}
}

func TestService_UnknownAgent(t *testing.T) {
	svc := setupService(t, "http://localhost:1")
	_, err := svc.Dispatch(context.Background(), "nope", &models.DispatchRequest{
		Messages: []models.Message{{Content: "hi"}},
	})
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Dispatch() error = %v, want NotFoundError", err)
	}
}

func TestService_TransportFailureBecomesSyntheticResponse(t *testing.T) {
	svc := setupService(t, "http://localhost:1") // nothing listens there

	resp, err := svc.Dispatch(context.Background(), "alpha_agent", &models.DispatchRequest{
		Messages: []models.Message{{Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want synthetic response instead", err)
	}
	if !strings.HasPrefix(*resp.Content, "Sorry, I encountered an error while processing your request:") {
		t.Errorf("content = %q", *resp.Content)
	}
	if resp.Metadata.UsedToken != 0 || resp.Metadata.UsedTools != 0 {
		t.Errorf("metadata = %+v, want zeroed", resp.Metadata)
	}
	if resp.Type != "text" {
		t.Errorf("type = %q", resp.Type)
	}
}
