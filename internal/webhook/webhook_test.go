package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cubicler/cubicler/internal/agent"
	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/dispatch"
	"github.com/cubicler/cubicler/internal/mcprouter"
	"github.com/cubicler/cubicler/internal/provider"
	"github.com/cubicler/cubicler/internal/webhook"
	"github.com/cubicler/cubicler/pkg/models"
)

type emptyServers struct{}

func (emptyServers) Servers(context.Context) ([]models.ServerInfo, error) { return nil, nil }
func (emptyServers) HashOf(context.Context, string) (string, error) {
	return "", errors.New("no servers")
}

var _ provider.ServersProvider = emptyServers{}

const webhooksJSON = `{
	"webhooks": {
		"push_events": {
			"name": "Push Events",
			"description": "Repo push notifications",
			"auth": {"type": "signature", "secret": "hook-secret"},
			"allowedAgents": ["alpha_agent"],
			"payload_transform": [
				{"path": "status", "transform": "map", "map": {"1": "active"}}
			]
		},
		"alerts": {
			"name": "Alerts",
			"description": "Monitoring alerts",
			"auth": {"type": "bearer", "token": "alert-token"},
			"allowedAgents": ["alpha_agent"]
		},
		"open_hook": {
			"name": "Open Hook",
			"description": "No auth",
			"allowedAgents": ["alpha_agent"]
		}
	}
}`

func writeDoc(t *testing.T, envVar, content, name string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	t.Setenv(envVar, path)
}

// setup wires a webhook service whose dispatches land on a capture backend.
func setup(t *testing.T) (*webhook.Service, *[]models.AgentRequest) {
	t.Helper()

	var captured []models.AgentRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.AgentRequest
		json.NewDecoder(r.Body).Decode(&req)
		captured = append(captured, req)
		content := "acknowledged"
		json.NewEncoder(w).Encode(models.AgentResponse{
			Timestamp: time.Now().UTC(),
			Type:      "text",
			Content:   &content,
			Metadata:  &models.ResponseMetadata{UsedToken: 3},
		})
	}))
	t.Cleanup(backend.Close)

	agentsJSON := `{
		"agents": {
			"alpha_agent": {
				"name": "Alpha",
				"description": "Test agent",
				"transport": "http",
				"url": "` + backend.URL + `"
			}
		}
	}`
	writeDoc(t, config.EnvAgentsList, agentsJSON, "agents.json")
	writeDoc(t, config.EnvWebhooksList, webhooksJSON, "webhooks.json")

	cfg := config.Load()
	cfg.AgentsCache = config.CacheConfig{Enabled: false}
	cfg.WebhooksCache = config.CacheConfig{Enabled: false}
	loader := config.NewLoader(cfg)

	router := mcprouter.NewRouter(nil, "2.0.0")
	if err := router.Initialize(context.Background()); err != nil {
		t.Fatalf("router Initialize() error = %v", err)
	}
	factory := agent.NewFactory(agent.NewSSEHub(), router, 5*time.Second)
	t.Cleanup(func() { factory.Close() })

	dispatcher := dispatch.NewService(loader, router, emptyServers{}, factory)
	return webhook.NewService(loader, dispatcher), &captured
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// decode parses a raw delivery body the way the HTTP handler does.
func decode(t *testing.T, body []byte) any {
	t.Helper()
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return payload
}

func TestService_SignatureAuthAndTransform(t *testing.T) {
	svc, captured := setup(t)

	body := []byte(`{"status": "1", "repo": "cubicler"}`)
	resp, err := svc.Trigger(context.Background(), &webhook.Request{
		Identifier: "push_events",
		AgentID:    "alpha_agent",
		Payload:    decode(t, body),
		Body:       body,
		Headers:    map[string]string{"X-Signature-256": sign("hook-secret", body)},
	})
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if *resp.Content != "acknowledged" {
		t.Errorf("content = %q", *resp.Content)
	}

	if len(*captured) != 1 {
		t.Fatalf("agent received %d requests, want 1", len(*captured))
	}
	msg := (*captured)[0].Messages[0]
	if msg.Type != "webhook" {
		t.Errorf("message type = %q", msg.Type)
	}
	var trigger models.WebhookTrigger
	if err := json.Unmarshal([]byte(msg.Content), &trigger); err != nil {
		t.Fatalf("trigger content not JSON: %v", err)
	}
	if trigger.Type != "webhook" || trigger.Identifier != "push_events" {
		t.Errorf("trigger = %+v", trigger)
	}
	transformed := trigger.Payload.(map[string]any)
	if transformed["status"] != "active" {
		t.Errorf("payload status = %v, want transformed value", transformed["status"])
	}
}

func TestService_SignatureFailures(t *testing.T) {
	svc, _ := setup(t)
	body := []byte(`{"x": 1}`)

	t.Run("missing signature", func(t *testing.T) {
		_, err := svc.Trigger(context.Background(), &webhook.Request{
			Identifier: "push_events", AgentID: "alpha_agent", Payload: decode(t, body), Body: body,
		})
		var authErr *models.AuthError
		if !errors.As(err, &authErr) || authErr.Reason != models.AuthMissingSignature {
			t.Fatalf("error = %v, want missing signature", err)
		}
	})

	t.Run("invalid signature", func(t *testing.T) {
		_, err := svc.Trigger(context.Background(), &webhook.Request{
			Identifier: "push_events", AgentID: "alpha_agent", Payload: decode(t, body), Body: body,
			Headers: map[string]string{"X-Signature-256": "sha256=deadbeef"},
		})
		var authErr *models.AuthError
		if !errors.As(err, &authErr) || authErr.Reason != models.AuthInvalidSignature {
			t.Fatalf("error = %v, want invalid signature", err)
		}
	})

	t.Run("top-level signature accepted", func(t *testing.T) {
		_, err := svc.Trigger(context.Background(), &webhook.Request{
			Identifier: "push_events", AgentID: "alpha_agent", Payload: decode(t, body), Body: body,
			Signature: sign("hook-secret", body),
		})
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
	})

	// Senders sign the bytes they transmit. A body whose key order and
	// characters differ from Go's re-encoding (unsorted keys, unescaped &)
	// must still verify.
	t.Run("signature over bytes as sent", func(t *testing.T) {
		raw := []byte(`{"zeta":"a&b","alpha":1}`)
		_, err := svc.Trigger(context.Background(), &webhook.Request{
			Identifier: "push_events", AgentID: "alpha_agent", Payload: decode(t, raw), Body: raw,
			Headers: map[string]string{"X-Signature-256": sign("hook-secret", raw)},
		})
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
	})
}

func TestService_BearerAuth(t *testing.T) {
	svc, _ := setup(t)
	payload := map[string]any{"alert": "cpu"}

	t.Run("bearer prefix", func(t *testing.T) {
		_, err := svc.Trigger(context.Background(), &webhook.Request{
			Identifier: "alerts", AgentID: "alpha_agent", Payload: payload,
			Headers: map[string]string{"Authorization": "Bearer alert-token"},
		})
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
	})

	t.Run("raw token", func(t *testing.T) {
		_, err := svc.Trigger(context.Background(), &webhook.Request{
			Identifier: "alerts", AgentID: "alpha_agent", Payload: payload,
			Headers: map[string]string{"Authorization": "alert-token"},
		})
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := svc.Trigger(context.Background(), &webhook.Request{
			Identifier: "alerts", AgentID: "alpha_agent", Payload: payload,
		})
		var authErr *models.AuthError
		if !errors.As(err, &authErr) || authErr.Reason != models.AuthMissingAuthorization {
			t.Fatalf("error = %v, want missing authorization", err)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := svc.Trigger(context.Background(), &webhook.Request{
			Identifier: "alerts", AgentID: "alpha_agent", Payload: payload,
			Headers: map[string]string{"Authorization": "Bearer wrong"},
		})
		var authErr *models.AuthError
		if !errors.As(err, &authErr) || authErr.Reason != models.AuthInvalidToken {
			t.Fatalf("error = %v, want invalid token", err)
		}
	})
}

func TestService_NoAuthAccepts(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.Trigger(context.Background(), &webhook.Request{
		Identifier: "open_hook", AgentID: "alpha_agent", Payload: map[string]any{"ok": true},
	})
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
}

func TestService_UnknownWebhookAndAgent(t *testing.T) {
	svc, _ := setup(t)

	_, err := svc.Trigger(context.Background(), &webhook.Request{Identifier: "ghost", AgentID: "alpha_agent"})
	var nf *models.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != models.NotFoundWebhook {
		t.Fatalf("error = %v, want webhook NotFoundError", err)
	}

	_, err = svc.Trigger(context.Background(), &webhook.Request{Identifier: "open_hook", AgentID: "stranger"})
	var authErr *models.AuthError
	if !errors.As(err, &authErr) || authErr.Reason != models.AuthAgentNotAuthorized {
		t.Fatalf("error = %v, want agent-not-authorized AuthError", err)
	}
}
