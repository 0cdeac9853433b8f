// Package webhook authenticates inbound webhooks and turns them into agent
// dispatches carrying a trigger context.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/dispatch"
	"github.com/cubicler/cubicler/internal/transform"
	"github.com/cubicler/cubicler/pkg/models"
)

// Request is one inbound webhook delivery. Body holds the delivery bytes
// exactly as the sender transmitted them; signatures are computed over those
// bytes, never over a re-encoding of Payload.
type Request struct {
	Identifier string
	AgentID    string
	Payload    any
	Body       []byte
	Headers    map[string]string
	Signature  string
}

// Service authenticates and dispatches webhooks.
type Service struct {
	loader     *config.Loader
	dispatcher *dispatch.Service
}

// NewService creates the webhook service.
func NewService(loader *config.Loader, dispatcher *dispatch.Service) *Service {
	return &Service{loader: loader, dispatcher: dispatcher}
}

// Trigger validates the delivery and dispatches the trigger context to the
// requested agent.
func (s *Service) Trigger(ctx context.Context, req *Request) (*models.DispatchResponse, error) {
	cfg, err := s.loader.Webhooks(ctx)
	if err != nil {
		return nil, err
	}
	hook, ok := cfg.Webhooks[req.Identifier]
	if !ok {
		return nil, models.NewNotFound(models.NotFoundWebhook, req.Identifier)
	}

	if !allowed(hook.AllowedAgents, req.AgentID) {
		return nil, &models.AuthError{Reason: models.AuthAgentNotAuthorized}
	}

	if err := authenticate(&hook, req); err != nil {
		return nil, err
	}

	payload := req.Payload
	if len(hook.PayloadTransform) > 0 {
		payload = transform.Apply(payload, hook.PayloadTransform)
	}

	trigger := models.WebhookTrigger{
		Type:        "webhook",
		Identifier:  req.Identifier,
		Name:        hook.Name,
		Description: hook.Description,
		TriggeredAt: time.Now().UTC(),
		Payload:     payload,
	}
	raw, err := json.Marshal(trigger)
	if err != nil {
		return nil, err
	}

	log.Info().Str("webhook", req.Identifier).Str("agent", req.AgentID).Msg("Webhook triggered")
	return s.dispatcher.Dispatch(ctx, req.AgentID, &models.DispatchRequest{
		Messages: []models.Message{{
			Sender:  models.MessageSender{ID: "webhook:" + req.Identifier, Name: hook.Name},
			Type:    "webhook",
			Content: string(raw),
		}},
	})
}

func allowed(agents []string, agentID string) bool {
	for _, a := range agents {
		if a == agentID {
			return true
		}
	}
	return false
}

// authenticate enforces the webhook's configured auth scheme. All token and
// signature comparisons are constant-time.
func authenticate(hook *models.WebhookConfig, req *Request) error {
	if hook.Auth == nil {
		return nil
	}
	switch hook.Auth.Type {
	case "signature":
		return checkSignature(hook.Auth.Secret, req)
	case "bearer":
		return checkBearer(hook.Auth.Token, req)
	default:
		return &models.AuthError{Reason: models.AuthMisconfigured}
	}
}

func checkSignature(secret string, req *Request) error {
	if secret == "" {
		return &models.AuthError{Reason: models.AuthMisconfigured}
	}

	given := req.Signature
	if v, ok := headerLookup(req.Headers, "x-signature-256"); ok {
		given = v
	}
	if given == "" {
		return &models.AuthError{Reason: models.AuthMissingSignature}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(req.Body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(given)) != 1 {
		return &models.AuthError{Reason: models.AuthInvalidSignature}
	}
	return nil
}

func checkBearer(token string, req *Request) error {
	if token == "" {
		return &models.AuthError{Reason: models.AuthMisconfigured}
	}

	auth, ok := headerLookup(req.Headers, "authorization")
	if !ok || auth == "" {
		return &models.AuthError{Reason: models.AuthMissingAuthorization}
	}
	given := strings.TrimPrefix(auth, "Bearer ")

	if subtle.ConstantTimeCompare([]byte(token), []byte(given)) != 1 {
		return &models.AuthError{Reason: models.AuthInvalidToken}
	}
	return nil
}

func headerLookup(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
