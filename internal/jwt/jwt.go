// Package jwt provides bearer tokens for REST providers: either a static
// configured token or an OAuth2 client-credentials flow with refresh.
package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// DefaultRefreshThreshold is subtracted from expires_in when the config does
// not set one, so tokens are refreshed before they actually lapse.
const DefaultRefreshThreshold = 60 * time.Second

// TokenSource yields a bearer token for outbound REST calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// NewTokenSource builds a TokenSource from a JWT auth config: a static
// source when cfg.Token is set, otherwise an OAuth2 client-credentials
// source against cfg.TokenURL.
func NewTokenSource(cfg *models.JWTAuthConfig, client *http.Client) (TokenSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("jwt auth config is nil")
	}
	if cfg.Token != "" {
		return staticSource{token: cfg.Token}, nil
	}
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("jwt auth requires either token or tokenUrl+clientId")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	threshold := DefaultRefreshThreshold
	if cfg.RefreshThreshold > 0 {
		threshold = time.Duration(cfg.RefreshThreshold) * time.Second
	}
	return &clientCredentialsSource{cfg: cfg, client: client, threshold: threshold}, nil
}

type staticSource struct {
	token string
}

func (s staticSource) Token(context.Context) (string, error) { return s.token, nil }

// clientCredentialsSource caches the fetched token until
// expires_in - refreshThreshold has elapsed. golang.org/x/oauth2 is not used
// here because its expiry delta is fixed while refreshThreshold is
// per-server configuration.
type clientCredentialsSource struct {
	cfg       *models.JWTAuthConfig
	client    *http.Client
	threshold time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func (s *clientCredentialsSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry) {
		return s.token, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expiry = time.Now().Add(expiresIn - s.threshold)
	log.Debug().Str("token_url", s.cfg.TokenURL).Dur("expires_in", expiresIn).Msg("OAuth2 token refreshed")
	return token, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// fetch runs the client-credentials flow with up to 3 attempts.
func (s *clientCredentialsSource) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}
	if s.cfg.Audience != "" {
		form.Set("audience", s.cfg.Audience)
	}
	encoded := form.Encode()

	var parsed tokenResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(encoded))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("parse token response: %w", err))
		}
		if parsed.AccessToken == "" {
			return backoff.Permanent(fmt.Errorf("token response missing access_token"))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", 0, fmt.Errorf("fetch oauth2 token: %w", err)
	}

	expiresIn := time.Duration(parsed.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return parsed.AccessToken, expiresIn, nil
}
