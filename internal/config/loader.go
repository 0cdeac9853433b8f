package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// Loader fetches and caches the three configuration documents. Sources are
// env-var values: an http(s) URL is fetched with a JSON Accept header and a
// bounded timeout, anything else is read as a local file path.
type Loader struct {
	cfg    *Config
	client *http.Client

	agents    cache[models.AgentsConfig]
	providers cache[models.ProvidersConfig]
	webhooks  cache[models.WebhooksConfig]
}

// NewLoader creates a Loader using cfg for cache TTLs and fetch timeouts.
func NewLoader(cfg *Config) *Loader {
	return &Loader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.CallTimeout},
	}
}

// cache is a read-mostly TTL cache for one config document. A hit skips
// validation; the document was validated when it entered the cache.
type cache[T any] struct {
	mu       sync.RWMutex
	value    *T
	key      string
	loadedAt time.Time
}

func (c *cache[T]) get(key string, ttl time.Duration) (*T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil || c.key != key {
		return nil, false
	}
	if time.Since(c.loadedAt) > ttl {
		return nil, false
	}
	return c.value, true
}

func (c *cache[T]) put(key string, value *T) {
	c.mu.Lock()
	c.value = value
	c.key = key
	c.loadedAt = time.Now()
	c.mu.Unlock()
}

// Agents loads the agents document from CUBICLER_AGENTS_LIST.
func (l *Loader) Agents(ctx context.Context) (*models.AgentsConfig, error) {
	return loadDocument(ctx, l, EnvAgentsList, "agents", l.cfg.AgentsCache, &l.agents, validateAgents)
}

// Providers loads the providers document from CUBICLER_PROVIDERS_LIST.
func (l *Loader) Providers(ctx context.Context) (*models.ProvidersConfig, error) {
	return loadDocument(ctx, l, EnvProvidersList, "providers", l.cfg.ProvidersCache, &l.providers, validateProviders)
}

// Webhooks loads the webhooks document from CUBICLER_WEBHOOKS_LIST.
func (l *Loader) Webhooks(ctx context.Context) (*models.WebhooksConfig, error) {
	return loadDocument(ctx, l, EnvWebhooksList, "webhooks", l.cfg.WebhooksCache, &l.webhooks, validateWebhooks)
}

func loadDocument[T any](ctx context.Context, l *Loader, envVar, label string, cc CacheConfig, c *cache[T], validate func(*T) error) (*T, error) {
	source := os.Getenv(envVar)
	if source == "" {
		return nil, &models.ConfigLoadError{
			Source: envVar,
			Err:    fmt.Errorf("environment variable %s is not set", envVar),
		}
	}

	if cc.Enabled {
		if v, ok := c.get(source, cc.TTL); ok {
			return v, nil
		}
	}

	raw, err := l.fetch(ctx, source)
	if err != nil {
		return nil, &models.ConfigLoadError{Source: source, Err: err}
	}

	value := new(T)
	if err := json.Unmarshal(raw, value); err != nil {
		return nil, &models.ConfigLoadError{Source: source, Err: fmt.Errorf("parse JSON: %w", err)}
	}

	if err := validate(value); err != nil {
		return nil, err
	}

	if cc.Enabled {
		c.put(source, value)
	}
	log.Debug().Str("document", label).Str("source", source).Msg("Config document loaded")
	return value, nil
}

// fetch reads the raw document bytes from a URL or local file.
func (l *Loader) fetch(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.fetchURL(ctx, source)
	}
	return os.ReadFile(source)
}

// fetchURL GETs the document with up to 3 attempts and exponential backoff.
func (l *Loader) fetchURL(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("remote config returned status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return body, nil
}
