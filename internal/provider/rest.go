package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/jwt"
	"github.com/cubicler/cubicler/internal/naming"
	"github.com/cubicler/cubicler/internal/transform"
	"github.com/cubicler/cubicler/pkg/models"
)

// pathParamPattern matches {name} placeholders in endpoint paths.
var pathParamPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// RESTProvider exposes each configured REST endpoint as a tool. Parameter
// schemas merge path variables, a nested query object, and a nested payload
// object; execution substitutes and forwards them, injecting a JWT when the
// server configures one.
type RESTProvider struct {
	loader *config.Loader
	client *http.Client

	mu     sync.Mutex
	tokens map[string]jwt.TokenSource // keyed by server identifier
}

// NewRESTProvider creates the REST provider.
func NewRESTProvider(loader *config.Loader, timeout time.Duration) *RESTProvider {
	return &RESTProvider{
		loader: loader,
		client: &http.Client{Timeout: timeout},
		tokens: make(map[string]jwt.TokenSource),
	}
}

// Identifier implements ToolsProvider.
func (p *RESTProvider) Identifier() string { return "rest" }

// Initialize verifies the providers config loads.
func (p *RESTProvider) Initialize(ctx context.Context) error {
	_, err := p.loader.Providers(ctx)
	return err
}

// ToolsList renders every endpoint of every REST server as a tool.
func (p *RESTProvider) ToolsList(ctx context.Context) ([]models.ToolDefinition, error) {
	cfg, err := p.loader.Providers(ctx)
	if err != nil {
		return nil, err
	}

	var tools []models.ToolDefinition
	for id, server := range cfg.RESTServers {
		hash := naming.Hash6(id, server.URL)
		for name, ep := range server.Endpoints {
			tools = append(tools, models.ToolDefinition{
				Name:        hash + "_" + naming.SnakeCase(name),
				Description: fmt.Sprintf("%s %s on %s", ep.Method, ep.Path, server.Name),
				Parameters:  endpointSchema(ep),
			})
		}
	}
	return tools, nil
}

// endpointSchema merges the three parameter domains into one object schema:
// path variables (required strings), a "query" object, and a "payload"
// object.
func endpointSchema(ep models.RestEndpointConfig) map[string]any {
	props := make(map[string]any)
	var required []string

	for _, match := range pathParamPattern.FindAllStringSubmatch(ep.Path, -1) {
		name := match[1]
		props[name] = map[string]any{
			"type":        "string",
			"description": "Path parameter " + name,
		}
		required = append(required, name)
	}
	if len(ep.Parameters) > 0 {
		props["query"] = map[string]any{
			"type":       "object",
			"properties": ep.Parameters,
		}
	}
	if len(ep.Payload) > 0 {
		props["payload"] = map[string]any{
			"type":       "object",
			"properties": ep.Payload,
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolsCall decodes the name, resolves the server and endpoint, and executes
// the HTTP call.
func (p *RESTProvider) ToolsCall(ctx context.Context, name string, args map[string]any) (any, error) {
	hash, function, err := naming.DecodeName(name)
	if err != nil {
		return nil, err
	}

	cfg, err := p.loader.Providers(ctx)
	if err != nil {
		return nil, err
	}
	id, server, ok := resolveRESTServer(cfg, hash)
	if !ok {
		return nil, models.NewNotFound(models.NotFoundServer, hash)
	}

	epName, ep, ok := resolveEndpoint(server, function)
	if !ok {
		return nil, models.NewNotFound(models.NotFoundEndpoint, function)
	}

	return p.execute(ctx, id, server, epName, ep, args)
}

func resolveRESTServer(cfg *models.ProvidersConfig, hash string) (string, models.RestServerConfig, bool) {
	for id, server := range cfg.RESTServers {
		if naming.Hash6(id, server.URL) == hash {
			return id, server, true
		}
	}
	return "", models.RestServerConfig{}, false
}

func resolveEndpoint(server models.RestServerConfig, function string) (string, models.RestEndpointConfig, bool) {
	for name, ep := range server.Endpoints {
		if naming.SnakeCase(name) == function {
			return name, ep, true
		}
	}
	return "", models.RestEndpointConfig{}, false
}

func (p *RESTProvider) execute(ctx context.Context, id string, server models.RestServerConfig, epName string, ep models.RestEndpointConfig, args map[string]any) (any, error) {
	path := ep.Path
	for _, match := range pathParamPattern.FindAllStringSubmatch(ep.Path, -1) {
		param := match[1]
		value, ok := args[param]
		if !ok {
			return nil, fmt.Errorf("missing required path parameter %q for endpoint %s", param, epName)
		}
		path = strings.ReplaceAll(path, "{"+param+"}", fmt.Sprintf("%v", value))
	}
	fullURL := strings.TrimSuffix(server.URL, "/") + path

	if query, ok := args["query"].(map[string]any); ok && len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, fmt.Sprintf("%v", v))
		}
		fullURL += "?" + values.Encode()
	}

	var body io.Reader
	if payload, ok := args["payload"]; ok && methodAcceptsBody(ep.Method) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, fullURL, body)
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	for k, v := range server.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if server.Auth != nil && server.Auth.JWT != nil {
		token, err := p.tokenFor(ctx, id, server.Auth.JWT)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
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
		log.Warn().Str("server", id).Str("endpoint", epName).Int("status", resp.StatusCode).
			Msg("REST endpoint returned non-2xx")
		return nil, &models.UpstreamStatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var result any
	if len(respBody) == 0 {
		result = nil
	} else if err := json.Unmarshal(respBody, &result); err != nil {
		result = string(respBody)
	}

	if len(ep.ResponseTransform) > 0 {
		result = transform.Apply(result, ep.ResponseTransform)
	}
	return result, nil
}

func methodAcceptsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// tokenFor returns the server's token source, creating it on first use.
func (p *RESTProvider) tokenFor(ctx context.Context, id string, cfg *models.JWTAuthConfig) (string, error) {
	p.mu.Lock()
	src, ok := p.tokens[id]
	p.mu.Unlock()
	if !ok {
		var err error
		src, err = jwt.NewTokenSource(cfg, p.client)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.tokens[id] = src
		p.mu.Unlock()
	}
	return src.Token(ctx)
}

// CanHandleRequest reports whether the name decodes and its hash matches a
// configured REST server.
func (p *RESTProvider) CanHandleRequest(name string) bool {
	hash, _, err := naming.DecodeName(name)
	if err != nil {
		return false
	}
	cfg, err := p.loader.Providers(context.Background())
	if err != nil {
		return false
	}
	_, _, ok := resolveRESTServer(cfg, hash)
	return ok
}
