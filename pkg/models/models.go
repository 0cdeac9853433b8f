// Package models defines the shared data model for Cubicler: configuration
// documents, the MCP JSON-RPC envelope, agent request/response payloads, and
// the error taxonomy used across services.
package models

import "time"

// ── Agent configuration ──────────────────────────────────────

// AgentTransport identifies how Cubicler reaches an agent.
type AgentTransport string

const (
	AgentTransportHTTP   AgentTransport = "http"
	AgentTransportSSE    AgentTransport = "sse"
	AgentTransportStdio  AgentTransport = "stdio"
	AgentTransportDirect AgentTransport = "direct"
)

// AgentConfig describes a single configured agent. The identifier is the key
// in AgentsConfig.Agents.
type AgentConfig struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Transport   AgentTransport `json:"transport"`
	Prompt      string         `json:"prompt,omitempty"`

	// http / sse
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// stdio
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// stdio pool knobs (seconds for the timeouts, zero means default)
	MaxWorkers     int `json:"maxWorkers,omitempty"`
	AcquireTimeout int `json:"acquireTimeout,omitempty"`
	RequestTimeout int `json:"requestTimeout,omitempty"`

	// direct
	Provider      string `json:"provider,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
	Model         string `json:"model,omitempty"`
	MaxIterations int    `json:"maxIterations,omitempty"`
}

// AgentsConfig is the document loaded from CUBICLER_AGENTS_LIST.
type AgentsConfig struct {
	BasePrompt    string                 `json:"basePrompt,omitempty"`
	DefaultPrompt string                 `json:"defaultPrompt,omitempty"`
	Agents        map[string]AgentConfig `json:"agents"`
}

// ── Provider configuration ───────────────────────────────────

// McpTransport identifies the wire mechanism for an MCP server. An empty
// value on a URL-based config means "auto" (SSE with HTTP fallback).
type McpTransport string

const (
	McpTransportHTTP  McpTransport = "http"
	McpTransportSSE   McpTransport = "sse"
	McpTransportStdio McpTransport = "stdio"
	McpTransportAuto  McpTransport = "auto"
)

// McpServerConfig describes one backend MCP server. The identifier is the
// key in ProvidersConfig.MCPServers.
type McpServerConfig struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Transport   McpTransport `json:"transport,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// PrimaryString is the stable string hashed together with the identifier to
// derive the server's function-name prefix: the URL for URL-based
// transports, the command for stdio.
func (c McpServerConfig) PrimaryString() string {
	if c.Transport == McpTransportStdio {
		return c.Command
	}
	return c.URL
}

// RestEndpointConfig describes one REST endpoint exposed as a tool.
type RestEndpointConfig struct {
	Path              string            `json:"path"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers,omitempty"`
	Parameters        map[string]any    `json:"parameters,omitempty"`
	Payload           map[string]any    `json:"payload,omitempty"`
	ResponseTransform []TransformRule   `json:"response_transform,omitempty"`
}

// JWTAuthConfig configures REST authentication: either a static token or an
// OAuth2 client-credentials flow against TokenURL.
type JWTAuthConfig struct {
	Token            string `json:"token,omitempty"`
	TokenURL         string `json:"tokenUrl,omitempty"`
	ClientID         string `json:"clientId,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty"`
	Audience         string `json:"audience,omitempty"`
	RefreshThreshold int    `json:"refreshThreshold,omitempty"` // seconds before expiry
}

// RestAuthConfig wraps the supported REST auth schemes.
type RestAuthConfig struct {
	JWT *JWTAuthConfig `json:"jwt,omitempty"`
}

// RestServerConfig describes one REST API adapted to the tool shape. The
// identifier is the key in ProvidersConfig.RESTServers.
type RestServerConfig struct {
	Name           string                        `json:"name"`
	Description    string                        `json:"description"`
	URL            string                        `json:"url"`
	DefaultHeaders map[string]string             `json:"defaultHeaders,omitempty"`
	Auth           *RestAuthConfig               `json:"auth,omitempty"`
	Endpoints      map[string]RestEndpointConfig `json:"endpoints"`
}

// ProvidersConfig is the document loaded from CUBICLER_PROVIDERS_LIST.
type ProvidersConfig struct {
	MCPServers  map[string]McpServerConfig  `json:"mcpServers,omitempty"`
	RESTServers map[string]RestServerConfig `json:"restServers,omitempty"`
}

// ── Webhook configuration ────────────────────────────────────

// WebhookAuthConfig selects webhook authentication: HMAC signature or a
// bearer token.
type WebhookAuthConfig struct {
	Type   string `json:"type"` // "signature" or "bearer"
	Secret string `json:"secret,omitempty"`
	Token  string `json:"token,omitempty"`
}

// WebhookConfig describes one inbound webhook. The identifier is the key in
// WebhooksConfig.Webhooks.
type WebhookConfig struct {
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	Auth             *WebhookAuthConfig `json:"auth,omitempty"`
	AllowedAgents    []string           `json:"allowedAgents"`
	AllowedOrigins   []string           `json:"allowedOrigins,omitempty"`
	PayloadTransform []TransformRule    `json:"payload_transform,omitempty"`
}

// WebhooksConfig is the document loaded from CUBICLER_WEBHOOKS_LIST.
type WebhooksConfig struct {
	Webhooks map[string]WebhookConfig `json:"webhooks"`
}

// ── Payload transform rules ──────────────────────────────────

// TransformRule is one declarative transform applied to a JSON payload at a
// dotted path. Rules are applied in order; missing paths are skipped.
type TransformRule struct {
	Path      string            `json:"path"`
	Transform string            `json:"transform"` // map | template | date_format | remove
	Map       map[string]string `json:"map,omitempty"`
	Template  string            `json:"template,omitempty"`
	Format    string            `json:"format,omitempty"`
}

// ── Tool and server summaries ────────────────────────────────

// ToolDefinition is a tool as exposed to agents. Name is the mangled
// "{hash6}_{snake_function}" form for provider tools, or a literal
// "cubicler_*" name for built-ins.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ServerInfo is a provider-server summary handed to agents.
type ServerInfo struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ── Agent dispatch payloads ──────────────────────────────────

// MessageSender identifies who authored a message.
type MessageSender struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message is one conversational message in a dispatch request.
type Message struct {
	Sender  MessageSender `json:"sender"`
	Type    string        `json:"type,omitempty"`
	Content string        `json:"content"`
}

// AgentInfo describes the agent a request is addressed to, including the
// fully composed prompt.
type AgentInfo struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// AgentRequest is the payload sent to an agent over any transport.
type AgentRequest struct {
	Agent    AgentInfo        `json:"agent"`
	Tools    []ToolDefinition `json:"tools"`
	Servers  []ServerInfo     `json:"servers"`
	Messages []Message        `json:"messages"`
}

// ResponseMetadata carries token and tool usage counters.
type ResponseMetadata struct {
	UsedToken int `json:"usedToken"`
	UsedTools int `json:"usedTools"`
}

// AgentResponse is the payload an agent returns. Type is "text" or "null";
// Content is null when Type is "null".
type AgentResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Content   *string           `json:"content"`
	Metadata  *ResponseMetadata `json:"metadata"`
}

// Valid reports whether the response carries the required fields.
func (r *AgentResponse) Valid() bool {
	if r == nil || r.Metadata == nil {
		return false
	}
	switch r.Type {
	case "text":
		return r.Content != nil
	case "null":
		return true
	default:
		return false
	}
}

// DispatchRequest is the inbound payload on POST /dispatch.
type DispatchRequest struct {
	Messages []Message `json:"messages"`
}

// DispatchResponse wraps an AgentResponse with the responding agent's
// identifier.
type DispatchResponse struct {
	Sender    string           `json:"sender"`
	Timestamp time.Time        `json:"timestamp"`
	Type      string           `json:"type"`
	Content   *string          `json:"content"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// WebhookTrigger is the context handed to an agent when a webhook fires.
type WebhookTrigger struct {
	Type        string    `json:"type"` // always "webhook"
	Identifier  string    `json:"identifier"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Payload     any       `json:"payload"`
}
