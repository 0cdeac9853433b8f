package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/cubicler/cubicler/internal/mcprouter"
	"github.com/cubicler/cubicler/pkg/models"
)

// DefaultMaxIterations bounds the tool-call loop of a direct agent.
const DefaultMaxIterations = 10

// ChatClient is the slice of the OpenAI client the direct transport needs.
// Narrowing it keeps tests free of real API calls.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// DirectTransport runs the agent loop in-process against an LLM provider:
// chat completion with tools, tool-calls routed back into the MCP router,
// repeat until the model answers in text or the iteration cap hits.
type DirectTransport struct {
	client        ChatClient
	router        *mcprouter.Router
	model         string
	maxIterations int
}

// NewDirectTransport creates a direct transport from the agent config. Only
// the openai provider is supported; the API key falls back to
// OPENAI_API_KEY.
func NewDirectTransport(cfg models.AgentConfig, router *mcprouter.Router) (*DirectTransport, error) {
	if cfg.Provider != "openai" {
		return nil, fmt.Errorf("unsupported direct provider %q", cfg.Provider)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("direct agent requires an API key")
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &DirectTransport{
		client:        openai.NewClient(apiKey),
		router:        router,
		model:         cfg.Model,
		maxIterations: maxIterations,
	}, nil
}

// NewDirectTransportWithClient injects a ChatClient, for tests.
func NewDirectTransportWithClient(client ChatClient, router *mcprouter.Router, model string, maxIterations int) *DirectTransport {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &DirectTransport{client: client, router: router, model: model, maxIterations: maxIterations}
}

// Dispatch implements Transport.
func (t *DirectTransport) Dispatch(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error) {
	messages := buildChatMessages(req)
	tools := buildChatTools(req.Tools)

	usedToken := 0
	usedTools := 0

	for i := 0; i < t.maxIterations; i++ {
		resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    t.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
		}
		usedToken += resp.Usage.TotalTokens

		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: completion returned no choices", models.ErrInvalidAgentResponse)
		}
		choice := resp.Choices[0].Message

		if len(choice.ToolCalls) == 0 {
			content := choice.Content
			return &models.AgentResponse{
				Timestamp: time.Now().UTC(),
				Type:      "text",
				Content:   &content,
				Metadata:  &models.ResponseMetadata{UsedToken: usedToken, UsedTools: usedTools},
			}, nil
		}

		messages = append(messages, choice)
		for _, call := range choice.ToolCalls {
			result := t.invokeTool(ctx, call)
			usedTools++
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, fmt.Errorf("agent exceeded %d tool iterations", t.maxIterations)
}

// invokeTool runs one model-requested tool call through the router. Errors
// are folded into the tool message so the model can recover.
func (t *DirectTransport) invokeTool(ctx context.Context, call openai.ToolCall) string {
	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf(`{"error": "invalid tool arguments: %s"}`, err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := t.router.CallTool(ctx, call.Function.Name, args)
	if err != nil {
		log.Warn().Str("tool", call.Function.Name).Err(err).Msg("Direct agent tool call failed")
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	switch v := result.(type) {
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// buildChatMessages converts the AgentRequest into an OpenAI conversation:
// the composed prompt as the system message, then each request message with
// the agent's own messages as assistant turns.
func buildChatMessages(req *models.AgentRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.Agent.Prompt,
	})
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Sender.ID == req.Agent.Identifier {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return messages
}

func buildChatTools(tools []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
