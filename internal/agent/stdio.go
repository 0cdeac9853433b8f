package agent

import (
	"context"

	"github.com/cubicler/cubicler/pkg/models"
)

// StdioTransport dispatches to a pooled stdio agent.
type StdioTransport struct {
	pool *Pool
}

// NewStdioTransport creates a stdio transport backed by its own pool.
func NewStdioTransport(agentID string, cfg models.AgentConfig) *StdioTransport {
	return &StdioTransport{pool: NewPool(agentID, cfg)}
}

// Dispatch implements Transport.
func (t *StdioTransport) Dispatch(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error) {
	return t.pool.Dispatch(ctx, req)
}

// Close shuts down the worker pool.
func (t *StdioTransport) Close() error {
	return t.pool.Close()
}
