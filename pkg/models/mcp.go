package models

import (
	"encoding/json"
	"fmt"
)

// MCPProtocolVersion is the protocol version negotiated on initialize.
const MCPProtocolVersion = "2024-11-05"

// MCPRequest is a JSON-RPC 2.0 request. ID may be a string or a number and
// is echoed verbatim in the response.
type MCPRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// MCPResponse is a JSON-RPC 2.0 response.
type MCPResponse struct {
	Jsonrpc string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *MCPError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

// MCPError is a JSON-RPC 2.0 error object. It implements error so providers
// can surface backend errors with their original code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// JSON-RPC error codes used by the router.
const (
	MCPErrorParse          = -32700
	MCPErrorMethodNotFound = -32601
	MCPErrorInvalidParams  = -32602
	MCPErrorInternal       = -32603
)

// MCPToolInfo is the MCP wire form of a tool in tools/list results.
type MCPToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// MCPToolCallParams are the params of a tools/call request.
type MCPToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// MCPContent is one content item in a tools/call result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCPToolResult is the result shape of a tools/call.
type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// NewMCPErrorResponse builds an error response echoing the caller's id.
func NewMCPErrorResponse(id any, code int, message string, data any) *MCPResponse {
	return &MCPResponse{
		Jsonrpc: "2.0",
		Error:   &MCPError{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

// NewMCPResultResponse builds a success response echoing the caller's id.
func NewMCPResultResponse(id any, result any) *MCPResponse {
	return &MCPResponse{Jsonrpc: "2.0", Result: result, ID: id}
}
