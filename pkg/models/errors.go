package models

import (
	"errors"
	"fmt"
)

// NotFoundKind names the kind of entity a lookup missed.
type NotFoundKind string

const (
	NotFoundAgent    NotFoundKind = "agent"
	NotFoundWebhook  NotFoundKind = "webhook"
	NotFoundServer   NotFoundKind = "server"
	NotFoundEndpoint NotFoundKind = "endpoint"
	NotFoundTool     NotFoundKind = "tool"
)

// NotFoundError reports that a caller asked for something absent.
type NotFoundError struct {
	Kind NotFoundKind
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// NewNotFound builds a NotFoundError.
func NewNotFound(kind NotFoundKind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// AuthReason classifies webhook authentication failures.
type AuthReason string

const (
	AuthMissingSignature     AuthReason = "missing signature"
	AuthInvalidSignature     AuthReason = "invalid signature"
	AuthMissingAuthorization AuthReason = "missing authorization"
	AuthInvalidToken         AuthReason = "invalid token"
	AuthMisconfigured        AuthReason = "misconfigured auth"
	AuthAgentNotAuthorized   AuthReason = "agent not authorized"
)

// AuthError reports a webhook authentication failure.
type AuthError struct {
	Reason AuthReason
}

func (e *AuthError) Error() string {
	return "webhook auth: " + string(e.Reason)
}

// TransportErrorKind classifies transport failures.
type TransportErrorKind string

const (
	TransportTimeout    TransportErrorKind = "timeout"
	TransportIO         TransportErrorKind = "io"
	TransportParseFrame TransportErrorKind = "parse frame"
)

// TransportError reports a network, process, or framing failure.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamStatusError reports a non-2xx status from a REST backend.
type UpstreamStatusError struct {
	Status int
	Body   string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// ConfigLoadError reports an unreadable or unparseable config source.
type ConfigLoadError struct {
	Source string
	Err    error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("load config from %s: %v", e.Source, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// ConfigInvalidError reports a schema or invariant violation.
type ConfigInvalidError struct {
	Reason string
}

func (e *ConfigInvalidError) Error() string {
	return "invalid config: " + e.Reason
}

// Sentinel errors shared across packages.
var (
	// ErrInvalidFunctionName reports a malformed mangled tool name.
	ErrInvalidFunctionName = errors.New("invalid function name")

	// ErrEmptyMessages reports a dispatch request with no messages.
	ErrEmptyMessages = errors.New("messages must not be empty")

	// ErrAgentDisconnected reports an SSE agent with no registered channel.
	ErrAgentDisconnected = errors.New("agent not connected")

	// ErrInvalidAgentResponse reports an ill-formed AgentResponse.
	ErrInvalidAgentResponse = errors.New("invalid agent response")
)
