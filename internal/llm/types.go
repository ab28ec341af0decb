// Package llm provides the completion service client.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the completion service could not be reached
// or refused the request (network failure, bad credentials). Callers
// branch on it with errors.Is to distinguish collaborator outage from
// programming errors.
var ErrUnavailable = errors.New("completion service unavailable")

// Message represents a chat message for the model.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool invocation requested by the model.
// The ID is provider-assigned and correlates the eventual tool result.
// Arguments are model-generated and untrusted; tools validate them.
type ToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the provider-neutral response from a completion call.
// Wire format conversion happens at the provider boundary (azure.go).
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	// Token usage when the provider reports it.
	InputTokens  int
	OutputTokens int
}

// StreamCallback receives incremental text fragments during a
// streaming completion. It is called from the goroutine reading the
// response body; implementations must not block indefinitely.
type StreamCallback func(token string)

// Client is the interface to the hosted completion service.
type Client interface {
	// Chat sends the full message sequence and optional tool schemas,
	// returning the assistant turn (text and/or tool calls).
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream sends the message sequence without tools and streams
	// text fragments to callback until the provider signals completion.
	ChatStream(ctx context.Context, messages []Message, callback StreamCallback) (*ChatResponse, error)

	// Ping verifies the service is reachable with the configured credentials.
	Ping(ctx context.Context) error
}
