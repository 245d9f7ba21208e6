// Package llm defines the pluggable language-model provider boundary:
// a prompt plus a set of tool schemas in, either assistant text or a
// set of tool-call requests out. Package llm/anthropic is the one
// concrete implementation; any other provider satisfying Provider
// works with the agent loop unmodified.
package llm

import (
	"context"
	"encoding/json"
)

// Role is the speaker of one message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolResult is a completed tool call folded back into the
// conversation as a tool-role message, addressed by ToolCallID.
type ToolResult struct {
	ToolCallID string
	Content    json.RawMessage
	IsError    bool
}

// Message is one turn of the conversation presented to the provider.
// An assistant turn that requested tools carries those requests in
// ToolCalls (echoed back verbatim from a prior Response) alongside any
// Content; a tool turn carries its results in ToolResults.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolSchema describes one callable tool: its name, a natural-language
// description the model uses to decide when to call it, and its input
// shape as a JSON Schema document.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// StopReason classifies why a Complete call returned.
type StopReason string

const (
	// StopText means the model produced a final text reply with no
	// tool calls — a conversational turn.
	StopText StopReason = "text"
	// StopToolUse means the model requested one or more tool calls.
	StopToolUse StopReason = "tool_use"
)

// Response is one provider turn.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
}

// Provider is the boundary every language-model backend must satisfy.
type Provider interface {
	// Complete sends the conversation so far plus the available tool
	// schemas and returns the model's next turn.
	Complete(ctx context.Context, system string, messages []Message, tools []ToolSchema) (*Response, error)
}
