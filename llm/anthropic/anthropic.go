// Package anthropic implements llm.Provider over the Anthropic Messages
// API via github.com/anthropics/anthropic-sdk-go. It is the one concrete,
// non-stub provider in this module; any other implementation of
// llm.Provider works with the agent loop unmodified.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tabularun/tabularun/llm"
)

// messagesClient is the subset of *sdk.MessageService the provider needs,
// narrow enough to fake in tests without a live API key.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Config configures a Provider.
type Config struct {
	// APIKey authenticates with the Anthropic API. Required unless a
	// prebuilt client is supplied via NewWithClient.
	APIKey string

	// Model is the Claude model identifier sent with every request,
	// e.g. "claude-sonnet-4-20250514".
	Model string

	// MaxTokens bounds the assistant's reply. Required, positive.
	MaxTokens int

	// MaxRetries is the number of additional attempts after a retryable
	// error (rate limit, 5xx, timeout, connection reset). Default 3.
	MaxRetries int

	// RetryBaseDelay is the base of the exponential backoff between
	// retries (RetryBaseDelay * 2^attempt). Default 1s.
	RetryBaseDelay time.Duration
}

// Provider implements llm.Provider over the Anthropic Messages API.
type Provider struct {
	msg        messagesClient
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
}

var _ llm.Provider = (*Provider)(nil)

// New builds a Provider backed by a real Anthropic client.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return newWithMessagesClient(&client.Messages, cfg)
}

// NewWithClient builds a Provider over an already-constructed messages
// client, for tests or callers wiring their own HTTP transport/options.
func NewWithClient(msg messagesClient, cfg Config) (*Provider, error) {
	return newWithMessagesClient(msg, cfg)
}

func newWithMessagesClient(msg messagesClient, cfg Config) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if cfg.MaxTokens <= 0 {
		return nil, errors.New("anthropic: max tokens must be positive")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryBaseDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}
	return &Provider{
		msg:        msg,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}, nil
}

// Complete sends system + messages + tools to Claude and translates the
// response back into llm's provider-neutral shape. Retryable failures
// (rate limits, 5xx, timeouts, connection resets) are retried with
// exponential backoff up to MaxRetries times.
func (p *Provider) Complete(ctx context.Context, system string, messages []llm.Message, tools []llm.ToolSchema) (*llm.Response, error) {
	params, err := p.buildParams(system, messages, tools)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(p.retryDelay) * math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		msg, err := p.msg.New(ctx, *params)
		if err == nil {
			return translateResponse(msg)
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("anthropic: messages.new: %w", lastErr)
}

func (p *Provider) buildParams(system string, messages []llm.Message, tools []llm.ToolSchema) (*sdk.MessageNewParams, error) {
	msgs, foldedSystem, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}

	toolParams, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  msgs,
	}
	fullSystem := strings.TrimSpace(system + "\n" + foldedSystem)
	if fullSystem != "" {
		params.System = []sdk.TextBlockParam{{Text: fullSystem}}
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	return &params, nil
}

// encodeMessages converts llm.Message turns into Anthropic message
// params. RoleSystem turns are unusual (callers normally pass system
// text via Complete's explicit parameter) but are folded into a
// returned system string rather than rejected outright.
func encodeMessages(messages []llm.Message) ([]sdk.MessageParam, string, error) {
	out := make([]sdk.MessageParam, 0, len(messages))
	var foldedSystem strings.Builder

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				if foldedSystem.Len() > 0 {
					foldedSystem.WriteByte('\n')
				}
				foldedSystem.WriteString(m.Content)
			}
		case llm.RoleUser:
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewUserMessage(blocks...))
		case llm.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Input) > 0 {
					if err := json.Unmarshal(tc.Input, &input); err != nil {
						return nil, "", fmt.Errorf("anthropic: tool call %s input: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case llm.RoleTool:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolCallID, string(tr.Content), tr.IsError))
			}
			if len(blocks) == 0 {
				continue
			}
			// Tool results are sent back as a user-role message per the
			// Anthropic Messages API.
			out = append(out, sdk.NewUserMessage(blocks...))
		default:
			return nil, "", fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return out, foldedSystem.String(), nil
}

func encodeTools(tools []llm.ToolSchema) ([]sdk.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("anthropic: tool schema is missing a name")
		}
		var schemaFields map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schemaFields); err != nil {
				return nil, fmt.Errorf("anthropic: tool %q input schema: %w", t.Name, err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaFields}, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) (*llm.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &llm.Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}
	if string(msg.StopReason) == "tool_use" || len(resp.ToolCalls) > 0 {
		resp.StopReason = llm.StopToolUse
	} else {
		resp.StopReason = llm.StopText
	}
	return resp, nil
}

// isRetryable classifies transient Anthropic failures — rate limiting,
// server errors, timeouts, connection resets — as worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
