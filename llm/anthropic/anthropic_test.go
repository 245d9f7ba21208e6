package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tabularun/tabularun/llm"
)

type fakeMessagesClient struct {
	lastParams sdk.MessageNewParams
	calls      int
	responses  []*sdk.Message
	errs       []error
}

func (f *fakeMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	i := f.calls
	f.calls++
	var resp *sdk.Message
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func textMessage(text string) *sdk.Message {
	return &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		StopReason: "end_turn",
	}
}

func TestComplete_TextOnlyResponse(t *testing.T) {
	fake := &fakeMessagesClient{responses: []*sdk.Message{textMessage("hello there")}}
	p, err := NewWithClient(fake, Config{Model: "claude-sonnet-4-20250514", MaxTokens: 256})
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}

	resp, err := p.Complete(context.Background(), "be terse", []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("Text = %q, want %q", resp.Text, "hello there")
	}
	if resp.StopReason != llm.StopText {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, llm.StopText)
	}
	if len(fake.lastParams.System) != 1 || fake.lastParams.System[0].Text != "be terse" {
		t.Errorf("System = %+v, want [be terse]", fake.lastParams.System)
	}
}

func TestComplete_ToolUseResponse(t *testing.T) {
	msg := &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", ID: "call_1", Name: "list_datasets", Input: json.RawMessage(`{}`)},
		},
		StopReason: "tool_use",
	}
	fake := &fakeMessagesClient{responses: []*sdk.Message{msg}}
	p, err := NewWithClient(fake, Config{Model: "claude-sonnet-4-20250514", MaxTokens: 256})
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}

	resp, err := p.Complete(context.Background(), "", []llm.Message{
		{Role: llm.RoleUser, Content: "what datasets exist?"},
	}, []llm.ToolSchema{
		{Name: "list_datasets", Description: "list datasets", InputSchema: json.RawMessage(`{"type":"object"}`)},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.StopReason != llm.StopToolUse {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, llm.StopToolUse)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "list_datasets" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if len(fake.lastParams.Tools) != 1 {
		t.Fatalf("expected one tool encoded, got %d", len(fake.lastParams.Tools))
	}
}

func TestComplete_EncodesToolResultsAsUserMessage(t *testing.T) {
	fake := &fakeMessagesClient{responses: []*sdk.Message{textMessage("done")}}
	p, err := NewWithClient(fake, Config{Model: "claude-sonnet-4-20250514", MaxTokens: 256})
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}

	_, err = p.Complete(context.Background(), "", []llm.Message{
		{Role: llm.RoleUser, Content: "how many rows?"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "execute_sql", Input: json.RawMessage(`{"sql":"select 1"}`)},
		}},
		{Role: llm.RoleTool, ToolResults: []llm.ToolResult{
			{ToolCallID: "call_1", Content: json.RawMessage(`{"rows":1}`)},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(fake.lastParams.Messages) != 3 {
		t.Fatalf("expected 3 encoded messages, got %d", len(fake.lastParams.Messages))
	}
}

func TestComplete_RetriesOnRateLimitThenSucceeds(t *testing.T) {
	fake := &fakeMessagesClient{
		responses: []*sdk.Message{nil, textMessage("ok")},
		errs:      []error{errors.New("429 too many requests"), nil},
	}
	p, err := NewWithClient(fake, Config{Model: "claude-sonnet-4-20250514", MaxTokens: 256, RetryBaseDelay: 1})
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}

	resp, err := p.Complete(context.Background(), "", []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q, want ok", resp.Text)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2", fake.calls)
	}
}

func TestComplete_NonRetryableErrorReturnsImmediately(t *testing.T) {
	fake := &fakeMessagesClient{errs: []error{errors.New("invalid request: bad schema")}}
	p, err := NewWithClient(fake, Config{Model: "claude-sonnet-4-20250514", MaxTokens: 256, RetryBaseDelay: 1})
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}

	_, err = p.Complete(context.Background(), "", []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", fake.calls)
	}
}

func TestNewWithClient_RequiresModel(t *testing.T) {
	if _, err := NewWithClient(&fakeMessagesClient{}, Config{MaxTokens: 10}); err == nil {
		t.Fatal("expected error for missing model")
	}
}
