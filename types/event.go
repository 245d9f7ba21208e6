package types

// AgentEventType is the event type discriminator for a streamed agent
// turn. Order within one request: zero or more (token | tool_call ->
// tool_result) pairs, exactly one result, then exactly one done.
type AgentEventType string

const (
	EventToken      AgentEventType = "token"
	EventToolCall   AgentEventType = "tool_call"
	EventToolResult AgentEventType = "tool_result"
	EventResult     AgentEventType = "result"
	EventDone       AgentEventType = "done"
)

// IsTerminal reports whether this event type ends the stream.
func (e AgentEventType) IsTerminal() bool { return e == EventDone }

// TokenPayload carries one fragment of planner output text.
type TokenPayload struct {
	Text string `json:"text"`
}

// ToolCallPayload names the tool the planner chose to invoke and its
// validated input.
type ToolCallPayload struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}

// ToolResultPayload carries a tool's output back into the transcript.
type ToolResultPayload struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

// ChatResponse is the full, terminal response of one agent-loop turn,
// surfaced both as the return value of a non-streaming Run call and as
// the payload of the stream's single "result" event.
type ChatResponse struct {
	AssistantMessage string         `json:"assistant_message"`
	RunID            string         `json:"run_id"`
	ThreadID         string         `json:"thread_id"`
	Status           CapsuleStatus  `json:"status"`
	Result           *ResultPreview `json:"result,omitempty"`
	Error            *RunnerError   `json:"error,omitempty"`
	Details          ChatDetails    `json:"details"`
}

// ChatDetails carries the compiled-artifact fields describing how a
// ChatResponse's result (if any) was produced.
type ChatDetails struct {
	DatasetID   string    `json:"dataset_id"`
	QueryMode   QueryMode `json:"query_mode"`
	PlanJSON    string    `json:"plan_json,omitempty"`
	CompiledSQL string    `json:"compiled_sql,omitempty"`
	PythonCode  string    `json:"python_code,omitempty"`
}

// AgentEvent is one entry in an agent loop's event stream. Exactly one
// of the Payload fields is set, selected by Type.
type AgentEvent struct {
	Type       AgentEventType     `json:"type"`
	RunID      string             `json:"run_id"`
	Token      *TokenPayload      `json:"token,omitempty"`
	ToolCall   *ToolCallPayload   `json:"tool_call,omitempty"`
	ToolResult *ToolResultPayload `json:"tool_result,omitempty"`
	Result     *ChatResponse      `json:"result,omitempty"`
}
