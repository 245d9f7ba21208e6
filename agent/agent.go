// Package agent implements the conversational analytics loop: the
// fast path that sends a literal "SQL: ..." / "PYTHON: ..." message
// straight to the sandbox, and the planner path that lets a language
// model call tools (package agent/tools) until it produces a final
// answer. Both paths are modeled as a state machine — planning,
// awaiting_tool, awaiting_llm, terminal — that feeds a single event
// channel; Run drains it into one ChatResponse, Stream hands the
// channel to the caller directly.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tabularun/tabularun/agent/tools"
	"github.com/tabularun/tabularun/capsule"
	"github.com/tabularun/tabularun/executor"
	"github.com/tabularun/tabularun/llm"
	"github.com/tabularun/tabularun/policy"
	"github.com/tabularun/tabularun/registry"
	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/threadstore"
	"github.com/tabularun/tabularun/types"
)

// EventType classifies one entry in the event stream a run emits.
type EventType string

const (
	// EventToken is a fragment (here, the whole turn at once — the
	// provider boundary is non-streaming) of assistant text.
	EventToken EventType = "token"
	// EventToolCall announces a tool invocation about to run.
	EventToolCall EventType = "tool_call"
	// EventToolResult carries a tool invocation's output.
	EventToolResult EventType = "tool_result"
	// EventResult carries the full ChatResponse, exactly once,
	// immediately before EventDone.
	EventResult EventType = "result"
	// EventDone terminates the stream.
	EventDone EventType = "done"
)

// Event is one entry in a run's event stream. Fields not relevant to
// Type are left zero.
type Event struct {
	Type       EventType
	Token      string
	ToolName   string
	ToolInput  json.RawMessage
	ToolOutput json.RawMessage
	Response   *ChatResponse
}

// Status is the outcome of one request, as reported to the caller.
// It is a superset of types.CapsuleStatus: StatusNotFound covers the
// one case — an unknown dataset id — rejected before any submission is
// accepted, so no capsule is ever written for it.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
	StatusNotFound  Status = "not_found"
)

// ChatResult is the bounded tabular outcome of a request, mirroring
// types.ResultPreview plus the error that explains an empty result.
type ChatResult struct {
	Columns    []string
	Rows       [][]types.Cell
	RowCount   int
	ExecTimeMs int64
	Error      *types.RunnerError
}

// ChatDetails carries the compiled artifact a request produced, for
// callers that want to show their work.
type ChatDetails struct {
	DatasetID   string
	QueryMode   types.QueryMode
	PlanJSON    json.RawMessage
	CompiledSQL string
	PythonCode  string
}

// ChatResponse is the terminal outcome of one request.
type ChatResponse struct {
	AssistantMessage string
	RunID            string
	ThreadID         string
	Status           Status
	Result           ChatResult
	Details          ChatDetails
}

// Request is one submission against a dataset, optionally continuing
// an existing thread.
type Request struct {
	DatasetID string
	Message   string
	ThreadID  string
}

// Agent wires together every dependency the loop needs: a language
// model, the tool set it may call, the sandbox executor the fast path
// invokes directly, the dataset registry, the policy gate, and the
// two durable stores (capsules, thread history).
type Agent struct {
	Provider llm.Provider
	Tools    *tools.Registry
	Executor executor.Executor
	Registry *registry.Registry
	Gate     *policy.Gate
	Capsules capsule.Store
	Threads  threadstore.Store

	// ThreadHistoryWindow bounds how many prior messages are
	// re-supplied to the planner per turn (config.LLMConfig).
	ThreadHistoryWindow int
	// MaxToolCalls bounds tool invocations per request before the
	// loop synthesizes a BUDGET_EXCEEDED capsule.
	MaxToolCalls int

	// TimeoutSeconds, MaxRows, and MaxOutputBytes bound every sandbox
	// submission (config.SandboxConfig).
	TimeoutSeconds int
	MaxRows        int
	MaxOutputBytes int
}

const (
	sqlFastPathPrefix    = "SQL:"
	pythonFastPathPrefix = "PYTHON:"
)

var executionToolNames = map[string]bool{
	"execute_sql":        true,
	"execute_query_plan": true,
	"execute_python":     true,
}

// Run executes req to completion and returns its terminal response.
// It is a thin drain over Stream: equivalent in outcome, just without
// the intermediate events.
func (a *Agent) Run(ctx context.Context, req Request) (*ChatResponse, error) {
	events, err := a.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp *ChatResponse
	for ev := range events {
		if ev.Type == EventResult {
			resp = ev.Response
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("agent: event stream ended without a result")
	}
	return resp, nil
}

// Stream executes req and returns the event channel as it is
// produced. The channel is closed after EventDone. Cancelling ctx
// stops the loop at its next suspension point (LLM call, tool
// dispatch, capsule write) and the channel is still closed, though no
// EventResult may precede it in that case.
func (a *Agent) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if req.ThreadID == "" {
		return nil, fmt.Errorf("agent: thread_id must be non-empty")
	}
	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		a.execute(ctx, req, ch)
	}()
	return ch, nil
}

func (a *Agent) execute(ctx context.Context, req Request, ch chan<- Event) {
	dataset, ok := a.Registry.Get(req.DatasetID)
	if !ok {
		send(ch, Event{Type: EventResult, Response: &ChatResponse{
			AssistantMessage: fmt.Sprintf("unknown dataset %q", req.DatasetID),
			ThreadID:         req.ThreadID,
			Status:           StatusNotFound,
			Details:          ChatDetails{DatasetID: req.DatasetID},
		}})
		send(ch, Event{Type: EventDone})
		return
	}

	if mode, code, isFastPath := detectFastPath(req.Message); isFastPath {
		a.runFastPath(ctx, req, dataset, mode, code, ch)
		send(ch, Event{Type: EventDone})
		return
	}

	a.runPlanner(ctx, req, dataset, ch)
	send(ch, Event{Type: EventDone})
}

// send is a non-blocking-aware publish: it respects ctx-independent
// delivery (the channel is always buffered and drained by Run/Stream's
// caller), so a plain send is sufficient.
func send(ch chan<- Event, ev Event) {
	ch <- ev
}

// detectFastPath recognizes the "SQL: ..." / "PYTHON: ..." bypass,
// case-insensitively, and returns the literal code with the prefix and
// surrounding whitespace stripped.
func detectFastPath(message string) (mode types.QueryMode, code string, ok bool) {
	trimmed := strings.TrimSpace(message)
	if len(trimmed) >= len(sqlFastPathPrefix) && strings.EqualFold(trimmed[:len(sqlFastPathPrefix)], sqlFastPathPrefix) {
		return types.QueryModeSQL, strings.TrimSpace(trimmed[len(sqlFastPathPrefix):]), true
	}
	if len(trimmed) >= len(pythonFastPathPrefix) && strings.EqualFold(trimmed[:len(pythonFastPathPrefix)], pythonFastPathPrefix) {
		return types.QueryModePython, strings.TrimSpace(trimmed[len(pythonFastPathPrefix):]), true
	}
	return "", "", false
}

// runFastPath normalizes/policy-checks the literal code and, if
// accepted, submits it to the executor directly — no model is
// consulted. A rejection still produces a capsule: the literal code is
// recorded with an empty result.
func (a *Agent) runFastPath(ctx context.Context, req Request, dataset *types.DatasetDescriptor, mode types.QueryMode, code string, ch chan<- Event) {
	runID := uuid.NewString()
	toolName := "execute_sql"
	if mode == types.QueryModePython {
		toolName = "execute_python"
	}

	var (
		sql        string
		pythonCode string
		policyErr  error
	)
	switch mode {
	case types.QueryModeSQL:
		normalized, err := a.Gate.CheckSQL(code, req.DatasetID)
		if err != nil {
			policyErr = err
		} else {
			sql = normalized
		}
	case types.QueryModePython:
		if err := a.Gate.CheckPython(code); err != nil {
			policyErr = err
		} else {
			pythonCode = code
		}
	}

	input, _ := json.Marshal(map[string]string{"dataset_id": req.DatasetID, "code": code})
	send(ch, Event{Type: EventToolCall, ToolName: toolName, ToolInput: input})

	if policyErr != nil {
		status, errType := classifyError(policyErr)
		resp := &ChatResponse{
			AssistantMessage: fmt.Sprintf("rejected: %v", policyErr),
			RunID:            runID,
			ThreadID:         req.ThreadID,
			Status:           status,
			Result:           ChatResult{Error: errType},
			Details:          ChatDetails{DatasetID: req.DatasetID, QueryMode: mode, CompiledSQL: sql, PythonCode: pythonCode},
		}
		capSQL, capPython := sql, pythonCode
		if mode == types.QueryModeSQL {
			capSQL = code
		} else {
			capPython = code
		}
		a.putCapsule(ctx, runID, req, mode, capSQL, nil, capPython, capsuleStatus(status), nil, errType, 0)
		out, _ := json.Marshal(resp)
		send(ch, Event{Type: EventToolResult, ToolName: toolName, ToolOutput: out})
		send(ch, Event{Type: EventResult, Response: resp})
		return
	}

	reqFiles := tools.RunnerFiles(dataset)
	runnerReq := types.RunnerRequest{
		DatasetID:      req.DatasetID,
		Files:          reqFiles,
		QueryType:      mode,
		SQL:            sql,
		PythonCode:     pythonCode,
		TimeoutSeconds: a.TimeoutSeconds,
		MaxRows:        a.MaxRows,
		MaxOutputBytes: a.MaxOutputBytes,
	}

	respBody, submitErr := a.submit(ctx, &runnerReq)
	out, _ := json.Marshal(respBody)
	send(ch, Event{Type: EventToolResult, ToolName: toolName, ToolOutput: out})

	if submitErr != nil {
		status, errType := classifyError(submitErr)
		resp := &ChatResponse{
			AssistantMessage: fmt.Sprintf("execution failed: %v", submitErr),
			RunID:            runID,
			ThreadID:         req.ThreadID,
			Status:           status,
			Result:           ChatResult{Error: errType},
			Details:          ChatDetails{DatasetID: req.DatasetID, QueryMode: mode, CompiledSQL: sql, PythonCode: pythonCode},
		}
		a.putCapsule(ctx, runID, req, mode, sql, nil, pythonCode, capsuleStatus(status), nil, errType, 0)
		send(ch, Event{Type: EventResult, Response: resp})
		return
	}

	status, preview, rerr := fromRunnerResponse(respBody)
	resp := &ChatResponse{
		AssistantMessage: fastPathAssistantMessage(status, preview, rerr),
		RunID:            runID,
		ThreadID:         req.ThreadID,
		Status:           status,
		Result:           resultFromPreview(preview, rerr),
		Details:          ChatDetails{DatasetID: req.DatasetID, QueryMode: mode, CompiledSQL: sql, PythonCode: pythonCode},
	}
	a.putCapsule(ctx, runID, req, mode, sql, nil, pythonCode, capsuleStatus(status), preview, rerr, respBody.ExecTimeMs)
	send(ch, Event{Type: EventResult, Response: resp})
}

func fastPathAssistantMessage(status Status, preview *types.ResultPreview, rerr *types.RunnerError) string {
	if status != StatusSucceeded {
		if rerr != nil {
			return fmt.Sprintf("%s: %s", rerr.Type, rerr.Message)
		}
		return string(status)
	}
	if preview == nil {
		return "done"
	}
	return fmt.Sprintf("returned %d row(s)", preview.RowCount)
}

// submit validates and forwards req to the executor, wrapping any
// failure under the taxonomy.
func (a *Agent) submit(ctx context.Context, req *types.RunnerRequest) (*types.RunnerResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrValidation, "runner request", err)
	}
	_, resp, err := a.Executor.Submit(ctx, req)
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrBackendUnavailable, "executor submit", err)
	}
	return resp, nil
}

// toolInvocation records the last execution-tool call (execute_sql,
// execute_query_plan, execute_python) dispatched during a planner
// turn — the one the capsule is built from.
type toolInvocation struct {
	name       string
	sql        string
	planJSON   json.RawMessage
	pythonCode string
	response   *types.RunnerResponse
	err        error
}

// runPlanner loads recent thread history and an optional context hint
// from the last successful run, then drives the tool-calling loop
// until the model returns a final text turn or the tool-call budget is
// exhausted.
func (a *Agent) runPlanner(ctx context.Context, req Request, dataset *types.DatasetDescriptor, ch chan<- Event) {
	history, err := a.Threads.Recent(ctx, req.ThreadID, a.ThreadHistoryWindow)
	if err != nil {
		a.emitFailure(ch, req, err)
		return
	}

	convo := make([]llm.Message, 0, len(history)+2)
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == types.RoleAssistant {
			role = llm.RoleAssistant
		}
		convo = append(convo, llm.Message{Role: role, Content: m.Content})
	}
	if hint := a.contextHint(ctx, req); hint != "" {
		convo = append(convo, llm.Message{Role: llm.RoleAssistant, Content: hint})
	}
	convo = append(convo, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("[dataset:%s] %s", req.DatasetID, req.Message)})

	toolCtx := &tools.Context{
		Registry:       a.Registry,
		Gate:           a.Gate,
		Executor:       a.Executor,
		TimeoutSeconds: a.TimeoutSeconds,
		MaxRows:        a.MaxRows,
		MaxOutputBytes: a.MaxOutputBytes,
	}

	var last *toolInvocation
	toolCalls := 0
	schemas := a.Tools.Schemas()

	for {
		resp, err := a.Provider.Complete(ctx, plannerSystemPrompt, convo, schemas)
		if err != nil {
			a.finishPlanner(ctx, req, dataset, last, "", err, ch)
			return
		}
		if resp.Text != "" {
			send(ch, Event{Type: EventToken, Token: resp.Text})
		}
		if resp.StopReason == llm.StopText || len(resp.ToolCalls) == 0 {
			a.finishPlanner(ctx, req, dataset, last, resp.Text, nil, ch)
			return
		}

		assistantTurn := llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls}
		convo = append(convo, assistantTurn)

		var results []llm.ToolResult
		for _, tc := range resp.ToolCalls {
			toolCalls++
			if toolCalls > a.MaxToolCalls {
				a.finishPlanner(ctx, req, dataset, last, "", taxonomy.New(taxonomy.ErrBudgetExceeded, "tool-call budget exceeded"), ch)
				return
			}

			send(ch, Event{Type: EventToolCall, ToolName: tc.Name, ToolInput: tc.Input})
			output, derr := a.Tools.Dispatch(ctx, toolCtx, tc.Name, tc.Input)

			if executionToolNames[tc.Name] {
				last = recordInvocation(tc.Name, tc.Input, output, derr)
			}

			resultContent := output
			isErr := derr != nil
			if isErr {
				resultContent, _ = json.Marshal(map[string]string{"error": derr.Error()})
			}
			send(ch, Event{Type: EventToolResult, ToolName: tc.Name, ToolOutput: resultContent})
			results = append(results, llm.ToolResult{ToolCallID: tc.ID, Content: resultContent, IsError: isErr})
		}
		convo = append(convo, llm.Message{Role: llm.RoleTool, ToolResults: results})
	}
}

// recordInvocation captures an execution tool's call/outcome for
// capsule extraction, independent of whether it succeeded.
func recordInvocation(name string, input, output json.RawMessage, derr error) *toolInvocation {
	inv := &toolInvocation{name: name, err: derr}
	switch name {
	case "execute_sql":
		var in struct {
			SQL string `json:"sql"`
		}
		_ = json.Unmarshal(input, &in)
		inv.sql = in.SQL
	case "execute_query_plan":
		var in struct {
			Plan json.RawMessage `json:"plan"`
		}
		_ = json.Unmarshal(input, &in)
		inv.planJSON = in.Plan
	case "execute_python":
		var in struct {
			PythonCode string `json:"python_code"`
		}
		_ = json.Unmarshal(input, &in)
		inv.pythonCode = in.PythonCode
	}
	if derr == nil {
		var resp types.RunnerResponse
		if err := json.Unmarshal(output, &resp); err == nil {
			inv.response = &resp
		}
	}
	return inv
}

// finishPlanner builds the terminal ChatResponse for a planner turn
// and writes its capsule, whether the loop ended in a final model
// answer, a tool-budget overrun, or a transport failure.
func (a *Agent) finishPlanner(ctx context.Context, req Request, dataset *types.DatasetDescriptor, last *toolInvocation, assistantText string, loopErr error, ch chan<- Event) {
	runID := uuid.NewString()

	if loopErr != nil {
		status, errType := classifyError(loopErr)
		resp := &ChatResponse{
			AssistantMessage: fmt.Sprintf("%s: %s", errType.Type, errType.Message),
			RunID:            runID,
			ThreadID:         req.ThreadID,
			Status:           status,
			Result:           ChatResult{Error: errType},
			Details:          ChatDetails{DatasetID: req.DatasetID, QueryMode: modeOf(last)},
		}
		a.putCapsule(ctx, runID, req, modeOf(last), sqlOf(last), planOf(last), pythonOf(last), capsuleStatus(status), nil, errType, 0)
		send(ch, Event{Type: EventResult, Response: resp})
		return
	}

	if last == nil {
		// A chat-mode turn: no execution tool was invoked.
		resp := &ChatResponse{
			AssistantMessage: assistantText,
			RunID:            runID,
			ThreadID:         req.ThreadID,
			Status:           StatusSucceeded,
			Details:          ChatDetails{DatasetID: req.DatasetID, QueryMode: types.QueryModeChat},
		}
		a.putCapsule(ctx, runID, req, types.QueryModeChat, "", nil, "", types.CapsuleSucceeded, &types.ResultPreview{}, nil, 0)
		send(ch, Event{Type: EventResult, Response: resp})
		return
	}

	mode := modeOf(last)
	if last.err != nil {
		status, errType := classifyError(last.err)
		resp := &ChatResponse{
			AssistantMessage: assistantTextOr(assistantText, fmt.Sprintf("%s: %s", errType.Type, errType.Message)),
			RunID:            runID,
			ThreadID:         req.ThreadID,
			Status:           status,
			Result:           ChatResult{Error: errType},
			Details:          ChatDetails{DatasetID: req.DatasetID, QueryMode: mode, CompiledSQL: last.sql, PlanJSON: last.planJSON, PythonCode: last.pythonCode},
		}
		a.putCapsule(ctx, runID, req, mode, last.sql, last.planJSON, last.pythonCode, capsuleStatus(status), nil, errType, 0)
		send(ch, Event{Type: EventResult, Response: resp})
		return
	}

	status, preview, rerr := fromRunnerResponse(last.response)
	resp := &ChatResponse{
		AssistantMessage: assistantTextOr(assistantText, fastPathAssistantMessage(status, preview, rerr)),
		RunID:            runID,
		ThreadID:         req.ThreadID,
		Status:           status,
		Result:           resultFromPreview(preview, rerr),
		Details:          ChatDetails{DatasetID: req.DatasetID, QueryMode: mode, CompiledSQL: last.sql, PlanJSON: last.planJSON, PythonCode: last.pythonCode},
	}
	a.putCapsule(ctx, runID, req, mode, last.sql, last.planJSON, last.pythonCode, capsuleStatus(status), preview, rerr, last.response.ExecTimeMs)
	send(ch, Event{Type: EventResult, Response: resp})
}

func (a *Agent) emitFailure(ch chan<- Event, req Request, err error) {
	status, errType := classifyError(err)
	resp := &ChatResponse{
		AssistantMessage: fmt.Sprintf("%s: %s", errType.Type, errType.Message),
		ThreadID:         req.ThreadID,
		Status:           status,
		Result:           ChatResult{Error: errType},
		Details:          ChatDetails{DatasetID: req.DatasetID},
	}
	send(ch, Event{Type: EventResult, Response: resp})
}

func assistantTextOr(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return fallback
}

func modeOf(inv *toolInvocation) types.QueryMode {
	if inv == nil {
		return types.QueryModeChat
	}
	if inv.name == "execute_python" {
		return types.QueryModePython
	}
	if inv.name == "execute_query_plan" {
		return types.QueryModePlan
	}
	return types.QueryModeSQL
}

func sqlOf(inv *toolInvocation) string {
	if inv == nil {
		return ""
	}
	return inv.sql
}

func planOf(inv *toolInvocation) json.RawMessage {
	if inv == nil {
		return nil
	}
	return inv.planJSON
}

func pythonOf(inv *toolInvocation) string {
	if inv == nil {
		return ""
	}
	return inv.pythonCode
}

// contextHint builds a short assistant-role hint summarizing the last
// successful run in this thread/dataset, so the planner can answer
// follow-up questions without re-running the query. Returns "" if
// there is no prior successful run, or on any store error (the hint
// is an optimization, never required for correctness).
func (a *Agent) contextHint(ctx context.Context, req Request) string {
	prior, ok, err := a.Capsules.LatestSuccessful(ctx, req.DatasetID, req.ThreadID)
	if err != nil || !ok || prior.Result == nil {
		return ""
	}
	return fmt.Sprintf(
		"Context: the previous successful query in this thread (mode=%s) returned %d row(s) with columns %v. Reuse its result_json if this question is a follow-up; otherwise run a new query.",
		prior.QueryMode, prior.Result.RowCount, prior.Result.Columns,
	)
}

// fromRunnerResponse classifies a runner response into a Status and
// splits it into a success preview or an error, never both.
func fromRunnerResponse(resp *types.RunnerResponse) (Status, *types.ResultPreview, *types.RunnerError) {
	if resp == nil {
		return StatusFailed, nil, &types.RunnerError{Type: taxonomy.ErrRunnerInternal.String(), Message: "no response"}
	}
	switch resp.Status {
	case types.RunnerResultSuccess:
		return StatusSucceeded, &types.ResultPreview{
			Columns:    resp.Columns,
			Rows:       resp.Rows,
			RowCount:   resp.RowCount,
			ExecTimeMs: resp.ExecTimeMs,
		}, nil
	case types.RunnerResultTimeout:
		return StatusTimedOut, nil, resp.Error
	default:
		return StatusFailed, nil, resp.Error
	}
}

func resultFromPreview(preview *types.ResultPreview, rerr *types.RunnerError) ChatResult {
	if preview == nil {
		return ChatResult{Error: rerr}
	}
	return ChatResult{
		Columns:    preview.Columns,
		Rows:       preview.Rows,
		RowCount:   preview.RowCount,
		ExecTimeMs: preview.ExecTimeMs,
		Error:      rerr,
	}
}

// classifyError maps a taxonomy-classified error (or any other error)
// to a request-level Status and a wire-facing RunnerError.
func classifyError(err error) (Status, *types.RunnerError) {
	kind, ok := taxonomy.KindOf(err)
	if !ok {
		return StatusFailed, &types.RunnerError{Type: taxonomy.ErrBackendUnavailable.String(), Message: err.Error()}
	}
	rerr := &types.RunnerError{Type: kind.String(), Message: err.Error()}
	switch kind {
	case taxonomy.ErrValidation, taxonomy.ErrPlanValidation, taxonomy.ErrSQLPolicy, taxonomy.ErrPythonPolicy, taxonomy.ErrExfilHeuristic, taxonomy.ErrFeatureDisabled:
		return StatusRejected, rerr
	case taxonomy.ErrRunnerTimeout:
		return StatusTimedOut, rerr
	default:
		return StatusFailed, rerr
	}
}

// capsuleStatus converts a request-level Status into the narrower
// types.CapsuleStatus a capsule may carry. Callers never pass
// StatusNotFound here, since an unknown dataset never reaches capsule
// write.
func capsuleStatus(s Status) types.CapsuleStatus {
	switch s {
	case StatusSucceeded:
		return types.CapsuleSucceeded
	case StatusRejected:
		return types.CapsuleRejected
	case StatusTimedOut:
		return types.CapsuleTimedOut
	default:
		return types.CapsuleFailed
	}
}

// putCapsule writes the audit record for one accepted submission.
// Write failures are not surfaced to the caller — every accepted
// submission should still produce a capsule on the happy path,
// without letting an audit-store hiccup mask a real user-facing
// result — but in a production deployment this would also increment a
// telemetry counter.
func (a *Agent) putCapsule(ctx context.Context, runID string, req Request, mode types.QueryMode, sql string, planJSON json.RawMessage, pythonCode string, status types.CapsuleStatus, preview *types.ResultPreview, rerr *types.RunnerError, execTimeMs int64) {
	if a.Capsules == nil {
		return
	}
	c := &types.RunCapsule{
		RunID:       runID,
		CreatedAt:   time.Now(),
		DatasetID:   req.DatasetID,
		ThreadID:    req.ThreadID,
		Question:    req.Message,
		QueryMode:   mode,
		CompiledSQL: sql,
		PlanJSON:    planJSON,
		PythonCode:  pythonCode,
		Status:      status,
		Result:      preview,
		Error:       rerr,
		ExecTimeMs:  execTimeMs,
	}
	_ = a.Capsules.Put(ctx, c)
}

// plannerSystemPrompt is the planner's fixed system prompt: the five
// tools are described by their own schemas (passed separately to
// Complete), so this covers only the safety rules and calling
// conventions a schema can't express.
const plannerSystemPrompt = `You are a data analyst assistant. You answer questions about tabular datasets by calling tools; you never fabricate rows, columns, or statistics that a tool did not return.

Rules:
- Call get_dataset_schema before writing SQL or a plan against a dataset you have not already inspected in this conversation.
- Prefer execute_query_plan over execute_sql when the question is a filter/aggregate/sort — the plan compiler enforces row limits and validates identifiers for you.
- Use execute_sql only for read-only SELECT statements; never attempt to write, alter, or drop anything.
- Use execute_python only when the question cannot be expressed as SQL (multi-step transforms, statistics libraries); it may be disabled for this deployment, in which case it will not appear in your tool list at all.
- After a tool call returns, answer the user's question in plain language using its result; do not just repeat the raw rows.
- If a tool call is rejected, explain the rejection to the user rather than silently retrying the same input.`
