// Package surface is the thin adapter in front of the agent loop:
// normalizing thread_id, appending the user/assistant turns to the
// thread log around each request, observing outcomes via telemetry,
// and notifying an optional webhook sink on completion. Grounded on
// cli/cmd/run.go's orchestration glue — load config, invoke the
// engine, map the outcome to a surfaced exit code — generalized from
// "CLI exit code" to "request surface status", since the HTTP/SSE
// transport layer itself is out of scope.
package surface

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tabularun/tabularun/agent"
	"github.com/tabularun/tabularun/telemetry"
	webhooksink "github.com/tabularun/tabularun/telemetry/webhook"
	"github.com/tabularun/tabularun/types"
)

// Process exit codes for CLI callers: one per terminal agent.Status,
// plus the catch-all failure code.
const (
	ExitSuccess  = 0
	ExitFailed   = 1
	ExitTimedOut = 2
	ExitRejected = 3
	ExitNotFound = 4
)

// ExitCode maps an agent.Status to a process exit code.
func ExitCode(status agent.Status) int {
	switch status {
	case agent.StatusSucceeded:
		return ExitSuccess
	case agent.StatusRejected:
		return ExitRejected
	case agent.StatusTimedOut:
		return ExitTimedOut
	case agent.StatusNotFound:
		return ExitNotFound
	default:
		return ExitFailed
	}
}

// Surface wires a single agent.Agent to the external request/response
// contract. Metrics, Tracer, and Webhook are all optional — a nil
// value for any of them disables that piece of instrumentation
// without requiring callers to build stub implementations.
type Surface struct {
	Agent   *agent.Agent
	Metrics *telemetry.Collector
	Tracer  *telemetry.Tracer
	Webhook *webhooksink.Sink
}

// Run executes one request to completion and returns the final
// response for a run(dataset_id, message, thread_id?) → response
// contract.
func (s *Surface) Run(ctx context.Context, datasetID, message, threadID string) (*agent.ChatResponse, error) {
	threadID = normalizeThreadID(threadID)
	s.Metrics.IncRunStarted()

	spanCtx, finish := s.startSpan(ctx, "surface.run", datasetID, threadID)

	s.appendUser(spanCtx, datasetID, threadID, message)

	resp, err := s.Agent.Run(spanCtx, agent.Request{DatasetID: datasetID, Message: message, ThreadID: threadID})
	if err != nil {
		finish(err)
		return nil, err
	}

	s.onCompletion(spanCtx, resp)
	finish(nil)
	return resp, nil
}

// Stream executes one request and relays its event stream to the
// caller, for a stream(...) → iterator<event> contract. The returned
// channel carries the same events agent.Stream
// produces; Surface observes EventResult in passing to append the
// assistant turn, update telemetry, and notify the webhook sink
// before forwarding EventDone.
func (s *Surface) Stream(ctx context.Context, datasetID, message, threadID string) (<-chan agent.Event, error) {
	threadID = normalizeThreadID(threadID)
	s.Metrics.IncRunStarted()

	spanCtx, finish := s.startSpan(ctx, "surface.stream", datasetID, threadID)

	s.appendUser(spanCtx, datasetID, threadID, message)

	upstream, err := s.Agent.Stream(spanCtx, agent.Request{DatasetID: datasetID, Message: message, ThreadID: threadID})
	if err != nil {
		finish(err)
		return nil, err
	}

	out := make(chan agent.Event, 8)
	go func() {
		defer close(out)
		var finalErr error
		for ev := range upstream {
			if ev.Type == agent.EventResult && ev.Response != nil {
				s.onCompletion(spanCtx, ev.Response)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				finalErr = ctx.Err()
			}
		}
		finish(finalErr)
	}()
	return out, nil
}

// onCompletion runs the bookkeeping common to Run and Stream once a
// terminal ChatResponse is available: append the assistant turn,
// absorb outcome counters, and notify the webhook sink.
func (s *Surface) onCompletion(ctx context.Context, resp *agent.ChatResponse) {
	s.Metrics.IncRunOutcome(string(resp.Status))
	s.appendAssistant(ctx, resp)
	s.notifyWebhook(ctx, resp)
}

// normalizeThreadID returns threadID unchanged if non-empty, else
// mints a fresh id.
func normalizeThreadID(threadID string) string {
	if threadID != "" {
		return threadID
	}
	return uuid.NewString()
}

func (s *Surface) appendUser(ctx context.Context, datasetID, threadID, message string) {
	if s.Agent == nil || s.Agent.Threads == nil {
		return
	}
	msg := &types.ThreadMessage{
		ThreadID:  threadID,
		Ts:        time.Now().UTC(),
		Role:      types.RoleUser,
		Content:   message,
		DatasetID: datasetID,
	}
	// A thread-log write failure must not block the turn itself; the
	// agent loop still has everything it needs from the request. The
	// planner path simply sees one fewer prior message next turn.
	_ = s.Agent.Threads.Append(ctx, msg)
}

func (s *Surface) appendAssistant(ctx context.Context, resp *agent.ChatResponse) {
	if s.Agent == nil || s.Agent.Threads == nil || resp.Status == agent.StatusNotFound {
		return
	}
	msg := &types.ThreadMessage{
		ThreadID:  resp.ThreadID,
		Ts:        time.Now().UTC(),
		Role:      types.RoleAssistant,
		Content:   resp.AssistantMessage,
		DatasetID: resp.Details.DatasetID,
		RunID:     resp.RunID,
	}
	_ = s.Agent.Threads.Append(ctx, msg)
}

func (s *Surface) notifyWebhook(ctx context.Context, resp *agent.ChatResponse) {
	if s.Webhook == nil || resp.Status == agent.StatusNotFound {
		return
	}
	event := &webhooksink.CapsuleCompletedEvent{
		EventType:  "capsule_completed",
		RunID:      resp.RunID,
		DatasetID:  resp.Details.DatasetID,
		ThreadID:   resp.ThreadID,
		QueryMode:  string(resp.Details.QueryMode),
		Status:     string(resp.Status),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		ExecTimeMs: resp.Result.ExecTimeMs,
	}
	if resp.Result.Error != nil {
		event.ErrorType = resp.Result.Error.Type
	}
	// Best-effort: a notification failure is a telemetry concern, not
	// a reason to fail a request that already completed successfully.
	_ = s.Webhook.Publish(ctx, event)
}

func (s *Surface) startSpan(ctx context.Context, name, datasetID, threadID string) (context.Context, func(error)) {
	if s.Tracer == nil {
		return ctx, func(error) {}
	}
	return s.Tracer.StartSpan(ctx, name, datasetID, threadID)
}

// DescribeError renders err as the human-readable form a transport
// adapter would show alongside a FAILED/REJECTED status: every error
// translates to an assistant message that names the error kind.
func DescribeError(status agent.Status, rerr *types.RunnerError) string {
	if rerr == nil {
		return fmt.Sprintf("request %s", status)
	}
	return fmt.Sprintf("request %s: %s: %s", status, rerr.Type, rerr.Message)
}
