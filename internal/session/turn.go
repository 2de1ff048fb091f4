package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/cortex/internal/agent"
	"github.com/haasonsaas/cortex/internal/hooks"
	"github.com/haasonsaas/cortex/internal/permission"
	"github.com/haasonsaas/cortex/internal/proto"
	"github.com/haasonsaas/cortex/internal/retry"
	"github.com/haasonsaas/cortex/internal/toolexec"
	"github.com/haasonsaas/cortex/pkg/models"
)

// runTurn drives one user turn to completion: append the user message,
// loop the model against the tool registry until it stops requesting
// tool calls or the iteration bound is hit, gating every tool call
// through the hook dispatcher and the permission engine.
func (r *Runtime) runTurn(ctx context.Context, items []proto.UserInput) {
	turnID := uuid.NewString()

	var text strings.Builder
	for i, it := range items {
		if i > 0 {
			text.WriteByte('\n')
		}
		text.WriteString(it.Text)
	}

	// Boundary behavior (spec §8): an empty turn makes no model call and
	// emits nothing beyond TurnStarted/TurnCompleted with zero usage.
	if strings.TrimSpace(text.String()) == "" {
		r.emit(ctx, proto.Event{Kind: proto.EventTurnStarted})
		r.emit(ctx, proto.Event{Kind: proto.EventTurnCompleted, Usage: &proto.Usage{}})
		return
	}

	userMsg := proto.UserText(text.String())
	if err := r.appendMessage(userMsg); err != nil {
		r.emitError(ctx, proto.ErrKindStorage, err)
		return
	}
	r.fireHook(ctx, hooks.MessageUser, turnID, "", map[string]any{"text": userMsg.Text})
	r.emit(ctx, proto.Event{Kind: proto.EventUserMessage, Text: userMsg.Text})

	// Messages a hook injected during the previous turn's in-flight stream
	// land here, at the start of the next turn, rather than splicing into
	// a model stream that cannot be rewound mid-flight.
	for _, injectedText := range r.drainInjected() {
		if err := r.appendMessage(proto.SystemText(injectedText)); err != nil {
			r.emitError(ctx, proto.ErrKindStorage, err)
			return
		}
	}

	r.emit(ctx, proto.Event{Kind: proto.EventTurnStarted})

	turnBefore := r.fireHook(ctx, hooks.TurnBefore, turnID, "", nil)
	if !turnBefore.ShouldContinue {
		r.emit(ctx, proto.Event{Kind: proto.EventTurnAborted, Reason: abortReason(turnBefore)})
		return
	}
	r.queueInjected(turnBefore)

	r.setState(StateAwaitingModel)
	usage := &proto.Usage{}

	for iter := 0; ; iter++ {
		// doInterrupt already emitted the TurnAborted event when it set the
		// flag; CompareAndSwap both claims it (so only one checkpoint acts
		// on a given interrupt) and clears it for the next turn.
		if r.cancelled.CompareAndSwap(true, false) {
			r.setState(StateIdle)
			return
		}
		if iter >= r.cfg.MaxToolIterations {
			r.setState(StateIdle)
			r.emit(ctx, proto.Event{Kind: proto.EventTurnAborted, Reason: "max_iterations"})
			return
		}

		assistantText, calls, err := r.completeOnce(ctx, turnID, usage)
		if err != nil {
			r.setState(StateIdle)
			r.emitProviderError(ctx, err)
			return
		}

		if assistantText != "" {
			msg := proto.AssistantText(assistantText)
			if err := r.appendMessage(msg); err != nil {
				r.emitError(ctx, proto.ErrKindStorage, err)
				return
			}
			r.queueInjected(r.fireHook(ctx, hooks.MessageAssistant, turnID, "", map[string]any{"text": assistantText}))
			r.emit(ctx, proto.Event{Kind: proto.EventAgentMessage, Text: assistantText})
		}

		if len(calls) == 0 {
			r.setState(StateIdle)
			r.queueInjected(r.fireHook(ctx, hooks.TurnAfter, turnID, "", nil))
			r.emit(ctx, proto.Event{Kind: proto.EventTurnCompleted, Usage: usage})
			return
		}

		for _, call := range calls {
			if r.cancelled.CompareAndSwap(true, false) {
				r.setState(StateIdle)
				return
			}
			if aborted := r.runToolCall(ctx, turnID, call); aborted {
				r.setState(StateIdle)
				return
			}
		}
	}
}

// completeOnce issues one provider completion covering the full history
// and returns the assistant's text plus any requested tool calls.
func (r *Runtime) completeOnce(ctx context.Context, turnID string, usage *proto.Usage) (string, []models.ToolCall, error) {
	req := &agent.CompletionRequest{
		Model:    r.turnCtx.Model,
		Messages: r.completionMessages(),
		Tools:    toolDescriptors(r.cfg.Tools, true, true),
	}

	var chunks <-chan *agent.CompletionChunk
	attempt := func(attemptN int) error {
		run := func(ctx context.Context) error {
			var callErr error
			chunks, callErr = r.cfg.Provider.Complete(ctx, req)
			return callErr
		}
		if r.cfg.Breaker != nil {
			return r.cfg.Breaker.Execute(ctx, run)
		}
		return run(ctx)
	}

	policy := r.cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}
	if err := policy.Do(ctx, attempt); err != nil {
		return "", nil, err
	}

	var textBuilder strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			textBuilder.WriteString(chunk.Text)
			r.emit(ctx, proto.Event{Kind: proto.EventAgentMessageDelta, Text: chunk.Text})
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			usage.InputTokens += int64(chunk.InputTokens)
			usage.OutputTokens += int64(chunk.OutputTokens)
		}
	}
	return textBuilder.String(), calls, nil
}

// completionMessages translates the durable proto.Message history into
// the shape the provider abstraction (C6) expects.
func (r *Runtime) completionMessages() []agent.CompletionMessage {
	r.mu.Lock()
	history := append([]proto.Message(nil), r.history...)
	r.mu.Unlock()

	out := make([]agent.CompletionMessage, 0, len(history))
	for _, m := range history {
		switch m.Kind {
		case proto.MessageUserText:
			out = append(out, agent.CompletionMessage{Role: "user", Content: m.Text})
		case proto.MessageAssistantText:
			out = append(out, agent.CompletionMessage{Role: "assistant", Content: m.Text})
		case proto.MessageSystem:
			out = append(out, agent.CompletionMessage{Role: "user", Content: "[system] " + m.Text})
		case proto.MessageToolCall:
			out = append(out, agent.CompletionMessage{
				Role: "assistant",
				ToolCalls: []models.ToolCall{{
					ID: m.CallID, Name: m.Tool, Input: m.Args,
				}},
			})
		case proto.MessageToolResult:
			out = append(out, agent.CompletionMessage{
				Role: "tool",
				ToolResults: []models.ToolResult{{
					ToolCallID: m.CallID, Content: m.Output, IsError: !m.Success,
				}},
			})
		}
	}
	return out
}

// runToolCall gates a single model-requested tool call through hooks and
// the permission engine, then dispatches it. It returns true if the turn
// was aborted (by hook veto, approval abort, or cancellation).
func (r *Runtime) runToolCall(ctx context.Context, turnID string, call models.ToolCall) (aborted bool) {
	callMsg := proto.ToolCall(call.ID, call.Name, call.Input)
	if err := r.appendMessage(callMsg); err != nil {
		r.emitError(ctx, proto.ErrKindStorage, err)
		return true
	}

	hctx := map[string]any{"tool": call.Name, "call_id": call.ID}
	if res := r.fireHook(ctx, hooks.ToolBefore, turnID, call.ID, hctx); !res.ShouldContinue {
		r.recordToolResult(ctx, call.ID, "blocked by hook: "+res.StopReason, false)
		return false
	}

	r.emit(ctx, proto.Event{Kind: proto.EventToolCallStarted, CallID: call.ID, Tool: call.Name})

	decision := r.decide(call)
	switch decision.Outcome {
	case permission.Block:
		r.fireHook(ctx, hooks.PermissionDenied, turnID, call.ID, map[string]any{"reason": decision.Reason})
		r.recordToolResult(ctx, call.ID, "blocked: "+decision.Reason, false)
		return false

	case permission.RequireApproval:
		r.fireHook(ctx, hooks.PermissionAsked, turnID, call.ID, map[string]any{"reason": decision.Reason})
		approved, abortReason := r.awaitApproval(ctx, call, decision)
		if abortReason != "" {
			if abortReason != "cancelled" {
				r.emit(ctx, proto.Event{Kind: proto.EventTurnAborted, Reason: abortReason})
			}
			return true
		}
		if !approved {
			r.fireHook(ctx, hooks.PermissionDenied, turnID, call.ID, nil)
			r.recordToolResult(ctx, call.ID, "denied by user", false)
			return false
		}
		r.fireHook(ctx, hooks.PermissionGranted, turnID, call.ID, nil)

	case permission.AutoApprove:
		// fall through to execution
	}

	r.setState(StateExecutingTools)
	tctx := toolexec.Context{
		Cwd:    r.turnCtx.Cwd,
		CallID: call.ID,
		Progress: func(msg string) {
			r.emit(ctx, proto.Event{Kind: proto.EventToolCallProgress, CallID: call.ID, Tool: call.Name, Message: msg})
		},
	}

	// Dispatch step 3: shell-kind tools run under a sandbox profile built
	// from the turn's SandboxPolicy. A profile that fails validation
	// rejects the call before any side effect (spec §4.3 "A profile that
	// cannot be validated yields an error and the tool is rejected").
	if tool, ok := r.cfg.Tools.Get(call.Name); ok && tool.Kind() == toolexec.KindShell && r.cfg.SandboxBuilder != nil {
		profile, err := r.cfg.SandboxBuilder.Build(r.turnCtx.SandboxPolicy)
		if err != nil {
			r.recordToolResult(ctx, call.ID, "sandbox: "+err.Error(), false)
			r.setState(StateAwaitingModel)
			return false
		}
		tctx.Profile = profile
	}

	result, err := r.cfg.Executor.Dispatch(ctx, call.Name, call.Input, tctx)
	if err != nil {
		r.fireHook(ctx, hooks.ToolError, turnID, call.ID, map[string]any{"error": err.Error()})
		r.recordToolResult(ctx, call.ID, err.Error(), false)
		return false
	}
	if !result.Success {
		r.queueInjected(r.fireHook(ctx, hooks.ToolError, turnID, call.ID, map[string]any{"output": result.Output}))
	}
	r.queueInjected(r.fireHook(ctx, hooks.ToolAfter, turnID, call.ID, map[string]any{"success": result.Success}))
	r.recordToolResult(ctx, call.ID, result.Output, result.Success)
	r.setState(StateAwaitingModel)
	return false
}

// decide computes a permission Decision for call. Shell-kind tools carry
// a literal command string the classifier understands; every other
// taxonomy kind maps onto a conservative fixed risk level so the
// autonomy threshold and pattern rules still apply uniformly.
func (r *Runtime) decide(call models.ToolCall) permission.Decision {
	tool, ok := r.cfg.Tools.Get(call.Name)
	if ok && tool.Kind() == toolexec.KindShell {
		var args struct {
			Command string `json:"command"`
		}
		_ = json.Unmarshal(call.Input, &args)
		return r.cfg.Permission.Decide(call.Name, args.Command)
	}

	kind := toolexec.KindReadOnly
	if ok {
		kind = tool.Kind()
	}
	level, reason := nonShellRisk(kind)
	return r.cfg.Permission.DecideRisk(call.Name, call.Name, level, reason)
}

// nonShellRisk assigns a fixed RiskLevel to every non-Shell taxonomy kind.
func nonShellRisk(kind toolexec.Kind) (proto.RiskLevel, string) {
	switch kind {
	case toolexec.KindReadOnly:
		return proto.RiskSafe, "read-only tool"
	case toolexec.KindFileWrite:
		return proto.RiskLow, "file-writing tool"
	case toolexec.KindNetwork:
		return proto.RiskMedium, "network tool"
	case toolexec.KindSkill:
		return proto.RiskMedium, "skill invocation"
	case toolexec.KindMcpProxy:
		return proto.RiskMedium, "mcp proxy call"
	default:
		return proto.RiskMedium, "unclassified tool kind"
	}
}

// awaitApproval blocks until a matching ExecApproval submission arrives,
// ctx is cancelled, or an Interrupt sets the cancellation flag. The
// returned abortReason is "" when not aborted; otherwise it tells the
// caller whether a TurnAborted event still needs emitting ("cancelled"
// means doInterrupt already emitted one when it set the flag).
func (r *Runtime) awaitApproval(ctx context.Context, call models.ToolCall, decision permission.Decision) (approved bool, abortReason string) {
	ch := make(chan proto.Op, 1)
	r.mu.Lock()
	r.pendingApproval.callID = call.ID
	r.pendingApproval.ch = ch
	r.mu.Unlock()

	r.setState(StateAwaitingApproval)
	r.emit(ctx, proto.Event{Kind: proto.EventApprovalRequest, CallID: call.ID, Tool: call.Name, Risk: decision.Risk, Message: decision.Reason})

	defer func() {
		r.mu.Lock()
		r.pendingApproval.callID = ""
		r.pendingApproval.ch = nil
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case op := <-ch:
			switch op.Decision {
			case proto.Approved:
				return true, ""
			case proto.ApprovedForSession:
				r.cfg.Permission.Grant(call.Name, call.Name, proto.ScopeSession)
				return true, ""
			case proto.Denied:
				return false, ""
			case proto.Abort:
				return false, "user_abort"
			default:
				return false, ""
			}
		case <-ticker.C:
			if r.cancelled.CompareAndSwap(true, false) {
				return false, "cancelled"
			}
		case <-ctx.Done():
			return false, "ctx"
		}
	}
}

func (r *Runtime) recordToolResult(ctx context.Context, callID, output string, success bool) {
	msg := proto.ToolResult(callID, output, success)
	if err := r.appendMessage(msg); err != nil {
		r.emitError(ctx, proto.ErrKindStorage, err)
		return
	}
	r.emit(ctx, proto.Event{Kind: proto.EventToolCallCompleted, CallID: callID, Output: output, Success: success})
}

func (r *Runtime) emitError(ctx context.Context, kind proto.ErrorKind, err error) {
	r.fireHook(ctx, hooks.ErrorEncountered, "", "", map[string]any{"error": err.Error()})
	r.emit(ctx, proto.Event{Kind: proto.EventError, ErrKind: kind, ErrMessage: err.Error()})
}

// emitProviderError classifies a provider-call error into the §7 error
// taxonomy using the breaker/retry packages' own error predicates.
func (r *Runtime) emitProviderError(ctx context.Context, err error) {
	kind := proto.ErrKindProvider
	switch {
	case isTimeoutErr(err):
		kind = proto.ErrKindTimeout
	case isRateLimitErr(err):
		kind = proto.ErrKindRateLimit
	}
	r.emitError(ctx, kind, err)
}

func abortReason(res hooks.CombinedResult) string {
	if res.ErrorMessage != "" {
		return res.ErrorMessage
	}
	if res.StopReason != "" {
		return res.StopReason
	}
	return "vetoed by hook"
}

func isTimeoutErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout") ||
		strings.Contains(strings.ToLower(err.Error()), "deadline exceeded")
}

func isRateLimitErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "rate limit") ||
		strings.Contains(strings.ToLower(err.Error()), "429")
}
