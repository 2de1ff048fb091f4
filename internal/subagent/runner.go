package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/cortex/internal/agent"
	"github.com/haasonsaas/cortex/internal/hooks"
	"github.com/haasonsaas/cortex/internal/permission"
	"github.com/haasonsaas/cortex/internal/proto"
	"github.com/haasonsaas/cortex/internal/sandbox"
	"github.com/haasonsaas/cortex/internal/session"
	"github.com/haasonsaas/cortex/internal/toolexec"
	"github.com/haasonsaas/cortex/internal/tools/policy"
)

// DefaultMaxConcurrent bounds how many Tasks one session runs at once
// (spec §4.2 "Scheduling"); excess requests queue and report
// Progress{msg="queued"}.
const DefaultMaxConcurrent = 3

// DefaultTimeout is the sub-agent overall default (spec §5 "Timeouts").
const DefaultTimeout = 300 * time.Second

// Config wires a Runner's collaborators. The outer session and every
// sub-agent it spawns share Tools, Provider, Hooks, Permission and
// SandboxBuilder — small handles cloned cheaply, never a global (spec §9
// "Shared ownership across sessions").
type Config struct {
	Tools          *toolexec.Registry
	Provider       agent.LLMProvider
	Hooks          *hooks.Dispatcher
	Permission     *permission.Engine
	SandboxBuilder sandbox.Builder
	DataDir        string
	AgentTypes     map[string]AgentType

	MaxConcurrent     int
	DefaultTimeout    time.Duration
	DefaultMaxIters   int
	ParentConvID      string // this Runner's own session id, seeds the ancestor chain
}

// Runner implements toolexec.TaskRunner. One Runner is shared by a
// session and every sub-agent it spawns (each sub-agent gets its own
// Runner instance seeded with its own ConversationID, so its own Tasks
// extend the ancestor chain one level further).
type Runner struct {
	cfg Config
	sem chan struct{}
}

// NewRunner builds a Runner ready to accept RunTask calls.
func NewRunner(cfg Config) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.DefaultMaxIters <= 0 {
		cfg.DefaultMaxIters = session.DefaultMaxToolIterations
	}
	if cfg.AgentTypes == nil {
		cfg.AgentTypes = BuiltinAgentTypes()
	}
	return &Runner{cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrent)}
}

// ancestorsKey threads the chain of ancestor agent-type names (not
// session ids: the spec's cycle guard is "refusing to spawn if the
// target agent id is already an ancestor") through nested RunTask calls
// via the context, since toolexec.Context does not carry it.
type ancestorsKey struct{}

func ancestorsFrom(ctx context.Context) []string {
	if v, ok := ctx.Value(ancestorsKey{}).([]string); ok {
		return v
	}
	return nil
}

func withAncestor(ctx context.Context, name string) context.Context {
	chain := append(append([]string(nil), ancestorsFrom(ctx)...), name)
	return context.WithValue(ctx, ancestorsKey{}, chain)
}

// TaskArgs is the accepted shape of a Task tool call (spec §3 "Subagent
// config").
type TaskArgs struct {
	AgentType     string   `json:"agent_type"`
	Description   string   `json:"description"`
	Prompt        string   `json:"prompt"`
	Cwd           string   `json:"cwd,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
	TimeoutSecs   int      `json:"timeout,omitempty"`
	Model         string   `json:"model,omitempty"`
	AllowedTools  []string `json:"allowed_tools,omitempty"`
}

// RunTask spawns a fresh inner session scoped to the requested agent
// type, drives it through one turn with args.Prompt as the user input,
// and returns one aggregated ToolResult.
func (r *Runner) RunTask(ctx context.Context, tctx toolexec.Context, args json.RawMessage) (*toolexec.Result, error) {
	var a TaskArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return &toolexec.Result{Success: false, Output: "invalid task arguments: " + err.Error()}, nil
	}
	if a.Prompt == "" {
		return &toolexec.Result{Success: false, Output: "task requires a prompt"}, nil
	}
	agentName := a.AgentType
	if agentName == "" {
		agentName = "general"
	}
	at, ok := r.cfg.AgentTypes[agentName]
	if !ok {
		return &toolexec.Result{Success: false, Output: fmt.Sprintf("unknown agent type %q", agentName)}, nil
	}

	ancestors := ancestorsFrom(ctx)
	for _, anc := range ancestors {
		if anc == agentName {
			return &toolexec.Result{Success: false, Output: fmt.Sprintf("refusing to spawn %q: already an ancestor in this task chain (%s)", agentName, strings.Join(ancestors, " > "))}, nil
		}
	}

	select {
	case r.sem <- struct{}{}:
	default:
		if tctx.Progress != nil {
			tctx.Progress("queued")
		}
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return &toolexec.Result{Success: false, Output: "task cancelled while queued"}, nil
		}
	}
	defer func() { <-r.sem }()

	timeout := r.cfg.DefaultTimeout
	if a.TimeoutSecs > 0 {
		timeout = time.Duration(a.TimeoutSecs) * time.Second
	}
	taskCtx, cancel := context.WithTimeout(withAncestor(ctx, agentName), timeout)
	defer cancel()

	allowed := a.AllowedTools
	if len(allowed) == 0 {
		allowed = at.AllowedTools
	}
	narrowed := narrowRegistry(r.cfg.Tools, resolveToolGroups(allowed))

	subID := uuid.NewString()
	childRunner := NewRunner(Config{
		Tools:           r.cfg.Tools,
		Provider:        r.cfg.Provider,
		Hooks:           r.cfg.Hooks,
		Permission:      r.cfg.Permission,
		SandboxBuilder:  r.cfg.SandboxBuilder,
		DataDir:         r.cfg.DataDir,
		AgentTypes:      r.cfg.AgentTypes,
		MaxConcurrent:   r.cfg.MaxConcurrent,
		DefaultTimeout:  r.cfg.DefaultTimeout,
		DefaultMaxIters: r.cfg.DefaultMaxIters,
		ParentConvID:    subID,
	})

	cwd := a.Cwd
	if cwd == "" {
		cwd = tctx.Cwd
	}
	model := a.Model
	if model == "" {
		model = at.Model
	}
	maxIter := a.MaxIterations
	if maxIter <= 0 {
		maxIter = r.cfg.DefaultMaxIters
	}

	executor := toolexec.NewExecutor(narrowed, childRunner)
	rt, err := session.New(session.Config{
		ConversationID:    subID,
		DataDir:           r.cfg.DataDir,
		Provider:          r.cfg.Provider,
		Tools:             narrowed,
		Executor:          executor,
		Hooks:             r.cfg.Hooks,
		Permission:        r.cfg.Permission,
		SandboxBuilder:    r.cfg.SandboxBuilder,
		MaxToolIterations: maxIter,
		TurnContext: proto.TurnContext{
			Cwd:   cwd,
			Model: model,
		},
	})
	if err != nil {
		return &toolexec.Result{Success: false, Output: "failed to start sub-agent: " + err.Error()}, nil
	}

	driveDone := make(chan struct{})
	go func() {
		rt.Run(taskCtx)
		close(driveDone)
	}()

	prompt := at.SystemPrompt
	if prompt != "" {
		prompt += "\n\n"
	}
	prompt += a.Prompt
	if err := rt.Submit(taskCtx, proto.Submission{
		ID: uuid.NewString(),
		Op: proto.Op{Kind: proto.OpUserInput, Items: []proto.UserInput{{Kind: "text", Text: prompt}}},
	}); err != nil {
		return &toolexec.Result{Success: false, Output: "failed to submit sub-agent prompt: " + err.Error()}, nil
	}

	var finalText string
	var aborted bool
	var abortReason string
drain:
	for {
		select {
		case ev, ok := <-rt.Events():
			if !ok {
				break drain
			}
			switch ev.Kind {
			case proto.EventAgentMessage:
				finalText = ev.Text
			case proto.EventToolCallStarted:
				if tctx.Progress != nil {
					tctx.Progress(fmt.Sprintf("[%s] started %s", subID[:8], ev.Tool))
				}
			case proto.EventToolCallCompleted:
				if tctx.Progress != nil {
					tctx.Progress(fmt.Sprintf("[%s] completed %s (success=%v)", subID[:8], ev.Tool, ev.Success))
				}
			case proto.EventTurnCompleted:
				_ = rt.Submit(taskCtx, proto.Submission{ID: uuid.NewString(), Op: proto.Op{Kind: proto.OpShutdown}})
			case proto.EventTurnAborted:
				aborted = true
				abortReason = ev.Reason
				_ = rt.Submit(taskCtx, proto.Submission{ID: uuid.NewString(), Op: proto.Op{Kind: proto.OpShutdown}})
			}
		case <-taskCtx.Done():
			aborted = true
			abortReason = "timed_out"
			break drain
		}
	}
	<-driveDone

	if aborted {
		return &toolexec.Result{
			Success: false,
			Output:  fmt.Sprintf("sub-agent %s aborted: %s\nsub_session_id: %s", agentName, abortReason, subID),
		}, nil
	}
	return &toolexec.Result{
		Success: true,
		Output:  fmt.Sprintf("%s\n\n---\nsub_session_id: %s\nagent_type: %s", finalText, subID, agentName),
	}, nil
}

// narrowRegistry returns a fresh Registry containing only the named
// tools (case-sensitive, matching toolexec.Registry's own lookup rule
// for everything but task/batch). A nil or empty allowed list means
// "inherit everything" rather than "nothing," since many delegated
// tasks do not declare an explicit allow-list.
// resolveToolGroups expands any "group:" entries in an allow-list
// against the shared policy.ToolGroups catalog, so an agent type can
// say AllowedTools: ["group:fs", "websearch"] instead of enumerating
// every filesystem tool by name.
func resolveToolGroups(allowed []string) []string {
	if len(allowed) == 0 {
		return nil
	}
	out := make([]string, 0, len(allowed))
	for _, name := range allowed {
		if members, ok := policy.ToolGroups[name]; ok {
			out = append(out, members...)
			continue
		}
		out = append(out, name)
	}
	return out
}

func narrowRegistry(full *toolexec.Registry, allowed []string) *toolexec.Registry {
	if len(allowed) == 0 {
		return full
	}
	out := toolexec.NewRegistry()
	want := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		want[strings.ToLower(name)] = true
	}
	for _, t := range full.All() {
		if want[strings.ToLower(t.Name())] {
			out.Register(t)
		}
	}
	return out
}
