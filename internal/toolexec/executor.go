package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/cortex/internal/sandbox"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is a tool's outcome.
type Result struct {
	Output  string
	Success bool
}

// Tool is the uniform shape every dispatched tool implements. Kind drives
// the special-casing in Dispatch (Task/Batch) and the sandboxing decision
// for Shell tools.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Context carries the information every tool invocation needs: cwd, a
// cancellation handle (the ambient ctx), a call id for correlation, and
// an optional progress sink. Profile is populated for Shell-kind tools
// once the session has validated a SandboxPolicy into a concrete
// confinement spec (spec §4.2 dispatch step 3); it is nil for every
// other taxonomy kind.
type Context struct {
	Cwd      string
	CallID   string
	Progress func(message string)
	Profile  *sandbox.Profile
}

// TaskRunner is implemented by the subagent package; Dispatch delegates
// any call to the tool named "task" (case-insensitive) here rather than
// handling sub-agent spawning itself, keeping the dispatcher and the
// sub-agent executor decoupled.
type TaskRunner interface {
	RunTask(ctx context.Context, tctx Context, args json.RawMessage) (*Result, error)
}

// DefaultTimeout is the per-tool default.
const DefaultTimeout = 300 * time.Second

// DefaultBatchParallelism bounds how many Batch legs run concurrently.
const DefaultBatchParallelism = 8

// Registry looks up tools by name. Lookup is case-insensitive for "task"
// and "batch" and exact for everything else.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lower := strings.ToLower(name)
	if lower == "task" || lower == "batch" {
		for n, t := range r.tools {
			if strings.EqualFold(n, name) {
				return t, true
			}
		}
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool, for schema advertisement to the model.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Executor validates arguments, enforces a per-call timeout, recovers
// panics into a failed Result, and special-cases Task and Batch.
type Executor struct {
	Registry        *Registry
	TaskRunner      TaskRunner
	DefaultTimeout  time.Duration
	BatchMaxWorkers int

	schemaCache sync.Map // tool name -> *jsonschema.Schema
}

// NewExecutor builds an Executor with the package's default timeouts.
func NewExecutor(reg *Registry, task TaskRunner) *Executor {
	return &Executor{
		Registry:        reg,
		TaskRunner:      task,
		DefaultTimeout:  DefaultTimeout,
		BatchMaxWorkers: DefaultBatchParallelism,
	}
}

// BatchCall is one leg of a Batch invocation.
type BatchCall struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// BatchArgs is the accepted shape of a Batch tool call.
type BatchArgs struct {
	Calls          []BatchCall `json:"calls"`
	ToolTimeoutSec int         `json:"tool_timeout_secs,omitempty"`
	TimeoutSec     int         `json:"timeout_secs,omitempty"`
}

// BatchOutcome is one leg's result, always present regardless of
// per-call success — a failing leg never aborts its siblings.
type BatchOutcome struct {
	Index   int    `json:"index"`
	Tool    string `json:"tool"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

// Dispatch is the single entry point for running a named tool. It rejects
// unknown or invalid arguments before any side effect, enforces the
// per-call timeout, recovers panics, and special-cases task/batch.
func (e *Executor) Dispatch(ctx context.Context, name string, args json.RawMessage, tctx Context) (res *Result, err error) {
	lower := strings.ToLower(strings.TrimSpace(name))

	if lower == "batch" {
		return e.dispatchBatch(ctx, args, tctx)
	}
	if lower == "task" {
		if e.TaskRunner == nil {
			return &Result{Success: false, Output: "task tool is not configured"}, nil
		}
		return e.TaskRunner.RunTask(ctx, tctx, args)
	}

	tool, ok := e.Registry.Get(name)
	if !ok {
		return &Result{Success: false, Output: fmt.Sprintf("unknown tool %q", name)}, nil
	}

	if err := e.validate(tool, args); err != nil {
		return &Result{Success: false, Output: "invalid arguments: " + err.Error()}, nil
	}

	timeout := e.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return e.runWithTimeout(ctx, tool, args, tctx, timeout), nil
}

// runWithTimeout bounds one tool call by timeout and recovers panics into
// a failed, structured Result rather than letting them kill the session.
func (e *Executor) runWithTimeout(ctx context.Context, tool Tool, args json.RawMessage, tctx Context, timeout time.Duration) (result *Result) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{res: &Result{Success: false, Output: fmt.Sprintf("tool panicked: %v", r)}}
			}
		}()
		res, err := tool.Execute(callCtx, args)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return &Result{Success: false, Output: o.err.Error()}
		}
		if o.res == nil {
			return &Result{Success: true}
		}
		return o.res
	case <-callCtx.Done():
		return &Result{Success: false, Output: "tool call timed out"}
	}
}

// dispatchBatch runs every call concurrently, returns outcomes in input
// order regardless of completion order, and refuses to recursively
// contain Batch or Task to bound complexity.
func (e *Executor) dispatchBatch(ctx context.Context, args json.RawMessage, tctx Context) (*Result, error) {
	var batch BatchArgs
	if err := json.Unmarshal(args, &batch); err != nil {
		return &Result{Success: false, Output: "invalid batch arguments: " + err.Error()}, nil
	}
	if len(batch.Calls) == 0 {
		return &Result{Success: false, Output: "batch requires at least one call"}, nil
	}

	for _, c := range batch.Calls {
		lower := strings.ToLower(strings.TrimSpace(c.Tool))
		if lower == "batch" || lower == "task" {
			return &Result{Success: false, Output: "batch may not recursively contain batch or task"}, nil
		}
	}

	overall := ctx
	var cancel context.CancelFunc
	if batch.TimeoutSec > 0 {
		overall, cancel = context.WithTimeout(ctx, time.Duration(batch.TimeoutSec)*time.Second)
		defer cancel()
	}

	perCall := e.DefaultTimeout
	if batch.ToolTimeoutSec > 0 {
		perCall = time.Duration(batch.ToolTimeoutSec) * time.Second
	}

	workers := e.BatchMaxWorkers
	if workers <= 0 {
		workers = DefaultBatchParallelism
	}
	sem := make(chan struct{}, workers)

	outcomes := make([]BatchOutcome, len(batch.Calls))
	var wg sync.WaitGroup
	for i, call := range batch.Calls {
		wg.Add(1)
		go func(idx int, c BatchCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-overall.Done():
				outcomes[idx] = BatchOutcome{Index: idx, Tool: c.Tool, Output: "batch deadline exceeded before start", Success: false}
				return
			}

			tool, ok := e.Registry.Get(c.Tool)
			if !ok {
				outcomes[idx] = BatchOutcome{Index: idx, Tool: c.Tool, Output: fmt.Sprintf("unknown tool %q", c.Tool), Success: false}
				return
			}
			if err := e.validate(tool, c.Arguments); err != nil {
				outcomes[idx] = BatchOutcome{Index: idx, Tool: c.Tool, Output: "invalid arguments: " + err.Error(), Success: false}
				return
			}
			res := e.runWithTimeout(overall, tool, c.Arguments, tctx, perCall)
			outcomes[idx] = BatchOutcome{Index: idx, Tool: c.Tool, Output: res.Output, Success: res.Success}
		}(i, call)
	}
	wg.Wait()

	allOK := true
	for _, o := range outcomes {
		if !o.Success {
			allOK = false
			break
		}
	}
	payload, err := json.Marshal(outcomes)
	if err != nil {
		return &Result{Success: false, Output: "failed to encode batch outcomes: " + err.Error()}, nil
	}
	return &Result{Success: allOK, Output: string(payload)}, nil
}

// validate rejects unknown or invalid arguments before any side effect.
// Schemas are compiled once and cached by tool name.
func (e *Executor) validate(tool Tool, args json.RawMessage) error {
	schema, err := e.compiledSchema(tool)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	if len(args) == 0 {
		args = []byte("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}

func (e *Executor) compiledSchema(tool Tool) (*jsonschema.Schema, error) {
	if cached, ok := e.schemaCache.Load(tool.Name()); ok {
		if s, ok := cached.(*jsonschema.Schema); ok {
			return s, nil
		}
	}
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil, nil
	}
	compiled, err := jsonschema.CompileString(tool.Name()+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", tool.Name(), err)
	}
	e.schemaCache.Store(tool.Name(), compiled)
	return compiled, nil
}
