package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/cortex/internal/agent"
	"github.com/haasonsaas/cortex/internal/toolexec"
)

// errToolDescriptorNotExecutable guards against accidentally invoking a
// toolDescriptor directly; real execution always goes through the
// session's Executor (C5).
var errToolDescriptorNotExecutable = errors.New("session: tool descriptor is advertisement-only")

// toolDescriptor adapts a toolexec.Tool to agent.Tool purely for
// advertisement to the model (C6): the model needs Name/Description/
// Schema to decide when to call a tool, but the actual call is always
// routed back through the session's Executor (C5), never through
// Execute here.
type toolDescriptor struct {
	t toolexec.Tool
}

func (d toolDescriptor) Name() string               { return d.t.Name() }
func (d toolDescriptor) Description() string        { return d.t.Description() }
func (d toolDescriptor) Schema() json.RawMessage     { return d.t.Schema() }
func (d toolDescriptor) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return nil, errToolDescriptorNotExecutable
}

// toolDescriptors adapts every registered tool for advertisement to the
// model, plus the two always-available special tools (Task, Batch) which
// are not registered in the Registry since the Executor special-cases
// them before lookup.
func toolDescriptors(reg *toolexec.Registry, includeTask, includeBatch bool) []agent.Tool {
	all := reg.All()
	out := make([]agent.Tool, 0, len(all)+2)
	for _, t := range all {
		out = append(out, toolDescriptor{t: t})
	}
	if includeTask {
		out = append(out, toolDescriptor{t: taskAdvertisement{}})
	}
	if includeBatch {
		out = append(out, toolDescriptor{t: batchAdvertisement{}})
	}
	return out
}

// taskAdvertisement and batchAdvertisement describe the two built-in
// special tools so the model can see and call them even though they are
// never present in the Registry.
type taskAdvertisement struct{}

func (taskAdvertisement) Name() string        { return "task" }
func (taskAdvertisement) Description() string { return "Spawn a sub-agent to handle a delegated task." }
func (taskAdvertisement) Kind() toolexec.Kind  { return toolexec.KindTask }
func (taskAdvertisement) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"agent_type":{"type":"string"},"description":{"type":"string"},"prompt":{"type":"string"}},"required":["prompt"]}`)
}
func (taskAdvertisement) Execute(ctx context.Context, args json.RawMessage) (*toolexec.Result, error) {
	return nil, errToolDescriptorNotExecutable
}

type batchAdvertisement struct{}

func (batchAdvertisement) Name() string        { return "batch" }
func (batchAdvertisement) Description() string { return "Run multiple tool calls concurrently." }
func (batchAdvertisement) Kind() toolexec.Kind  { return toolexec.KindBatch }
func (batchAdvertisement) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"calls":{"type":"array","items":{"type":"object","properties":{"tool":{"type":"string"},"arguments":{"type":"object"}},"required":["tool"]}}},"required":["calls"]}`)
}
func (batchAdvertisement) Execute(ctx context.Context, args json.RawMessage) (*toolexec.Result, error) {
	return nil, errToolDescriptorNotExecutable
}
