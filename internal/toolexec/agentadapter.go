package toolexec

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/cortex/internal/agent"
)

// AgentTool adapts agent.Tool (Name/Description/Schema/Execute) to
// toolexec.Tool, attaching the taxonomy Kind the dispatcher needs for
// routing and sandboxing decisions. This lets the existing tool
// implementations under internal/tools/* register with the dispatcher
// without each one knowing about the taxonomy.
type AgentTool struct {
	Inner agent.Tool
	K     Kind
}

// Wrap adapts an agent.Tool into a toolexec.Tool with the given taxonomy
// Kind.
func Wrap(t agent.Tool, kind Kind) Tool {
	return &AgentTool{Inner: t, K: kind}
}

func (a *AgentTool) Name() string            { return a.Inner.Name() }
func (a *AgentTool) Description() string     { return a.Inner.Description() }
func (a *AgentTool) Kind() Kind              { return a.K }
func (a *AgentTool) Schema() json.RawMessage { return a.Inner.Schema() }

func (a *AgentTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	res, err := a.Inner.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &Result{Success: true}, nil
	}
	return &Result{Output: res.Content, Success: !res.IsError}, nil
}
