package subagent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/cortex/internal/agent"
	"github.com/haasonsaas/cortex/internal/hooks"
	"github.com/haasonsaas/cortex/internal/permission"
	"github.com/haasonsaas/cortex/internal/proto"
	"github.com/haasonsaas/cortex/internal/toolexec"
	"github.com/stretchr/testify/require"
)

// stubProvider answers every Complete call with one fixed text chunk,
// enough to exercise a full turn without requesting any tool call.
type stubProvider struct{ text string }

func (s *stubProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: s.text}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}
func (s *stubProvider) Name() string            { return "stub" }
func (s *stubProvider) Models() []agent.Model   { return nil }
func (s *stubProvider) SupportsTools() bool     { return false }

func TestBuiltinAgentTypesCoversSpecList(t *testing.T) {
	want := []string{"general", "code", "research", "refactor", "test", "documentation", "security", "architect", "reviewer"}
	got := BuiltinAgentTypes()
	for _, name := range want {
		if _, ok := got[name]; !ok {
			t.Fatalf("missing built-in agent type %q", name)
		}
	}
}

func TestDiscoverCustomAgentTypesParsesFrontMatter(t *testing.T) {
	dir := t.TempDir()
	content := "---\nname: triage\ndescription: Sorts incoming bug reports.\nallowed_tools:\n  - read\n  - websearch\n---\nYou triage bugs; do not fix them.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triage.md"), []byte(content), 0o644))

	got := DiscoverCustomAgentTypes(dir)
	at, ok := got["triage"]
	require.True(t, ok)
	require.Equal(t, "Sorts incoming bug reports.", at.Description)
	require.Equal(t, []string{"read", "websearch"}, at.AllowedTools)
	require.Contains(t, at.SystemPrompt, "triage bugs")
}

func TestDiscoverCustomAgentTypesSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("not frontmatter at all"), 0o644))
	got := DiscoverCustomAgentTypes(dir)
	require.Empty(t, got)
}

func TestRunTaskRefusesCycles(t *testing.T) {
	reg := toolexec.NewRegistry()
	r := NewRunner(Config{
		Tools:      reg,
		Provider:   &stubProvider{text: "done"},
		Hooks:      hooks.NewDispatcher(hooks.NewRegistry()),
		Permission: permission.NewEngine(proto.AutonomyLow, nil),
		DataDir:    t.TempDir(),
	})

	ctx := withAncestor(context.Background(), "code")
	args, _ := json.Marshal(TaskArgs{AgentType: "code", Prompt: "do it"})
	res, err := r.RunTask(ctx, toolexec.Context{}, args)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Output, "already an ancestor")
}

func TestRunTaskHappyPath(t *testing.T) {
	reg := toolexec.NewRegistry()
	r := NewRunner(Config{
		Tools:      reg,
		Provider:   &stubProvider{text: "task complete"},
		Hooks:      hooks.NewDispatcher(hooks.NewRegistry()),
		Permission: permission.NewEngine(proto.AutonomyLow, nil),
		DataDir:    t.TempDir(),
	})

	args, _ := json.Marshal(TaskArgs{AgentType: "general", Prompt: "summarize the repo"})
	res, err := r.RunTask(context.Background(), toolexec.Context{Cwd: "."}, args)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Contains(t, res.Output, "task complete")
	require.Contains(t, res.Output, "sub_session_id:")
}

func TestRunTaskRejectsUnknownAgentType(t *testing.T) {
	reg := toolexec.NewRegistry()
	r := NewRunner(Config{
		Tools:      reg,
		Provider:   &stubProvider{text: "done"},
		Hooks:      hooks.NewDispatcher(hooks.NewRegistry()),
		Permission: permission.NewEngine(proto.AutonomyLow, nil),
		DataDir:    t.TempDir(),
	})
	args, _ := json.Marshal(TaskArgs{AgentType: "nonexistent", Prompt: "x"})
	res, err := r.RunTask(context.Background(), toolexec.Context{}, args)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Output, "unknown agent type")
}
