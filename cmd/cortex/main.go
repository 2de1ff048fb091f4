// Package main provides the CLI entry point for Cortex, an interactive
// terminal agent that turns natural-language requests into approved,
// sandboxed tool calls.
//
// # Basic usage
//
// Start an interactive session in the current directory:
//
//	cortex
//
// Resume a previous conversation:
//
//	cortex resume <conversation-id>
//
// List available sub-agent types:
//
//	cortex agents list
//
// # Environment variables
//
//   - CORTEX_PROVIDER: model provider to use (anthropic|openai), default anthropic
//   - CORTEX_MODEL: model name override
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: provider credentials
//   - CORTEX_DATA_DIR: overrides the default rollout/data directory
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/haasonsaas/cortex/internal/agent"
	"github.com/haasonsaas/cortex/internal/agent/providers"
	"github.com/haasonsaas/cortex/internal/breaker"
	"github.com/haasonsaas/cortex/internal/config"
	"github.com/haasonsaas/cortex/internal/hooks"
	"github.com/haasonsaas/cortex/internal/mcp"
	"github.com/haasonsaas/cortex/internal/permission"
	"github.com/haasonsaas/cortex/internal/plugins"
	"github.com/haasonsaas/cortex/internal/proto"
	"github.com/haasonsaas/cortex/internal/retry"
	"github.com/haasonsaas/cortex/internal/rollout"
	"github.com/haasonsaas/cortex/internal/sandbox"
	"github.com/haasonsaas/cortex/internal/session"
	"github.com/haasonsaas/cortex/internal/subagent"
	"github.com/haasonsaas/cortex/internal/toolexec"
	"github.com/haasonsaas/cortex/internal/tools/exec"
	"github.com/haasonsaas/cortex/internal/tools/files"
	"github.com/haasonsaas/cortex/internal/tools/memorysearch"
	"github.com/haasonsaas/cortex/internal/tools/websearch"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main for testability.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cortex",
		Short: "Cortex - an interactive terminal agent",
		Long: `Cortex turns natural-language requests into approved, sandboxed tool calls.

Supported model providers: Anthropic (Claude), OpenAI (GPT)
Built-in sub-agent types: general, code, research, refactor, test, documentation, security, architect, reviewer`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildResumeCmd(),
		buildCacheCmd(),
		buildAgentsCmd(),
	)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context(), "")
	}
	return root
}

func buildResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <conversation-id>",
		Short: "Resume a previous conversation from its rollout log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), args[0])
		},
	}
}

// buildCacheCmd groups operations over the on-disk rollout logs that
// back session resumption (the user-facing "cache" of past turns).
func buildCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear stored conversation rollouts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored conversation ids",
			RunE: func(cmd *cobra.Command, args []string) error {
				dir := filepath.Join(dataDir(), "rollouts")
				entries, err := os.ReadDir(dir)
				if err != nil {
					if os.IsNotExist(err) {
						fmt.Fprintln(cmd.OutOrStdout(), "no stored conversations")
						return nil
					}
					return err
				}
				for _, e := range entries {
					fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSuffix(e.Name(), ".log"))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "size",
			Short: "Report total bytes used by stored rollouts",
			RunE: func(cmd *cobra.Command, args []string) error {
				dir := filepath.Join(dataDir(), "rollouts")
				var total int64
				_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
					if err == nil && !info.IsDir() {
						total += info.Size()
					}
					return nil
				})
				fmt.Fprintf(cmd.OutOrStdout(), "%d bytes\n", total)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <conversation-id>",
			Short: "Print the raw rollout log for a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				records, err := rollout.ReadAll(dataDir(), args[0])
				if err != nil {
					return err
				}
				for _, rec := range records {
					fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s %s %s\n", rec.Seq, rec.TS.Format("15:04:05"), rec.Kind, string(rec.Payload))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear <conversation-id>",
			Short: "Delete a stored conversation's rollout log",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := rollout.Path(dataDir(), args[0])
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

// buildAgentsCmd groups sub-agent type discovery and authoring commands.
func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List, create, show, or remove sub-agent types",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List built-in and custom sub-agent types",
			RunE: func(cmd *cobra.Command, args []string) error {
				types := mergedAgentTypes()
				for _, name := range sortedAgentNames(types) {
					fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", name, types[name].Description)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <name>",
			Short: "Show one sub-agent type's full definition",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				types := mergedAgentTypes()
				at, ok := types[args[0]]
				if !ok {
					return fmt.Errorf("unknown agent type %q", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "name: %s\ndescription: %s\nallowed_tools: %v\nmodel: %s\n\n%s\n",
					args[0], at.Description, at.AllowedTools, at.Model, at.SystemPrompt)
				return nil
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a custom agent type file under .cortex/agents/",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir := filepath.Join(".", ".cortex", "agents")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				path := filepath.Join(dir, args[0]+".md")
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("agent type %q already exists at %s", args[0], path)
				}
				tmpl := fmt.Sprintf("---\nname: %s\ndescription: TODO\nallowed_tools:\n  - read\n---\nYou are a focused sub-agent. TODO: describe its task.\n", args[0])
				if err := os.WriteFile(path, []byte(tmpl), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a custom agent type file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, dir := range agentSearchDirs() {
					path := filepath.Join(dir, args[0]+".md")
					if err := os.Remove(path); err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
						return nil
					}
				}
				return fmt.Errorf("no custom agent type file found for %q (built-in types cannot be removed)", args[0])
			},
		},
	)
	return cmd
}

func agentSearchDirs() []string {
	dirs := []string{filepath.Join(".", ".cortex", "agents")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".cortex", "agents"))
	}
	return dirs
}

func mergedAgentTypes() map[string]subagent.AgentType {
	types := subagent.BuiltinAgentTypes()
	for name, at := range subagent.DiscoverCustomAgentTypes(agentSearchDirs()...) {
		types[name] = at
	}
	return types
}

func sortedAgentNames(types map[string]subagent.AgentType) []string {
	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

func dataDir() string {
	if v := os.Getenv("CORTEX_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cortex", "data")
	}
	return filepath.Join(home, ".cortex", "data")
}

// buildProvider selects an agent.LLMProvider per CortexConfig and the
// process environment, the way the teacher's channel adapters pick a
// backend from config (spec §6 "Model provider").
func buildProvider(cfg *config.CortexConfig) (agent.LLMProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key, MaxRetries: 3})
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return providers.NewOpenAIProvider(key), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// buildToolRegistry wires the filesystem and process tools into the
// taxonomy-aware registry the executor dispatches against. When
// mcpCfg enables any servers, their tools/resources/prompts are bridged
// in as KindMcpProxy tools too (spec §5 "Tool taxonomy").
func buildToolRegistry(ctx context.Context, workspace string, mcpCfg mcp.Config) *toolexec.Registry {
	reg := toolexec.NewRegistry()
	filesCfg := files.Config{Workspace: workspace}
	reg.Register(toolexec.Wrap(files.NewReadTool(filesCfg), toolexec.KindReadOnly))
	reg.Register(toolexec.Wrap(files.NewWriteTool(filesCfg), toolexec.KindFileWrite))
	reg.Register(toolexec.Wrap(files.NewEditTool(filesCfg), toolexec.KindFileWrite))
	reg.Register(toolexec.Wrap(files.NewApplyPatchTool(filesCfg), toolexec.KindFileWrite))

	mgr := exec.NewManager(workspace)
	reg.Register(toolexec.Wrap(exec.NewExecTool("exec", mgr), toolexec.KindShell))
	reg.Register(toolexec.Wrap(exec.NewProcessTool(mgr), toolexec.KindShell))

	searchCfg := &websearch.Config{DefaultBackend: websearch.BackendDuckDuckGo, ExtractContent: true}
	if key := os.Getenv("CORTEX_BRAVE_API_KEY"); key != "" {
		searchCfg.BraveAPIKey = key
		searchCfg.DefaultBackend = websearch.BackendBraveSearch
	}
	reg.Register(toolexec.Wrap(websearch.NewWebSearchTool(searchCfg), toolexec.KindNetwork))
	reg.Register(toolexec.Wrap(websearch.NewWebFetchTool(nil), toolexec.KindNetwork))

	memCfg := &memorysearch.Config{Directory: filepath.Join(workspace, ".cortex", "memory"), WorkspacePath: workspace, Mode: "lexical"}
	reg.Register(toolexec.Wrap(memorysearch.NewMemorySearchTool(memCfg), toolexec.KindReadOnly))
	reg.Register(toolexec.Wrap(memorysearch.NewMemoryGetTool(memCfg), toolexec.KindReadOnly))

	if mcpCfg.Enabled {
		mgr := mcp.NewManager(&mcpCfg, slog.Default())
		if err := mgr.Start(ctx); err != nil {
			slog.Default().Warn("mcp: server start failed", "error", err)
		}
		mcp.RegisterTools(reg, mgr)
	}
	return reg
}

// runInteractive builds every collaborator and drives a simple
// stdin/stdout read-eval-print loop. Cortex's own interactive surface
// (spec §1) is explicitly out of scope for this terminal agent module,
// but a CLI needs some loop to be a runnable binary.
func runInteractive(ctx context.Context, resumeID string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	cfg, err := config.LoadCortexConfig(home, wd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, issue := range plugins.ValidatePluginPaths(cfg.PluginPaths) {
		slog.Default().Warn("plugin manifest invalid", "issue", issue)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	tools := buildToolRegistry(ctx, wd, cfg.MCP)
	permEngine := permission.NewEngine(cfg.AutonomyLevel(), cfg.PermissionSeed())
	sandboxBuilder := sandbox.NewNativeBuilder()
	dispatcher := hooks.NewDispatcher(hooks.NewRegistry())

	runner := subagent.NewRunner(subagent.Config{
		Tools:          tools,
		Provider:       provider,
		Hooks:          dispatcher,
		Permission:     permEngine,
		SandboxBuilder: sandboxBuilder,
		DataDir:        dataDir(),
		ParentConvID:   resumeID,
	})
	executor := toolexec.NewExecutor(tools, runner)

	sessCfg := session.Config{
		ConversationID: resumeID,
		DataDir:        dataDir(),
		Provider:       provider,
		Tools:          tools,
		Executor:       executor,
		Hooks:          dispatcher,
		Permission:     permEngine,
		SandboxBuilder: sandboxBuilder,
		Retry:          retry.DefaultPolicy(),
		Breaker:        breaker.New(breaker.Config{Name: "model", FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}),
		Autonomy:       cfg.AutonomyLevel(),
		TurnContext:    proto.TurnContext{SandboxPolicy: cfg.SandboxPolicy(), Cwd: wd, Model: cfg.Model},
	}

	var rt *session.Runtime
	if resumeID != "" {
		rt, err = session.Resume(sessCfg)
	} else {
		rt, err = session.New(sessCfg)
	}
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = rt.Submit(runCtx, proto.Submission{ID: "sigint", Op: proto.Op{Kind: proto.OpInterrupt}})
	}()

	var pendingApproval atomic.Value
	pendingApproval.Store("")

	go rt.Run(runCtx)
	done := make(chan struct{})
	go func() {
		printEvents(rt, &pendingApproval)
		close(done)
	}()

	fmt.Printf("cortex session %s (provider=%s autonomy=%s)\n", rt.ConversationID(), provider.Name(), cfg.AutonomyLevel())
	fmt.Println("type a message and press enter; ctrl-c to interrupt, ctrl-d to exit")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var stdinSeq int
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if callID, _ := pendingApproval.Load().(string); callID != "" {
			pendingApproval.Store("")
			decision := proto.Denied
			if yes := strings.ToLower(strings.TrimSpace(line)); yes == "y" || yes == "yes" {
				decision = proto.Approved
			}
			if err := rt.Submit(runCtx, proto.Submission{
				ID: fmt.Sprintf("approval-%s", callID),
				Op: proto.Op{Kind: proto.OpExecApproval, CallID: callID, Decision: decision},
			}); err != nil {
				fmt.Fprintln(os.Stderr, "submit approval:", err)
			}
			continue
		}
		stdinSeq++
		if err := rt.Submit(runCtx, proto.Submission{
			ID: fmt.Sprintf("stdin-%d", stdinSeq),
			Op: proto.Op{Kind: proto.OpUserInput, Items: []proto.UserInput{{Kind: "text", Text: line}}},
		}); err != nil {
			fmt.Fprintln(os.Stderr, "submit:", err)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}

	_ = rt.Submit(runCtx, proto.Submission{ID: "shutdown", Op: proto.Op{Kind: proto.OpShutdown}})
	<-done
	return nil
}

// printEvents renders every session event to stdout as a terminal agent
// would: streamed text deltas inline, tool activity and approvals as
// short status lines. An EventApprovalRequest records its CallID in
// pending so the stdin loop in runInteractive knows the next line typed
// is a y/n decision rather than a new user turn.
func printEvents(rt *session.Runtime, pending *atomic.Value) {
	for ev := range rt.Events() {
		switch ev.Kind {
		case proto.EventAgentMessageDelta:
			fmt.Print(ev.Text)
		case proto.EventAgentMessage:
			fmt.Println()
		case proto.EventToolCallStarted:
			fmt.Printf("\n> %s %v\n", ev.Tool, ev.Args)
		case proto.EventToolCallProgress:
			fmt.Printf("  ... %s\n", ev.Message)
		case proto.EventToolCallCompleted:
			status := "ok"
			if !ev.Success {
				status = "failed"
			}
			fmt.Printf("  [%s] %s\n", status, truncate(ev.Output, 400))
		case proto.EventApprovalRequest:
			pending.Store(ev.CallID)
			fmt.Printf("\napproval requested for %s (risk=%s, call=%s) - allow? [y/N]\n", ev.Tool, ev.Risk, ev.CallID)
		case proto.EventTurnAborted:
			fmt.Printf("\nturn aborted: %s\n", ev.Reason)
		case proto.EventError:
			fmt.Printf("\nerror (%s): %s\n", ev.ErrKind, ev.ErrMessage)
		case proto.EventShutdownComplete:
			return
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
