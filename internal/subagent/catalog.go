// Package subagent implements C9: spawning a child session with a
// narrowed tool registry for the Task tool, streaming its progress back
// to the caller, and aggregating one final result. Built-in agent types
// are defined here; custom types are discovered from Markdown files with
// YAML front matter under <project>/.cortex/agents/ and
// <home>/.cortex/agents/, mirroring the front-matter convention
// internal/skills uses for SKILL.md.
package subagent

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentType describes one kind of sub-agent: its system prompt and the
// tool names it may use. A nil AllowedTools means "inherit whatever the
// caller passed," not "no tools."
type AgentType struct {
	Name         string   `yaml:"-"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"-"`
	AllowedTools []string `yaml:"allowed_tools"`
	Model        string   `yaml:"model,omitempty"`
}

// builtinPrompt is the shared prefix every built-in agent type's system
// prompt starts from; each type appends its own focus.
const builtinPrompt = "You are a focused sub-agent spawned to complete one delegated task. "

// BuiltinAgentTypes returns the nine required built-in agent types
// (spec §4.2 "Agent types (built-in)"). The returned map is a fresh
// copy; callers may merge custom types into it freely.
func BuiltinAgentTypes() map[string]AgentType {
	defs := []AgentType{
		{Name: "general", Description: "Unscoped delegated work.", SystemPrompt: builtinPrompt + "Use whatever tools the task needs."},
		{Name: "code", Description: "Writes or edits source code.", SystemPrompt: builtinPrompt + "Focus on correct, idiomatic code changes.", AllowedTools: []string{"read", "write", "edit", "apply_patch", "exec"}},
		{Name: "research", Description: "Gathers information without side effects.", SystemPrompt: builtinPrompt + "Investigate and summarize; do not modify anything.", AllowedTools: []string{"read", "websearch", "webfetch", "memory_search", "memory_get"}},
		{Name: "refactor", Description: "Restructures existing code without changing behavior.", SystemPrompt: builtinPrompt + "Preserve behavior while improving structure.", AllowedTools: []string{"read", "write", "edit", "apply_patch"}},
		{Name: "test", Description: "Writes or runs tests.", SystemPrompt: builtinPrompt + "Add coverage and verify it passes.", AllowedTools: []string{"read", "write", "edit", "exec"}},
		{Name: "documentation", Description: "Writes or updates documentation.", SystemPrompt: builtinPrompt + "Produce clear, accurate docs for what exists.", AllowedTools: []string{"read", "write", "edit"}},
		{Name: "security", Description: "Reviews for security issues.", SystemPrompt: builtinPrompt + "Look for vulnerabilities; do not fix unless asked.", AllowedTools: []string{"read", "exec"}},
		{Name: "architect", Description: "Plans structural or design changes.", SystemPrompt: builtinPrompt + "Propose a plan; avoid large unsolicited edits.", AllowedTools: []string{"read"}},
		{Name: "reviewer", Description: "Reviews a diff or change set for correctness.", SystemPrompt: builtinPrompt + "Be skeptical; report concrete defects only.", AllowedTools: []string{"read"}},
	}
	out := make(map[string]AgentType, len(defs))
	for _, d := range defs {
		out[d.Name] = d
	}
	return out
}

// agentFrontmatter is the YAML shape of a custom agent file's front
// matter, before the markdown body is folded in as SystemPrompt.
type agentFrontmatter struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AllowedTools []string `yaml:"allowed_tools"`
	Model        string   `yaml:"model"`
}

// DiscoverCustomAgentTypes reads every *.md file directly under each dir
// (later dirs win on name collision, so pass project before home to get
// project-over-home precedence) and parses it as a custom agent type.
// Invalid files are skipped, not fatal.
func DiscoverCustomAgentTypes(dirs ...string) map[string]AgentType {
	out := make(map[string]AgentType)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			at, err := parseAgentFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			out[at.Name] = *at
		}
	}
	return out
}

func parseAgentFile(path string) (*AgentType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	front, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	var fm agentFrontmatter
	if err := yaml.Unmarshal(front, &fm); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("agent file %s: name is required", path)
	}
	return &AgentType{
		Name:         fm.Name,
		Description:  fm.Description,
		SystemPrompt: strings.TrimSpace(string(body)),
		AllowedTools: fm.AllowedTools,
		Model:        fm.Model,
	}, nil
}

// splitFrontmatter separates leading "---" delimited YAML from the
// markdown body that follows it.
func splitFrontmatter(data []byte) (front, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return nil, nil, fmt.Errorf("missing opening front matter delimiter")
	}
	var frontLines, bodyLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing front matter delimiter")
	}
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return []byte(strings.Join(frontLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}
