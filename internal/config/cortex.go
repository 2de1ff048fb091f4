package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/cortex/internal/mcp"
	"github.com/haasonsaas/cortex/internal/permission"
	"github.com/haasonsaas/cortex/internal/proto"
	"gopkg.in/yaml.v3"
)

// CortexConfig is the layered configuration the interactive agent reads
// at startup (spec §10 "Configuration"): default autonomy level, default
// sandbox policy, model provider selection, plugin/hook search paths,
// and permission defaults. It follows the same read-once-at-startup,
// env-expand-then-decode style as Load/Config above, scoped to the
// fields the session runtime actually consumes.
type CortexConfig struct {
	// Version pins the config.yaml schema version. Omitted means
	// unpinned; only a version newer than CurrentVersion is rejected.
	Version int `yaml:"version"`

	Autonomy string `yaml:"autonomy"` // manual|low|medium|high|skip_permissions_unsafe

	Sandbox struct {
		Mode          string   `yaml:"mode"` // read_only|workspace_write|danger_full_access
		WritableRoots []string `yaml:"writable_roots"`
		Network       bool     `yaml:"network"`
		AllowedHosts  []string `yaml:"allowed_hosts"`
	} `yaml:"sandbox"`

	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	Permissions []PermissionRule `yaml:"permissions"`

	PluginPaths []string `yaml:"plugin_paths"`
	HookPaths   []string `yaml:"hook_paths"`
	AgentPaths  []string `yaml:"agent_paths"`

	DataDir string `yaml:"data_dir"`

	// MCP configures the external tool servers bridged in as
	// KindMcpProxy tools (spec §5 "Tool taxonomy").
	MCP mcp.Config `yaml:"mcp"`
}

// PermissionRule is the on-disk shape of one configured pattern rule
// (spec §3 "Permission (entry)").
type PermissionRule struct {
	Tool     string `yaml:"tool"`
	Pattern  string `yaml:"pattern"`
	Response string `yaml:"response"` // allow|deny|ask
	Scope    string `yaml:"scope"`    // once|session|always
}

// DefaultCortexConfig returns the zero-config defaults: manual autonomy,
// read-only sandbox, no configured patterns beyond the built-in
// classifier and safety interlock.
func DefaultCortexConfig() *CortexConfig {
	cfg := &CortexConfig{
		Autonomy: "manual",
		Provider: "anthropic",
	}
	cfg.Sandbox.Mode = proto.SandboxReadOnly
	return cfg
}

// LoadCortexConfig merges, in order, <home>/.cortex/config.yaml then
// <project>/.cortex/config.yaml over the defaults — a project override
// always wins over a home default, matching a general home-then-project
// layering convention. Either file may be absent. Each file is read
// through LoadRaw, so a config.yaml may pull in shared fragments with
// a top-level $include: path or list of paths.
func LoadCortexConfig(homeDir, projectDir string) (*CortexConfig, error) {
	cfg := DefaultCortexConfig()
	for _, dir := range []string{homeDir, projectDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, ".cortex", "config.yaml")
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		payload, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("remarshal %s: %w", path, err)
		}
		if err := yaml.Unmarshal(payload, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	applyCortexEnvOverrides(cfg)
	return cfg, nil
}

// applyCortexEnvOverrides applies CORTEX_PROVIDER/CORTEX_MODEL, read
// once at startup per spec §6 "Environment variables" and §9 "Global
// state."
func applyCortexEnvOverrides(cfg *CortexConfig) {
	if v := os.Getenv("CORTEX_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("CORTEX_MODEL"); v != "" {
		cfg.Model = v
	}
}

// AutonomyLevel parses the configured autonomy string, defaulting to
// Manual on an unrecognized value.
func (c *CortexConfig) AutonomyLevel() proto.AutonomyLevel {
	level, ok := proto.ParseAutonomyLevel(strings.ToLower(c.Autonomy))
	if !ok {
		return proto.AutonomyManual
	}
	return level
}

// SandboxPolicy builds the proto.SandboxPolicy the configured sandbox
// section describes.
func (c *CortexConfig) SandboxPolicy() proto.SandboxPolicy {
	hosts := make([]proto.Host, 0, len(c.Sandbox.AllowedHosts))
	for _, h := range c.Sandbox.AllowedHosts {
		hosts = append(hosts, proto.Host(h))
	}
	mode := c.Sandbox.Mode
	if mode == "" {
		mode = proto.SandboxReadOnly
	}
	return proto.SandboxPolicy{
		Mode:          mode,
		WritableRoots: c.Sandbox.WritableRoots,
		Network:       c.Sandbox.Network,
		AllowedHosts:  hosts,
	}
}

// PermissionSeed converts the configured pattern rules into the seed
// permission.NewEngine expects, at PrecedenceConfig (runtime-granted
// rules from approvals are added later, at PrecedenceRuntime).
func (c *CortexConfig) PermissionSeed() []permission.Rule {
	out := make([]permission.Rule, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		out = append(out, permission.Rule{
			Permission: proto.Permission{
				Tool:     p.Tool,
				Pattern:  p.Pattern,
				Response: proto.PatternResponse(strings.ToLower(p.Response)),
				Scope:    proto.PatternScope(strings.ToLower(p.Scope)),
			},
			Precedence: permission.PrecedenceConfig,
		})
	}
	return out
}
