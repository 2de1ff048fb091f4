package proto

// ApprovalPolicy governs whether a tool call needs an explicit approval
// round trip before it runs.
type ApprovalPolicy string

const (
	ApprovalNever         ApprovalPolicy = "never"          // always deny
	ApprovalOnRequest     ApprovalPolicy = "on_request"      // ask user
	ApprovalOnFailure     ApprovalPolicy = "on_failure"      // ask only after a first failure
	ApprovalUnlessTrusted ApprovalPolicy = "unless_trusted"  // allow if trusted pattern matches
)

// AutonomyLevel is the user-chosen ceiling on which risk classes
// auto-approve. Levels are monotone: each level is a superset of the
// previous level's auto-approved risk classes.
type AutonomyLevel int

const (
	AutonomyManual AutonomyLevel = iota
	AutonomyLow
	AutonomyMedium
	AutonomyHigh
	AutonomySkipPermissionsUnsafe
)

func (a AutonomyLevel) String() string {
	switch a {
	case AutonomyManual:
		return "manual"
	case AutonomyLow:
		return "low"
	case AutonomyMedium:
		return "medium"
	case AutonomyHigh:
		return "high"
	case AutonomySkipPermissionsUnsafe:
		return "skip_permissions_unsafe"
	default:
		return "unknown"
	}
}

// ParseAutonomyLevel parses the CLI/config string form.
func ParseAutonomyLevel(s string) (AutonomyLevel, bool) {
	switch s {
	case "manual":
		return AutonomyManual, true
	case "low":
		return AutonomyLow, true
	case "medium":
		return AutonomyMedium, true
	case "high":
		return AutonomyHigh, true
	case "skip_permissions_unsafe":
		return AutonomySkipPermissionsUnsafe, true
	default:
		return AutonomyManual, false
	}
}

// RiskLevel is a total order assigned to a proposed side effect by the
// command classifier. Safe < Low < Medium < High < Critical.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Threshold is the highest RiskLevel an AutonomyLevel auto-approves
// before the safety interlock and pattern rules are consulted. High
// auto-approves everything except interlocked patterns (Critical is
// never auto-approved by threshold alone — see permission.Decide).
func (a AutonomyLevel) Threshold() RiskLevel {
	switch a {
	case AutonomyManual:
		return RiskSafe - 1 // auto-approves nothing
	case AutonomyLow:
		return RiskLow
	case AutonomyMedium:
		return RiskMedium
	case AutonomyHigh, AutonomySkipPermissionsUnsafe:
		return RiskHigh
	default:
		return RiskSafe - 1
	}
}

// Host names an allowed network destination.
type Host string

// SandboxPolicy describes what a sandboxed shell tool may read, write,
// and reach on the network.
type SandboxPolicy struct {
	Mode string `json:"mode"` // "read_only" | "workspace_write" | "danger_full_access"

	// WorkspaceWrite fields
	WritableRoots []string `json:"writable_roots,omitempty"`
	Network       bool     `json:"network,omitempty"`
	AllowedHosts  []Host   `json:"allowed_hosts,omitempty"`
}

const (
	SandboxReadOnly        = "read_only"
	SandboxWorkspaceWrite  = "workspace_write"
	SandboxDangerFullAccess = "danger_full_access"
)

// PatternScope is how long an approved pattern remains in force.
type PatternScope string

const (
	ScopeOnce    PatternScope = "once"
	ScopeSession PatternScope = "session"
	ScopeAlways  PatternScope = "always"
)

// PatternResponse is the configured response for a matching pattern.
type PatternResponse string

const (
	PatternAllow PatternResponse = "allow"
	PatternDeny  PatternResponse = "deny"
	PatternAsk   PatternResponse = "ask"
)

// Permission is a single pattern rule: tool/path/command glob mapped to
// a response, with a scope controlling its lifetime.
type Permission struct {
	Tool     string          `json:"tool"`
	Pattern  string          `json:"pattern"`
	Response PatternResponse `json:"response"`
	Scope    PatternScope    `json:"scope"`
}

// TurnContext carries per-turn overrides, inherited from session
// defaults and mutated by OverrideTurnContext.
type TurnContext struct {
	Model          string
	Effort         string
	ApprovalPolicy ApprovalPolicy
	SandboxPolicy  SandboxPolicy
	Cwd            string
	SummaryStyle   string
}

// HookRegistration describes one registered hook handler.
type HookRegistration struct {
	PluginName string `json:"plugin_name"`
	HookType   string `json:"hook_type"`
	Priority   int32  `json:"priority"`
	Enabled    bool   `json:"enabled"`
}

// SubagentConfig configures a Task (sub-agent) spawn.
type SubagentConfig struct {
	AgentType        string        `json:"agent_type"`
	Description      string        `json:"description"`
	Prompt           string        `json:"prompt"`
	Cwd              string        `json:"cwd"`
	MaxIterations    int           `json:"max_iterations,omitempty"`
	TimeoutSeconds   int           `json:"timeout_seconds,omitempty"`
	ParentSessionID  string        `json:"parent_session_id,omitempty"`
	Model            string        `json:"model,omitempty"`
	AllowedTools     []string      `json:"allowed_tools,omitempty"`
	AncestorChain    []string      `json:"-"` // parent-id chain, not serialized on the wire
}
