package permission

import (
	"sync"

	"github.com/haasonsaas/cortex/internal/proto"
)

// Outcome is the result of a permission decision.
type Outcome string

const (
	AutoApprove    Outcome = "auto_approve"
	RequireApproval Outcome = "require_approval"
	Block          Outcome = "block"
)

// Decision is the full result of Decide: the outcome plus the reason a
// human or log line should see.
type Decision struct {
	Outcome Outcome
	Reason  string
	Risk    proto.RiskLevel
}

// Engine implements the §4.3 decision procedure. One Engine per session;
// its session allowlist and runtime pattern set are mutated only by the
// session's own driver task (spec §5 "Shared resources").
type Engine struct {
	mu       sync.Mutex
	autonomy proto.AutonomyLevel
	matcher  *Matcher // runtime+config+default rules, pre-sorted
	session  map[string]bool // exact command strings granted ApprovedForSession
}

// NewEngine builds an Engine seeded with the config/default pattern
// rules. Runtime rules (scope Always / Session) are added later via
// Grant.
func NewEngine(autonomy proto.AutonomyLevel, seed []Rule) *Engine {
	return &Engine{
		autonomy: autonomy,
		matcher:  NewMatcher(seed),
		session:  make(map[string]bool),
	}
}

// SetAutonomy updates the engine's autonomy level (OverrideTurnContext).
func (e *Engine) SetAutonomy(level proto.AutonomyLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autonomy = level
}

// Decide runs the §4.3 decision procedure for a proposed shell command
// invoked via the named tool.
func (e *Engine) Decide(tool, command string) Decision {
	class := Classify(command)
	return e.decideWithClassification(tool, command, class, func() (bool, string) {
		return Interlocked(command)
	})
}

// DecideRisk runs the same decision procedure for a tool call that carries
// no shell command string (file edits, network fetches, MCP proxy calls,
// skills): the caller supplies the RiskLevel its taxonomy Kind maps to
// directly, instead of routing through the command classifier. key
// identifies the call for the session allowlist and pattern matcher in
// place of a literal command (typically the tool name).
func (e *Engine) DecideRisk(tool, key string, level RiskLevel, reason string) Decision {
	class := Classification{Level: level, Category: CategoryUnknown, Reason: reason}
	return e.decideWithClassification(tool, key, class, func() (bool, string) { return false, "" })
}

func (e *Engine) decideWithClassification(tool, key string, class Classification, interlock func() (bool, string)) Decision {
	e.mu.Lock()
	autonomy := e.autonomy
	e.mu.Unlock()

	// Step 1: SkipPermissionsUnsafe bypasses everything below.
	if autonomy == proto.AutonomySkipPermissionsUnsafe {
		return Decision{Outcome: AutoApprove, Reason: "autonomy=skip_permissions_unsafe"}
	}

	// Step 2: safety interlock, never overridable.
	if blocked, reason := interlock(); blocked {
		return Decision{Outcome: Block, Reason: reason, Risk: proto.RiskCritical}
	}

	// Step 3: session allowlist.
	e.mu.Lock()
	granted := e.session[key]
	e.mu.Unlock()
	if granted {
		return Decision{Outcome: AutoApprove, Reason: "previously approved for session", Risk: class.Level}
	}

	// Step 4: pattern match (runtime > config > default, fewest wildcards wins).
	if rule, ok := e.matcher.Match(tool, key); ok {
		switch rule.Response {
		case proto.PatternAllow:
			return Decision{Outcome: AutoApprove, Reason: "matched allow pattern " + rule.Pattern, Risk: class.Level}
		case proto.PatternDeny:
			return Decision{Outcome: Block, Reason: "matched deny pattern " + rule.Pattern, Risk: class.Level}
		case proto.PatternAsk:
			return Decision{Outcome: RequireApproval, Reason: "matched ask pattern " + rule.Pattern, Risk: class.Level}
		}
	}

	// Step 5: autonomy threshold.
	if class.Level <= autonomy.Threshold() {
		return Decision{Outcome: AutoApprove, Reason: "within autonomy threshold (" + autonomy.String() + ")", Risk: class.Level}
	}

	// Step 6: default.
	return Decision{Outcome: RequireApproval, Reason: "requires approval: " + class.Reason, Risk: class.Level}
}

// Grant records an approval decision against the engine's live state:
// Session scope adds to the allowlist, Always scope appends (and the
// caller is responsible for persisting) a new runtime pattern.
func (e *Engine) Grant(tool, command string, scope proto.PatternScope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch scope {
	case proto.ScopeSession:
		e.session[command] = true
	case proto.ScopeAlways:
		e.matcher.Add(Rule{
			Permission: proto.Permission{Tool: tool, Pattern: command, Response: proto.PatternAllow, Scope: proto.ScopeAlways},
			Precedence: PrecedenceRuntime,
		})
	}
}

// Rules exposes the current pattern set, e.g. for persistence of
// Always-scoped grants back to the runtime config file.
func (e *Engine) Rules() []Rule {
	return e.matcher.Rules()
}
