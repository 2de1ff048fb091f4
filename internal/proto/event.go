package proto

import "time"

// EventKind tags the variant of an Event emitted by the session.
type EventKind string

const (
	EventSessionConfigured    EventKind = "session_configured"
	EventUserMessage          EventKind = "user_message"
	EventAgentMessageDelta    EventKind = "agent_message_delta"
	EventAgentMessage         EventKind = "agent_message"
	EventToolCallStarted      EventKind = "tool_call_started"
	EventToolCallProgress     EventKind = "tool_call_progress"
	EventToolCallCompleted    EventKind = "tool_call_completed"
	EventApprovalRequest      EventKind = "approval_request"
	EventTurnStarted          EventKind = "turn_started"
	EventTurnCompleted        EventKind = "turn_completed"
	EventTurnAborted          EventKind = "turn_aborted"
	EventError                EventKind = "error"
	EventShutdownComplete     EventKind = "shutdown_complete"
)

// Usage reports token accounting for a completed turn.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ErrorKind is the taxonomy from §7: a classification, not a Go type.
type ErrorKind string

const (
	ErrKindNetwork      ErrorKind = "network"
	ErrKindRateLimit    ErrorKind = "rate_limit"
	ErrKindProvider     ErrorKind = "provider"
	ErrKindTimeout      ErrorKind = "timeout"
	ErrKindPermission   ErrorKind = "permission"
	ErrKindSandbox      ErrorKind = "sandbox"
	ErrKindInvalidInput ErrorKind = "invalid_input"
	ErrKindStorage      ErrorKind = "storage"
	ErrKindInternal     ErrorKind = "internal"
)

// Event is a notification from the session to the outside world. Events
// belonging to one conversation are totally ordered; only the fields
// relevant to Kind are populated.
type Event struct {
	Kind      EventKind `json:"kind"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	ConversationID string `json:"conversation_id,omitempty"`

	// AgentMessageDelta / AgentMessage
	Text string `json:"text,omitempty"`

	// ToolCall*
	CallID string          `json:"call_id,omitempty"`
	Tool   string           `json:"tool,omitempty"`
	Args   map[string]any   `json:"args,omitempty"`
	Output string           `json:"output,omitempty"`
	Success bool            `json:"success,omitempty"`
	Message string          `json:"message,omitempty"` // ToolCallProgress

	// ApprovalRequest
	Risk RiskLevel `json:"risk,omitempty"`

	// TurnCompleted
	Usage *Usage `json:"usage,omitempty"`

	// TurnAborted
	Reason string `json:"reason,omitempty"`

	// Error
	ErrKind    ErrorKind `json:"err_kind,omitempty"`
	ErrMessage string    `json:"err_message,omitempty"`
	RetryAfter *int64    `json:"retry_after,omitempty"` // seconds
}
