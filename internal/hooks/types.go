// Package hooks implements C4: the extensibility plane that fires typed
// lifecycle events to user-supplied handlers, which may observe, modify,
// or veto the session's progress (spec §4.4).
package hooks

import "time"

// Type identifies a labeled lifecycle point the session fires hooks at.
type Type string

const (
	SessionStarting   Type = "session.starting"
	SessionEnded      Type = "session.ended"
	TurnBefore        Type = "turn.before"
	TurnAfter         Type = "turn.after"
	MessageUser       Type = "message.user"
	MessageAssistant  Type = "message.assistant"
	ToolBefore        Type = "tool.before"
	ToolAfter         Type = "tool.after"
	ToolError         Type = "tool.error"
	PermissionAsked   Type = "permission.asked"
	PermissionGranted Type = "permission.granted"
	PermissionDenied  Type = "permission.denied"
	CompactionBefore  Type = "compaction.before"
	CompactionAfter   Type = "compaction.after"
	ErrorEncountered  Type = "error.encountered"
)

// Context carries the session id, an optional turn/call id, cwd, and a
// typed payload to every handler invoked for one Type.
type Context struct {
	Type           Type
	ConversationID string
	TurnID         string
	CallID         string
	Cwd            string
	Timestamp      time.Time
	Payload        map[string]any
}

// Response is the typed return value of a hook handler.
type Response struct {
	Kind ResponseKind

	// ContinueWith
	Data map[string]any

	// Stop / Error
	Reason string

	// InjectMessage
	Text string
}

// ResponseKind tags the Response variant.
type ResponseKind string

const (
	Continue     ResponseKind = "continue"
	ContinueWith ResponseKind = "continue_with"
	Stop         ResponseKind = "stop"
	Skip         ResponseKind = "skip"
	InjectMessage ResponseKind = "inject_message"
	ErrorResponse ResponseKind = "error"
)

// CombinedResult folds every handler's Response for one firing into a
// single outcome the session consumes (spec §4.4).
type CombinedResult struct {
	ShouldContinue bool
	Payload        map[string]any
	InjectedText   []string
	StopReason     string
	ErrorMessage   string // set when a handler returned Error
}
