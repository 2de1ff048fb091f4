// Package proto defines the wire-level data model shared between the
// session runtime and everything outside it: the tagged message union,
// the Submission/Op command set accepted from the UI, and the Event
// stream emitted back to it.
package proto

import (
	"encoding/json"
	"time"
)

// MessageKind tags the variant of a Message.
type MessageKind string

const (
	MessageUserText      MessageKind = "user_text"
	MessageAssistantText MessageKind = "assistant_text"
	MessageToolCall      MessageKind = "tool_call"
	MessageToolResult    MessageKind = "tool_result"
	MessageSystem        MessageKind = "system"
)

// Message is the tagged union stored in conversation history and the
// rollout. Only the fields relevant to Kind are populated.
type Message struct {
	Kind MessageKind `json:"kind"`

	// UserText / AssistantText / System
	Text string `json:"text,omitempty"`

	// ToolCall
	CallID string          `json:"call_id,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`

	// ToolResult
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UserText constructs a user message.
func UserText(text string) Message {
	return Message{Kind: MessageUserText, Text: text, CreatedAt: stamp()}
}

// AssistantText constructs a completed assistant message.
func AssistantText(text string) Message {
	return Message{Kind: MessageAssistantText, Text: text, CreatedAt: stamp()}
}

// ToolCall constructs a model-initiated tool call message.
func ToolCall(callID, tool string, args json.RawMessage) Message {
	return Message{Kind: MessageToolCall, CallID: callID, Tool: tool, Args: args, CreatedAt: stamp()}
}

// ToolResult constructs the result message matching a ToolCall's CallID.
func ToolResult(callID, output string, success bool) Message {
	return Message{Kind: MessageToolResult, CallID: callID, Output: output, Success: success, CreatedAt: stamp()}
}

// SystemText constructs a system message, used for hook-injected text.
func SystemText(text string) Message {
	return Message{Kind: MessageSystem, Text: text, CreatedAt: stamp()}
}

// stamp is a seam so tests can override clock behavior; production code
// always uses wall time.
var stamp = func() time.Time { return time.Now().UTC() }

// UserInput is one item of a UserInput submission: plain text today,
// left open (via Kind) for future attachment-carrying items.
type UserInput struct {
	Kind string `json:"kind"` // "text" is the only kind the core interprets
	Text string `json:"text,omitempty"`
}
