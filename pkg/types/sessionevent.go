package types

import "encoding/json"

// SessionEventType enumerates the tagged-union variants of a SessionEvent
// recorded by the session journal.
type SessionEventType string

const (
	EventText        SessionEventType = "text"
	EventThinking    SessionEventType = "thinking"
	EventToolCall    SessionEventType = "tool_call"
	EventToolResult  SessionEventType = "tool_result"
	EventError       SessionEventType = "error"
	EventDone        SessionEventType = "done"
	EventSteering    SessionEventType = "steering"
	EventTaskStart   SessionEventType = "task.start"
	EventTurnStart   SessionEventType = "turn.start"
	EventToolStart   SessionEventType = "tool.start"
	EventTurnEnd     SessionEventType = "turn.end"
	EventTaskEnd     SessionEventType = "task.end"
)

// SessionEvent is one entry in a job's append-only event stream.
//
// Invariants: a tool_result must follow its matching tool_call in the
// same session; task.start precedes all other events; task.end, if
// emitted, is last.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	Timestamp string           `json:"timestamp"` // ISO 8601 UTC
	Source    string           `json:"source,omitempty"` // provider name
	Content   json.RawMessage  `json:"content,omitempty"`
}

// ToolCallContent is the Content payload for an EventToolCall.
type ToolCallContent struct {
	CallID    string         `json:"callID"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultContent is the Content payload for an EventToolResult.
type ToolResultContent struct {
	CallID string `json:"callID"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
	Denied bool   `json:"denied,omitempty"`
}

// TextContent is the Content payload for EventText/EventThinking.
type TextContent struct {
	Text string `json:"text"`
}

// ErrorContent is the Content payload for EventError.
type ErrorContent struct {
	Message       string `json:"message"`
	IsCircuitOpen bool   `json:"isCircuitOpen,omitempty"`
	Category      string `json:"category,omitempty"`
}

// SteeringContent is the Content payload for EventSteering.
type SteeringContent struct {
	MessageID string `json:"messageID"`
	Text      string `json:"text"`
}

// DoneContent is the Content payload for EventDone.
type DoneContent struct {
	Text         string `json:"text"`
	FinishReason string `json:"finishReason"`
}

// TaskEndContent is the Content payload for EventTaskEnd.
type TaskEndContent struct {
	Aborted bool   `json:"aborted"`
	Reason  string `json:"reason,omitempty"`
}
