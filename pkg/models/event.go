package models

import (
	"encoding/json"
	"time"
)

// StreamEventType identifies the kind of event on the assistant stream.
type StreamEventType string

const (
	EventToken          StreamEventType = "token"
	EventThinking       StreamEventType = "thinking"
	EventToolUse        StreamEventType = "tool_use"
	EventToolResult     StreamEventType = "tool_result"
	EventApprovalNeeded StreamEventType = "approval_needed"
	EventComplete       StreamEventType = "complete"
	EventError          StreamEventType = "error"
)

// Terminal reports whether the event ends the current generation cycle.
func (t StreamEventType) Terminal() bool {
	return t == EventComplete || t == EventError || t == EventApprovalNeeded
}

// StreamEvent is one frame on the assistant's push stream.
//
// Sequence is monotonic within a generation cycle so consumers can assert
// delivery order matches emission order. Exactly one payload pointer is
// non-nil for a given Type.
type StreamEvent struct {
	Type           StreamEventType `json:"type"`
	Sequence       uint64          `json:"seq"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Time           time.Time       `json:"time"`

	Token    *TokenPayload    `json:"token,omitempty"`
	ToolUse  *ToolCall        `json:"tool_use,omitempty"`
	Result   *ToolResult      `json:"tool_result,omitempty"`
	Approval *ApprovalPayload `json:"approval,omitempty"`
	Complete *CompletePayload `json:"complete,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
}

// TokenPayload carries an incremental text or thinking delta.
type TokenPayload struct {
	Text string `json:"text"`
}

// ApprovalPayload announces a pending action that needs a human decision.
type ApprovalPayload struct {
	MessageID   string          `json:"message_id"`
	Tool        string          `json:"tool"`
	Input       json.RawMessage `json:"input"`
	Description string          `json:"description,omitempty"`
}

// CompletePayload closes a successful generation cycle with the assembled
// message content.
type CompletePayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content,omitempty"`
}

// ErrorPayload is the single terminal error frame of a failed cycle.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
