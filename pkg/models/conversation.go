// Package models provides domain types for the Lorekeep assistant subsystem.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode governs whether tool execution requires human approval.
type Mode string

const (
	// ModePlan proposes actions but never executes any tool.
	ModePlan Mode = "plan"

	// ModeAsk executes read-only tools freely and pauses for approval
	// before any write-capable tool.
	ModeAsk Mode = "ask"

	// ModeAuto executes all tools, including writes, without pausing.
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode string. An empty string defaults to ModeAsk.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePlan, ModeAsk, ModeAuto:
		return Mode(s), nil
	case "":
		return ModeAsk, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Conversation is a durable thread of messages between a user and the assistant.
type Conversation struct {
	ID        string     `json:"id"`
	WorldID   string     `json:"world_id,omitempty"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title,omitempty"`
	Mode      Mode       `json:"mode"`
	PersonaID string     `json:"persona_id,omitempty"`
	Provider  string     `json:"provider,omitempty"` // overrides the configured default
	Model     string     `json:"model,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []*Message `json:"messages,omitempty"`
}

// Message is one turn in a conversation. Content and Thinking grow while
// IsStreaming is true; the message is frozen once the turn completes.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Thinking    string         `json:"thinking,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Pending     *PendingAction `json:"pending_action,omitempty"`
	IsStreaming bool           `json:"is_streaming,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolCall is the model's request to execute a tool. Immutable once emitted.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one ToolCall, matched by position. A ToolCall
// with no corresponding ToolResult did not complete (pending approval or aborted).
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IsError reports whether the result carries an execution error.
func (r ToolResult) IsError() bool { return r.Error != "" }

// DeniedMarker is the error string recorded when a user denies a pending action.
const DeniedMarker = "denied"

// PendingAction is a write-capable tool invocation awaiting human approval.
// Its ID equals the ID of the assistant message that produced it. At most one
// exists per conversation at any time.
type PendingAction struct {
	ID          string          `json:"id"`
	Tool        string          `json:"tool"`
	Input       json.RawMessage `json:"input"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ComposeContext carries the narrative records the user was looking at when
// they sent the message. All fields are optional.
type ComposeContext struct {
	WorldID     string `json:"worldId,omitempty"`
	StoryID     string `json:"storyId,omitempty"`
	BeatID      string `json:"beatId,omitempty"`
	CharacterID string `json:"characterId,omitempty"`
	LocationID  string `json:"locationId,omitempty"`
}

// IsZero reports whether no context record was supplied.
func (c ComposeContext) IsZero() bool {
	return c == ComposeContext{}
}

// User is an authenticated caller.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	// Worlds restricts the user to the named worlds. Empty means the
	// credential carries no world restriction.
	Worlds []string `json:"worlds,omitempty"`
}

// CanAccessWorld reports whether the user's credential allows working in
// the given world. An empty world id never names a world, so it is allowed.
func (u *User) CanAccessWorld(worldID string) bool {
	if u == nil || worldID == "" || len(u.Worlds) == 0 {
		return true
	}
	for _, w := range u.Worlds {
		if w == worldID {
			return true
		}
	}
	return false
}
