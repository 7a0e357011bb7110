package domain

import (
	"sort"
	"time"
)

// Role identifies who produced a message. The set is closed: channel
// adapters and providers switch over it exhaustively.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleFunction  Role = "function"
)

// MessageType classifies the payload of a message.
type MessageType string

const (
	TypeText           MessageType = "text"
	TypeAudio          MessageType = "audio"
	TypeImage          MessageType = "image"
	TypeFunctionCall   MessageType = "function_call"
	TypeFunctionResult MessageType = "function_result"
)

// AgentMessage is the runtime's channel-independent message representation.
// Messages are immutable once persisted; ordering is by Timestamp, not
// insertion index, because adapters may assign messages out of arrival
// order (voice transcripts in particular).
type AgentMessage struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Type       MessageType    `json:"type"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
}

// SortMessages orders messages chronologically in place.
func SortMessages(msgs []AgentMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// ConversationState is the live, in-memory view of one session's history.
// It is owned exclusively by the conversation manager; the runtime appends
// through the manager and never mutates the slice directly.
type ConversationState struct {
	SessionID string
	ThreadID  string
	Messages  []AgentMessage
	Metadata  map[string]any
}
