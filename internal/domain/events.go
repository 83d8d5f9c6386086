package domain

import "encoding/json"

// ExecutionEventType tags the messages of an execute_study stream.
type ExecutionEventType string

const (
	ExecutionLog      ExecutionEventType = "log"
	ExecutionError    ExecutionEventType = "error"
	ExecutionResult   ExecutionEventType = "result"
	ExecutionComplete ExecutionEventType = "complete"
)

// ExecutionEvent is one decoded line of the execution stream.
type ExecutionEvent struct {
	Type    ExecutionEventType `json:"type"`
	Message string             `json:"message,omitempty"`
	Data    json.RawMessage    `json:"data,omitempty"`
}

// ChatEventType tags the messages of a suggest_changes stream.
type ChatEventType string

const (
	ChatContent    ChatEventType = "content"
	ChatInfo       ChatEventType = "info"
	ChatToolCall   ChatEventType = "tool_call"
	ChatToolResult ChatEventType = "tool_result"
	ChatToolError  ChatEventType = "tool_error"
	ChatError      ChatEventType = "error"
	ChatComplete   ChatEventType = "complete"
	ChatResult     ChatEventType = "result"
)

// ChatEvent is one decoded line of the chat stream.
type ChatEvent struct {
	Type    ChatEventType   `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ChatRole tags the turns of the rolling conversation history.
type ChatRole string

const (
	RoleUser       ChatRole = "user"
	RoleSystem     ChatRole = "system"
	RoleUserAction ChatRole = "user_action"
)

// ChatTurn is one entry of the bounded conversation history.
type ChatTurn struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
	Loading bool     `json:"loading,omitempty"`
	IsError bool     `json:"is_error,omitempty"`
}
