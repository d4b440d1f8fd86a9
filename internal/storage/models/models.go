package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured request from the model to run a named tool.
// Arguments holds the raw JSON object emitted by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of a thread's history. Assistant messages may carry
// ToolCalls; tool messages carry the ToolCallID and Name they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type IngestionRun struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	Scanned        int       `json:"scanned"`
	Unchanged      int       `json:"unchanged"`
	Added          int       `json:"added"`
	Modified       int       `json:"modified"`
	Deleted        int       `json:"deleted"`
	Skipped        int       `json:"skipped"`
	ChunksUpserted int       `json:"chunks_upserted"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}
