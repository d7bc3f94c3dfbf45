package model

import "time"

// ToolCall is one audited tool execution, persisted by the call log worker.
type ToolCall struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"` // stream entry id, unique
	Tool        string    `json:"tool"`
	CallerID    string    `json:"caller_id"`
	UserID      string    `json:"user_id,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Tier        string    `json:"tier"`
	Outcome     string    `json:"outcome"`
	DurationMs  int64     `json:"duration_ms"`
	CalledAt    time.Time `json:"called_at"`
}
