package server

import "time"

type ResponseModel struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CheckpointModel is the JSON view of a stored checkpoint
type CheckpointModel struct {
	Source    string                  `json:"source"`
	Cursor    *time.Time              `json:"cursor,omitempty"`
	Offsets   map[string]int64        `json:"offsets,omitempty"`
	Pending   map[string]PendingModel `json:"pending,omitempty"`
	Runs      uint64                  `json:"runs"`
	UpdatedAt time.Time               `json:"updated_at"`
}

type PendingModel struct {
	Since   time.Time `json:"since"`
	Payload string    `json:"payload,omitempty"`
}
