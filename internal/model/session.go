package model

import "time"

// Session is one agent participant for the life of one working session.
// Immutable once created; referenced by requests and reviews.
type Session struct {
	ID          string    `json:"id"`
	AgentName   string    `json:"agent_name"`
	Program     string    `json:"program,omitempty"`
	Model       string    `json:"model,omitempty"`
	ProjectPath string    `json:"project_path"`
	CreatedAt   time.Time `json:"created_at"`
}
