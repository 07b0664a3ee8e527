package model

import "time"

// RiskTier classifies how much damage a command can do.
type RiskTier string

const (
	TierSafe      RiskTier = "safe"
	TierDangerous RiskTier = "dangerous"
	TierCritical  RiskTier = "critical"
)

// String returns the string representation of the tier.
func (t RiskTier) String() string {
	return string(t)
}

// IsValid checks whether the tier is a known value.
func (t RiskTier) IsValid() bool {
	switch t {
	case TierSafe, TierDangerous, TierCritical:
		return true
	}
	return false
}

// MinApprovals returns the approval count policy for the tier.
// Safe commands never reach the approval flow.
func (t RiskTier) MinApprovals() int {
	switch t {
	case TierCritical:
		return 2
	case TierDangerous:
		return 1
	}
	return 0
}

// Status represents the current state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusTimedOut  Status = "timed_out"
	StatusEscalated Status = "escalated"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusExecuting,
		StatusExecuted, StatusTimedOut, StatusEscalated:
		return true
	}
	return false
}

// IsTerminal reports whether the status is an end state kept for the audit
// trail. Terminal requests are never deleted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusDenied, StatusTimedOut, StatusEscalated:
		return true
	}
	return false
}

// Actionable reports whether the request still needs reviewer attention.
func (s Status) Actionable() bool {
	return s == StatusPending || s == StatusApproved
}

// CommandSpec is the command under review. Raw may contain secrets;
// DisplayRedacted, when set, is the sanitized form that all outward-facing
// presentation must prefer.
type CommandSpec struct {
	Raw             string `json:"raw"`
	Cwd             string `json:"cwd,omitempty"`
	DisplayRedacted string `json:"display_redacted,omitempty"`
}

// Display returns the form of the command safe to show outside the daemon.
func (c CommandSpec) Display() string {
	if c.DisplayRedacted != "" {
		return c.DisplayRedacted
	}
	return c.Raw
}

// Justification is the requestor's stated reason for running the command.
type Justification struct {
	Reason string `json:"reason"`
}

// Request is an approval request for a single risky command.
type Request struct {
	ID                    string        `json:"id"`
	ProjectPath           string        `json:"project_path"`
	Command               CommandSpec   `json:"command"`
	RiskTier              RiskTier      `json:"risk_tier"`
	RequestorSessionID    string        `json:"requestor_session_id"`
	RequestorAgent        string        `json:"requestor_agent"`
	RequestorModel        string        `json:"requestor_model,omitempty"`
	Justification         Justification `json:"justification"`
	MinApprovals          int           `json:"min_approvals"`
	RequireDifferentModel bool          `json:"require_different_model,omitempty"`
	Status                Status        `json:"status"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}
