package model

import "fmt"

// ValidateRequest checks the structural invariants of a request before it is
// persisted. The critical tier carries a hard two-approval floor.
func ValidateRequest(r *Request) error {
	if r.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if r.Command.Raw == "" {
		return fmt.Errorf("command is required")
	}
	if r.RequestorSessionID == "" {
		return fmt.Errorf("requestor session id is required")
	}
	if !r.RiskTier.IsValid() {
		return fmt.Errorf("invalid risk tier %q", r.RiskTier)
	}
	if r.RiskTier == TierSafe {
		return fmt.Errorf("safe commands do not create requests")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.MinApprovals < 1 {
		return fmt.Errorf("min_approvals must be at least 1, got %d", r.MinApprovals)
	}
	if r.RiskTier == TierCritical && r.MinApprovals < 2 {
		return fmt.Errorf("critical requests require at least 2 approvals, got %d", r.MinApprovals)
	}
	return nil
}

// ValidateReview checks the structural invariants of a review.
func ValidateReview(rv *Review) error {
	if rv.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	if rv.ReviewerSessionID == "" {
		return fmt.Errorf("reviewer session id is required")
	}
	if !rv.Decision.IsValid() {
		return fmt.Errorf("invalid decision %q", rv.Decision)
	}
	return nil
}

// ValidateSession checks the structural invariants of a session.
func ValidateSession(s *Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.AgentName == "" {
		return fmt.Errorf("agent name is required")
	}
	if s.ProjectPath == "" {
		return fmt.Errorf("project path is required")
	}
	return nil
}
