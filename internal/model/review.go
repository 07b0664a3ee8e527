package model

import "time"

// Decision is a reviewer's verdict on a request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	return string(d)
}

// IsValid checks whether the decision is a known value.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionDeny
}

// Review records one reviewer's decision on a request. Many reviews may exist
// per request; only reviews from sessions other than the requestor count
// toward the approval policy.
type Review struct {
	ID                int64     `json:"id,omitempty"`
	RequestID         string    `json:"request_id"`
	ReviewerSessionID string    `json:"reviewer_session_id"`
	Decision          Decision  `json:"decision"`
	Comment           string    `json:"comment,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
