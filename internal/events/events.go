package events

import (
	"context"

	"github.com/groblegark/pairlock/internal/model"
)

// Event topic constants
const (
	TopicRequestPending   = "pairlock.request.pending"
	TopicRequestApproved  = "pairlock.request.approved"
	TopicRequestDenied    = "pairlock.request.denied"
	TopicRequestExecuting = "pairlock.request.executing"
	TopicRequestExecuted  = "pairlock.request.executed"
	TopicRequestTimeout   = "pairlock.request.timeout"
	TopicRequestEscalated = "pairlock.request.escalated"

	// Free-form broadcasts relayed from the notify IPC method.
	TopicNotify = "pairlock.notify"
)

// Event types

// RequestPending announces a newly filed approval request.
type RequestPending struct {
	Request *model.Request `json:"request"`
}

// RequestSettled announces a request reaching approved or a terminal status.
type RequestSettled struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// ExecutionClaimed announces that a session won the execution token.
type ExecutionClaimed struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}

// ExecutionFinished announces a claimed command completing.
type ExecutionFinished struct {
	RequestID string `json:"request_id"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

// NotifyBroadcast relays a client broadcast from the notify method.
type NotifyBroadcast struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
