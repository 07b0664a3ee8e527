// Package ipc implements the daemon's wire protocol: newline-delimited JSON
// over a local unix socket or an authenticated TCP listener. Both listeners
// share one dispatcher.
package ipc

import "encoding/json"

// Error codes, JSON-RPC style.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidParams  = -32602
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603
)

// RPCRequest is one request line on the wire.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int64           `json:"id"`
}

// RPCResponse is one response line on the wire. Exactly one of Result and
// Error is set.
type RPCResponse struct {
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
	ID     int64     `json:"id"`
}

// RPCError carries a protocol-level failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Event is one fan-out message pushed to subscribed connections. On the
// wire the payload fields are flattened next to the type:
// {"event":{"type":"x","request_id":"req-1"}}.
type Event struct {
	Type    string
	Payload map[string]any
}

// MarshalJSON flattens the payload fields alongside the type key.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		obj[k] = v
	}
	obj["type"] = e.Type
	return json.Marshal(obj)
}

// UnmarshalJSON splits the type key back out of the flattened object.
func (e *Event) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Type, _ = obj["type"].(string)
	delete(obj, "type")
	e.Payload = obj
	return nil
}

// eventEnvelope is the wire framing for pushed events.
type eventEnvelope struct {
	Event Event `json:"event"`
}

// HookQueryParams classifies a command before the wrapper runs it. When the
// classification blocks and SessionID is set, the daemon registers the
// session and opens an approval request in one round trip.
type HookQueryParams struct {
	Command               string `json:"command"`
	CWD                   string `json:"cwd,omitempty"`
	SessionID             string `json:"session_id,omitempty"`
	Agent                 string `json:"agent,omitempty"`
	Program               string `json:"program,omitempty"`
	Model                 string `json:"model,omitempty"`
	ProjectPath           string `json:"project_path,omitempty"`
	Justification         string `json:"justification,omitempty"`
	RequireDifferentModel bool   `json:"require_different_model,omitempty"`
}

// HookQueryResult is the classification verdict.
type HookQueryResult struct {
	Action       string `json:"action"`
	Tier         string `json:"tier"`
	MinApprovals int    `json:"min_approvals"`
	Rule         string `json:"rule,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	RateLimited  bool   `json:"rate_limited,omitempty"`
}

// HookHealthResult reports the classifier the daemon is enforcing.
type HookHealthResult struct {
	Status        string  `json:"status"`
	PatternHash   string  `json:"pattern_hash"`
	PatternCount  int     `json:"pattern_count"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// StatusResult is the daemon status summary.
type StatusResult struct {
	PendingCount   int     `json:"pending_count"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	ActiveSessions int     `json:"active_sessions"`
}

// NotifyParams publishes an event to all subscribers.
type NotifyParams struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// VerifyExecuteParams asks for the execution token on a request.
type VerifyExecuteParams struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}

// VerifyExecuteResult is the verdict on an execution attempt. A refusal is
// a successful response, not an error.
type VerifyExecuteResult struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id"`
	Status    string `json:"status,omitempty"`
}

// ReviewParams records a reviewer's decision on a request.
type ReviewParams struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	Decision  string `json:"decision"`
	Comment   string `json:"comment,omitempty"`
}

// ReviewResult reports the request status after a review is applied.
type ReviewResult struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// SubscribeResult acknowledges a subscription.
type SubscribeResult struct {
	Subscribed     bool   `json:"subscribed"`
	SubscriptionID string `json:"subscription_id"`
}

// authRequest is the first line a client sends on an authenticated TCP
// connection.
type authRequest struct {
	SessionKey string `json:"session_key"`
}

// authResponse acknowledges or refuses the handshake.
type authResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func errResponse(id int64, code int, message string) RPCResponse {
	return RPCResponse{Error: &RPCError{Code: code, Message: message}, ID: id}
}

func okResponse(id int64, result any) RPCResponse {
	return RPCResponse{Result: result, ID: id}
}
