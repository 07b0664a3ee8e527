package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/groblegark/pairlock/internal/events"
	"github.com/groblegark/pairlock/internal/idgen"
	"github.com/groblegark/pairlock/internal/model"
	"github.com/groblegark/pairlock/internal/notify"
	"github.com/groblegark/pairlock/internal/presence"
	"github.com/groblegark/pairlock/internal/ratelimit"
	"github.com/groblegark/pairlock/internal/risk"
	"github.com/groblegark/pairlock/internal/store"
	"github.com/groblegark/pairlock/internal/verify"
)

// Dispatcher routes decoded requests to their handlers. One dispatcher is
// shared by the unix and TCP listeners. Any dependency may be nil; handlers
// that need a missing one report an internal error rather than panic.
type Dispatcher struct {
	classifier *risk.Classifier
	verifier   *verify.Verifier
	store      store.Store
	hub        *Hub
	presence   *presence.Tracker
	bridge     events.Publisher
	notifier   *notify.Manager
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	started    time.Time
}

// DispatcherOptions carries the dispatcher's collaborators.
type DispatcherOptions struct {
	Classifier *risk.Classifier
	Verifier   *verify.Verifier
	Store      store.Store
	Hub        *Hub
	Presence   *presence.Tracker
	Bridge     events.Publisher
	Notifier   *notify.Manager
	Limiter    *ratelimit.Limiter
	Logger     *slog.Logger
}

// NewDispatcher builds a dispatcher. A nil classifier falls back to the
// built-in ruleset; a nil hub gets a private one so publishes never panic.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Classifier == nil {
		opts.Classifier = risk.NewClassifier()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		classifier: opts.Classifier,
		verifier:   opts.Verifier,
		store:      opts.Store,
		hub:        opts.Hub,
		presence:   opts.Presence,
		bridge:     opts.Bridge,
		notifier:   opts.Notifier,
		limiter:    opts.Limiter,
		logger:     opts.Logger,
		started:    time.Now(),
	}
}

// Hub returns the event hub shared by this dispatcher's listeners.
func (d *Dispatcher) Hub() *Hub {
	return d.hub
}

// Dispatch handles one request and produces its response. The subscribe
// method is connection-scoped and handled by the listener, not here.
func (d *Dispatcher) Dispatch(ctx context.Context, req RPCRequest) RPCResponse {
	switch req.Method {
	case "ping":
		return okResponse(req.ID, map[string]bool{"pong": true})
	case "status":
		return d.handleStatus(ctx, req)
	case "notify":
		return d.handleNotify(ctx, req)
	case "hook_query":
		return d.handleHookQuery(ctx, req)
	case "hook_health":
		return d.handleHookHealth(req)
	case "verify_execute":
		return d.handleVerifyExecute(ctx, req)
	case "review":
		return d.handleReview(ctx, req)
	default:
		return errResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// observe feeds the presence tracker. Safe with a nil tracker.
func (d *Dispatcher) observe(sessionID, agent, method string) {
	if d.presence != nil {
		d.presence.RecordCall(sessionID, agent, method)
	}
}

func (d *Dispatcher) handleStatus(ctx context.Context, req RPCRequest) RPCResponse {
	result := StatusResult{
		UptimeSeconds: time.Since(d.started).Seconds(),
	}
	if d.store != nil {
		n, err := d.store.CountPending(ctx)
		if err != nil {
			d.logger.Error("count pending requests", "error", err)
			return errResponse(req.ID, ErrCodeInternal, "count pending requests")
		}
		result.PendingCount = n
	}
	if d.presence != nil {
		result.ActiveSessions = d.presence.ActiveCount(presence.DefaultStaleThreshold)
	}
	return okResponse(req.ID, result)
}

func (d *Dispatcher) handleNotify(ctx context.Context, req RPCRequest) RPCResponse {
	var params NotifyParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, ErrCodeInvalidParams, "invalid notify params")
	}
	if params.Type == "" {
		return errResponse(req.ID, ErrCodeInvalidParams, "notify type is required")
	}

	payload, _ := params.Payload.(map[string]any)
	d.hub.Publish(Event{Type: params.Type, Payload: payload})
	d.publishBridge(ctx, events.TopicNotify, events.NotifyBroadcast{Type: params.Type, Payload: params.Payload})

	if params.Type == string(notify.EventExecuted) {
		d.completeExecution(ctx, payload)
	}
	return okResponse(req.ID, map[string]bool{"sent": true})
}

// completeExecution settles the executing->executed transition when a wrapper
// announces that a command finished. Best effort: the announcement already
// went out, so failures here are logged, not surfaced.
func (d *Dispatcher) completeExecution(ctx context.Context, payload map[string]any) {
	if d.verifier == nil || payload == nil {
		return
	}
	requestID, _ := payload["request_id"].(string)
	if requestID == "" {
		return
	}
	done, err := d.verifier.Complete(ctx, requestID)
	if err != nil {
		d.logger.Warn("complete execution", "request_id", requestID, "error", err)
		return
	}
	if !done {
		return
	}
	d.hub.Publish(Event{Type: "request_settled", Payload: map[string]any{
		"request_id": requestID,
		"status":     string(model.StatusExecuted),
	}})
	if d.store != nil && d.notifier != nil {
		request, err := d.store.GetRequest(ctx, requestID)
		if err == nil {
			var exitCode *int
			if v, ok := payload["exit_code"].(float64); ok {
				code := int(v)
				exitCode = &code
			}
			d.notifier.Emit(ctx, request, notify.EventExecuted, exitCode, d.approverNames(ctx, request))
		}
	}
}

// approverNames resolves the reviewers whose approvals carried the request,
// preferring agent names over session IDs. Best effort; an empty string
// just leaves approved_by out of the alert.
func (d *Dispatcher) approverNames(ctx context.Context, req *model.Request) string {
	reviews, err := d.store.ListReviews(ctx, req.ID)
	if err != nil {
		return ""
	}
	var names []string
	for _, review := range reviews {
		if review.Decision != model.DecisionApprove || review.ReviewerSessionID == req.RequestorSessionID {
			continue
		}
		name := review.ReviewerSessionID
		if sess, err := d.store.GetSession(ctx, review.ReviewerSessionID); err == nil && sess.AgentName != "" {
			name = sess.AgentName
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func (d *Dispatcher) handleHookQuery(ctx context.Context, req RPCRequest) RPCResponse {
	var params HookQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, ErrCodeInvalidParams, "invalid hook_query params")
	}
	if strings.TrimSpace(params.Command) == "" {
		return errResponse(req.ID, ErrCodeInvalidParams, "command is required")
	}
	d.observe(params.SessionID, params.Agent, "hook_query")

	verdict := d.classifier.Check(params.Command, params.CWD)
	result := HookQueryResult{
		Action:       string(verdict.Action),
		Tier:         string(verdict.Tier),
		MinApprovals: verdict.MinApprovals,
		Rule:         verdict.RuleMatched,
	}

	if verdict.Action == risk.ActionBlock && params.SessionID != "" && d.store != nil {
		limit, err := d.limiter.Allow(ctx, params.SessionID)
		if err != nil {
			// Fail open: throttling is a courtesy to reviewers, not a
			// security boundary. The command stays blocked either way.
			d.logger.Error("rate limit check", "session_id", params.SessionID, "error", err)
		} else if !limit.Allowed {
			d.logger.Warn("approval request throttled", "session_id", params.SessionID, "reason", limit.Reason)
			result.RateLimited = true
			return okResponse(req.ID, result)
		} else if limit.Reason != "" {
			d.logger.Warn("approval request over limit", "session_id", params.SessionID, "reason", limit.Reason)
		}

		requestID, err := d.openRequest(ctx, params, verdict)
		if err != nil {
			// The command is already blocked; a missing request just means
			// the reviewers have nothing to approve yet.
			d.logger.Error("open approval request", "session_id", params.SessionID, "error", err)
		} else {
			result.RequestID = requestID
		}
	}
	return okResponse(req.ID, result)
}

// openRequest registers the calling session and files an approval request
// for a blocked command, then announces it to subscribers and the bridge.
func (d *Dispatcher) openRequest(ctx context.Context, params HookQueryParams, verdict risk.Result) (string, error) {
	session := &model.Session{
		ID:          params.SessionID,
		AgentName:   params.Agent,
		Program:     params.Program,
		Model:       params.Model,
		ProjectPath: params.ProjectPath,
	}
	if err := d.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}

	requestID, err := idgen.NewRequestID()
	if err != nil {
		return "", err
	}
	request := &model.Request{
		ID:                    requestID,
		ProjectPath:           params.ProjectPath,
		Command:               model.CommandSpec{Raw: params.Command, Cwd: params.CWD},
		RiskTier:              verdict.Tier,
		RequestorSessionID:    params.SessionID,
		RequestorAgent:        params.Agent,
		RequestorModel:        params.Model,
		Justification:         model.Justification{Reason: params.Justification},
		MinApprovals:          verdict.MinApprovals,
		RequireDifferentModel: params.RequireDifferentModel,
		Status:                model.StatusPending,
	}
	if err := d.store.CreateRequest(ctx, request); err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	eventType := string(notify.EventDangerousPending)
	if verdict.Tier == model.TierCritical {
		eventType = string(notify.EventCriticalPending)
	}
	d.hub.Publish(Event{Type: eventType, Payload: map[string]any{
		"request_id": requestID,
		"tier":       string(verdict.Tier),
		"command":    request.Command.Display(),
		"requestor":  params.Agent,
	}})
	d.publishBridge(ctx, events.TopicRequestPending, events.RequestPending{Request: request})
	return requestID, nil
}

func (d *Dispatcher) handleHookHealth(req RPCRequest) RPCResponse {
	rules := d.classifier.Rules()
	return okResponse(req.ID, HookHealthResult{
		Status:        "ok",
		PatternHash:   rules.Hash(),
		PatternCount:  rules.Count(),
		UptimeSeconds: time.Since(d.started).Seconds(),
	})
}

func (d *Dispatcher) handleVerifyExecute(ctx context.Context, req RPCRequest) RPCResponse {
	var params VerifyExecuteParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, ErrCodeInvalidParams, "invalid verify_execute params")
	}
	if params.RequestID == "" || params.SessionID == "" {
		return errResponse(req.ID, ErrCodeInvalidParams, "request_id and session_id are required")
	}
	d.observe(params.SessionID, "", "verify_execute")

	if d.verifier == nil {
		return errResponse(req.ID, ErrCodeInternal, "verifier unavailable")
	}
	verdict, err := d.verifier.VerifyExecute(ctx, params.RequestID, params.SessionID)
	if err != nil {
		d.logger.Error("verify execute", "request_id", params.RequestID, "error", err)
		return errResponse(req.ID, ErrCodeInternal, err.Error())
	}

	if verdict.Allowed {
		d.hub.Publish(Event{Type: "request_executing", Payload: map[string]any{
			"request_id": params.RequestID,
			"session_id": params.SessionID,
		}})
		d.publishBridge(ctx, events.TopicRequestExecuting, events.ExecutionClaimed{
			RequestID: params.RequestID,
			SessionID: params.SessionID,
		})
	}
	return okResponse(req.ID, VerifyExecuteResult{
		Allowed:   verdict.Allowed,
		Reason:    verdict.Reason,
		RequestID: verdict.RequestID,
		Status:    string(verdict.Status),
	})
}

func (d *Dispatcher) handleReview(ctx context.Context, req RPCRequest) RPCResponse {
	var params ReviewParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, ErrCodeInvalidParams, "invalid review params")
	}
	if params.RequestID == "" || params.SessionID == "" {
		return errResponse(req.ID, ErrCodeInvalidParams, "request_id and session_id are required")
	}
	decision := model.Decision(params.Decision)
	if !decision.IsValid() {
		return errResponse(req.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid decision: %s", params.Decision))
	}
	d.observe(params.SessionID, "", "review")

	if d.verifier == nil {
		return errResponse(req.ID, ErrCodeInternal, "verifier unavailable")
	}
	status, err := d.verifier.SubmitReview(ctx, &model.Review{
		RequestID:         params.RequestID,
		ReviewerSessionID: params.SessionID,
		Decision:          decision,
		Comment:           params.Comment,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errResponse(req.ID, ErrCodeInvalidParams, fmt.Sprintf("request not found: %s", params.RequestID))
		}
		d.logger.Error("submit review", "request_id", params.RequestID, "error", err)
		return errResponse(req.ID, ErrCodeInternal, err.Error())
	}

	switch status {
	case model.StatusApproved:
		d.hub.Publish(Event{Type: "request_approved", Payload: map[string]any{"request_id": params.RequestID}})
		d.publishBridge(ctx, events.TopicRequestApproved, events.RequestSettled{RequestID: params.RequestID, Status: string(status)})
	case model.StatusDenied:
		d.hub.Publish(Event{Type: "request_denied", Payload: map[string]any{"request_id": params.RequestID}})
		d.publishBridge(ctx, events.TopicRequestDenied, events.RequestSettled{RequestID: params.RequestID, Status: string(status)})
	}
	return okResponse(req.ID, ReviewResult{RequestID: params.RequestID, Status: string(status)})
}

// publishBridge mirrors an event onto the external bus. Bridge failures are
// logged; local subscribers already got the event.
func (d *Dispatcher) publishBridge(ctx context.Context, topic string, event any) {
	if d.bridge == nil {
		return
	}
	if err := d.bridge.Publish(ctx, topic, event); err != nil {
		d.logger.Warn("publish bridge event", "topic", topic, "error", err)
	}
}
