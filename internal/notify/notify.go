// Package notify pushes pending-approval alerts to humans. Critical
// requests raise a desktop notification; dangerous and critical requests go
// to the configured webhook. Delivery is best effort and never blocks the
// approval flow.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/pairlock/internal/model"
)

// Event identifies what happened to a request.
type Event string

const (
	EventCriticalPending  Event = "critical_request_pending"
	EventDangerousPending Event = "dangerous_request_pending"
	EventExecuted         Event = "request_executed"
	EventTimeout          Event = "request_timeout"
	EventEscalated        Event = "request_escalated"
)

// DefaultInterval is how often the background loop re-checks for pending
// requests when no interval is configured.
const DefaultInterval = 30 * time.Second

// RequestLister is the slice of the store the manager needs.
type RequestLister interface {
	ListActionableRequests(ctx context.Context, tier model.RiskTier) ([]*model.Request, error)
}

// Options configures a Manager. Zero-value sinks are simply skipped.
type Options struct {
	Desktop  DesktopNotifier
	Webhook  *Webhook
	Interval time.Duration
	Logger   *slog.Logger
}

// markerKey identifies one debounce marker: a request at an observed status.
type markerKey struct {
	requestID string
	status    model.Status
}

// sinkMark records which sinks have accepted the alert for a marker. Each
// sink debounces independently so one failing sink keeps retrying without
// re-alerting the other.
type sinkMark struct {
	desktop bool
	webhook bool
}

// Manager watches for requests that need human attention and routes alerts
// to the configured sinks. A nil Manager is valid and does nothing, so
// callers never have to guard the disabled case.
type Manager struct {
	store    RequestLister
	desktop  DesktopNotifier
	webhook  *Webhook
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	sent map[markerKey]*sinkMark
}

// New returns a manager over the given store.
func New(store RequestLister, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		store:    store,
		desktop:  opts.Desktop,
		webhook:  opts.Webhook,
		interval: interval,
		logger:   logger,
		sent:     make(map[markerKey]*sinkMark),
	}
}

// Run re-checks for pending requests until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs one notification pass. Each sink alerts at most once per
// pending request; a sink whose delivery failed is retried on the next pass
// without re-firing the sinks that already accepted. Failures for one
// request never stop the pass. Markers for requests that are no longer
// actionable are dropped so the map does not grow with daemon lifetime.
func (m *Manager) Check(ctx context.Context) {
	if m == nil {
		return
	}

	reqs, err := m.store.ListActionableRequests(ctx, "")
	if err != nil {
		m.logger.Warn("notify: list requests failed", "error", err)
		return
	}

	active := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		active[req.ID] = struct{}{}
	}
	m.prune(active)

	for _, req := range reqs {
		if req.Status != model.StatusPending {
			continue
		}
		key := markerKey{requestID: req.ID, status: req.Status}

		event := EventDangerousPending
		if req.RiskTier == model.TierCritical {
			event = EventCriticalPending
		}

		if m.desktop != nil && req.RiskTier == model.TierCritical && !m.sentDesktop(key) {
			if err := m.desktop.Notify(ctx, "Approval needed", desktopMessage(req, event)); err != nil {
				m.logger.Warn("notify: desktop delivery failed", "request_id", req.ID, "error", err)
			} else {
				m.markDesktop(key)
			}
		}

		if m.webhook != nil && !m.sentWebhook(key) {
			if err := m.webhook.Send(ctx, buildPayload(req, event, nil, "")); err != nil {
				m.logger.Warn("notify: webhook delivery failed", "request_id", req.ID, "error", err)
			} else {
				m.markWebhook(key)
			}
		}
	}
}

// Emit pushes a transition alert (executed, timed out, escalated) for a
// single request. exitCode may be nil when unknown; approvedBy names the
// reviewers whose approvals let the command run, empty when none apply.
func (m *Manager) Emit(ctx context.Context, req *model.Request, event Event, exitCode *int, approvedBy string) {
	if m == nil || req == nil {
		return
	}

	if m.desktop != nil && req.RiskTier == model.TierCritical {
		title := "Command update"
		if event == EventCriticalPending {
			title = "Approval needed"
		}
		if err := m.desktop.Notify(ctx, title, desktopMessage(req, event)); err != nil {
			m.logger.Warn("notify: desktop delivery failed", "request_id", req.ID, "error", err)
		}
	}

	if m.webhook != nil {
		if err := m.webhook.Send(ctx, buildPayload(req, event, exitCode, approvedBy)); err != nil {
			m.logger.Warn("notify: webhook delivery failed", "request_id", req.ID, "error", err)
		}
	}
}

func (m *Manager) sentDesktop(key markerKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mark, ok := m.sent[key]
	return ok && mark.desktop
}

func (m *Manager) sentWebhook(key markerKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mark, ok := m.sent[key]
	return ok && mark.webhook
}

func (m *Manager) markDesktop(key markerKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mark(key).desktop = true
}

func (m *Manager) markWebhook(key markerKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mark(key).webhook = true
}

// mark returns the marker for key, creating it on first use. Callers hold
// m.mu.
func (m *Manager) mark(key markerKey) *sinkMark {
	mark, ok := m.sent[key]
	if !ok {
		mark = &sinkMark{}
		m.sent[key] = mark
	}
	return mark
}

// prune drops markers for requests no longer in the actionable set.
func (m *Manager) prune(active map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.sent {
		if _, ok := active[key.requestID]; !ok {
			delete(m.sent, key)
		}
	}
}

func desktopMessage(req *model.Request, event Event) string {
	cmd := truncateCommand(req.Command.Display())
	switch event {
	case EventCriticalPending:
		return req.RequestorAgent + " wants to run: " + cmd
	case EventExecuted:
		return "Executed: " + cmd
	case EventTimeout:
		return "Timed out waiting for approval: " + cmd
	case EventEscalated:
		return "Escalated to a human: " + cmd
	}
	return cmd
}
