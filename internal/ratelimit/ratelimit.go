// Package ratelimit throttles approval requests per session. A runaway
// agent retrying a blocked command in a loop would otherwise bury the
// reviewers in duplicate requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultMaxPending   = 5
	DefaultMaxPerMinute = 10
)

// PendingCounter is the slice of the store the limiter needs.
type PendingCounter interface {
	CountPendingBySession(ctx context.Context, sessionID string) (int, error)
}

// Config bounds how fast a single session may file approval requests.
type Config struct {
	// MaxPendingPerSession caps how many unresolved requests one session
	// may hold open at a time.
	MaxPendingPerSession int

	// MaxRequestsPerMinute caps the rate of new requests per session.
	MaxRequestsPerMinute int

	// WarnOnly reports violations in the verdict but still allows the
	// request through.
	WarnOnly bool
}

// Verdict is the outcome of one limit check. Reason is set whenever a
// limit was hit, even when WarnOnly lets the request proceed.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Limiter enforces per-session request limits. A nil Limiter allows
// everything, so callers never have to guard the disabled case.
type Limiter struct {
	store PendingCounter
	cfg   Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New returns a limiter over the given store. Zero config fields take the
// package defaults.
func New(store PendingCounter, cfg Config) *Limiter {
	if cfg.MaxPendingPerSession <= 0 {
		cfg.MaxPendingPerSession = DefaultMaxPending
	}
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = DefaultMaxPerMinute
	}
	return &Limiter{
		store:   store,
		cfg:     cfg,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow checks whether sessionID may file another approval request. The
// pending cap is checked before the rate bucket so a capped session does
// not also burn tokens.
func (l *Limiter) Allow(ctx context.Context, sessionID string) (Verdict, error) {
	if l == nil || sessionID == "" {
		return Verdict{Allowed: true}, nil
	}

	pending, err := l.store.CountPendingBySession(ctx, sessionID)
	if err != nil {
		return Verdict{}, fmt.Errorf("count pending for session: %w", err)
	}
	if pending >= l.cfg.MaxPendingPerSession {
		return l.violation(fmt.Sprintf("session has %d pending requests (max %d)", pending, l.cfg.MaxPendingPerSession)), nil
	}

	if !l.bucket(sessionID).Allow() {
		return l.violation(fmt.Sprintf("rate limit exceeded: max %d requests per minute", l.cfg.MaxRequestsPerMinute)), nil
	}
	return Verdict{Allowed: true}, nil
}

// Reset drops the rate bucket for a session, typically when the session
// ends.
func (l *Limiter) Reset(sessionID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, sessionID)
}

func (l *Limiter) violation(reason string) Verdict {
	return Verdict{Allowed: l.cfg.WarnOnly, Reason: reason}
}

func (l *Limiter) bucket(sessionID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[sessionID]
	if !ok {
		per := l.cfg.MaxRequestsPerMinute
		b = rate.NewLimiter(rate.Every(time.Minute/time.Duration(per)), per)
		l.buckets[sessionID] = b
	}
	return b
}
