package store

import (
	"context"
	"errors"
	"time"

	"github.com/groblegark/pairlock/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for approval requests, reviews
// and sessions.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// Requests
	CreateRequest(ctx context.Context, req *model.Request) error
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	// ListActionableRequests returns pending and approved requests, oldest
	// first. An empty tier returns all tiers.
	ListActionableRequests(ctx context.Context, tier model.RiskTier) ([]*model.Request, error)
	// ListPendingOlderThan returns pending requests created before the
	// cutoff, for the timeout sweep.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Request, error)
	// ListTerminalRequestsSince returns terminal requests whose last
	// transition happened at or after since, oldest first.
	ListTerminalRequestsSince(ctx context.Context, since time.Time) ([]*model.Request, error)
	CountPending(ctx context.Context) (int, error)
	// CountPendingBySession counts a single session's open requests, for
	// per-session rate limiting.
	CountPendingBySession(ctx context.Context, sessionID string) (int, error)
	// CompareAndSetStatus transitions a request from one status to another
	// atomically. It returns true when this call performed the transition
	// and false when the request was no longer in the from status.
	CompareAndSetStatus(ctx context.Context, id string, from, to model.Status) (bool, error)

	// Reviews
	CreateReview(ctx context.Context, review *model.Review) error
	ListReviews(ctx context.Context, requestID string) ([]*model.Review, error)
	// CountDistinctApprovals counts approvals from distinct reviewers,
	// excluding the requestor's own session and, when the request demands
	// it, reviewers running the same model as the requestor.
	CountDistinctApprovals(ctx context.Context, requestID string) (int, error)
	// HasDenial reports whether any reviewer denied the request.
	HasDenial(ctx context.Context, requestID string) (bool, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
