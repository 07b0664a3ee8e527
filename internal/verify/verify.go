// Package verify enforces the approval policy: who may review a request,
// when a request becomes approved, and the exactly-once execution gate.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/groblegark/pairlock/internal/model"
	"github.com/groblegark/pairlock/internal/store"
)

// Result is the outcome of an execution check.
type Result struct {
	RequestID string
	Allowed   bool
	Reason    string
	Status    model.Status
}

// Verifier applies reviews and hands out execution tokens. All state lives
// in the store; the verifier itself is stateless and safe for concurrent use.
type Verifier struct {
	store store.Store
}

// New returns a verifier backed by the given store.
func New(s store.Store) *Verifier {
	return &Verifier{store: s}
}

// SubmitReview records a reviewer's decision and advances the request
// status when the decision settles it. Approvals from the requestor's own
// session are rejected. Returns the request status after the review.
func (v *Verifier) SubmitReview(ctx context.Context, review *model.Review) (model.Status, error) {
	if err := model.ValidateReview(review); err != nil {
		return "", err
	}

	req, err := v.store.GetRequest(ctx, review.RequestID)
	if err != nil {
		return "", err
	}
	if req.Status.IsTerminal() || req.Status == model.StatusExecuting {
		return req.Status, fmt.Errorf("request %s is already %s", req.ID, req.Status)
	}
	if review.Decision == model.DecisionApprove && review.ReviewerSessionID == req.RequestorSessionID {
		return req.Status, fmt.Errorf("session %s cannot approve its own request", review.ReviewerSessionID)
	}

	if err := v.store.CreateReview(ctx, review); err != nil {
		return "", fmt.Errorf("record review: %w", err)
	}

	if review.Decision == model.DecisionDeny {
		// A single denial settles the request regardless of approvals.
		for _, from := range []model.Status{model.StatusPending, model.StatusApproved} {
			ok, err := v.store.CompareAndSetStatus(ctx, req.ID, from, model.StatusDenied)
			if err != nil {
				return "", err
			}
			if ok {
				return model.StatusDenied, nil
			}
		}
		return v.currentStatus(ctx, req.ID)
	}

	n, err := v.store.CountDistinctApprovals(ctx, req.ID)
	if err != nil {
		return "", err
	}
	if n >= req.MinApprovals {
		if _, err := v.store.CompareAndSetStatus(ctx, req.ID, model.StatusPending, model.StatusApproved); err != nil {
			return "", err
		}
	}
	return v.currentStatus(ctx, req.ID)
}

// VerifyExecute checks whether the executor may run the command now and, if
// so, claims the execution token. The token is claimed by an atomic
// approved-to-executing transition, so concurrent calls for the same
// request let exactly one through.
func (v *Verifier) VerifyExecute(ctx context.Context, requestID, executorSessionID string) (Result, error) {
	res := Result{RequestID: requestID}

	// Callers are expected to hold a valid ID; an unknown request is a hard
	// fault, not a denial.
	req, err := v.store.GetRequest(ctx, requestID)
	if err != nil {
		return res, fmt.Errorf("load request %s: %w", requestID, err)
	}
	res.Status = req.Status

	switch {
	case req.Status.IsTerminal():
		res.Reason = fmt.Sprintf("request is %s", req.Status)
		return res, nil
	case req.Status == model.StatusExecuting:
		res.Reason = "execution already in progress"
		return res, nil
	}

	denied, err := v.store.HasDenial(ctx, requestID)
	if err != nil {
		return res, err
	}
	if denied {
		res.Reason = "request was denied"
		return res, nil
	}

	n, err := v.store.CountDistinctApprovals(ctx, requestID)
	if err != nil {
		return res, err
	}
	if n < req.MinApprovals {
		res.Reason = fmt.Sprintf("%d of %d required approvals", n, req.MinApprovals)
		return res, nil
	}

	// The review path normally flips pending to approved; catch up here in
	// case this check raced it.
	if req.Status == model.StatusPending {
		if _, err := v.store.CompareAndSetStatus(ctx, requestID, model.StatusPending, model.StatusApproved); err != nil {
			return res, err
		}
	}

	ok, err := v.store.CompareAndSetStatus(ctx, requestID, model.StatusApproved, model.StatusExecuting)
	if err != nil {
		return res, err
	}
	if !ok {
		res.Reason = "execution token already claimed"
		status, err := v.currentStatus(ctx, requestID)
		if err == nil {
			res.Status = status
		}
		return res, nil
	}

	res.Allowed = true
	res.Status = model.StatusExecuting
	return res, nil
}

// Complete marks an executing request as executed. Returns false when the
// request was not in the executing state.
func (v *Verifier) Complete(ctx context.Context, requestID string) (bool, error) {
	return v.store.CompareAndSetStatus(ctx, requestID, model.StatusExecuting, model.StatusExecuted)
}

// ExpirePending transitions pending requests created before the cutoff to
// timed_out and returns the requests it expired.
func (v *Verifier) ExpirePending(ctx context.Context, cutoff time.Time) ([]*model.Request, error) {
	stale, err := v.store.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var expired []*model.Request
	for _, req := range stale {
		ok, err := v.store.CompareAndSetStatus(ctx, req.ID, model.StatusPending, model.StatusTimedOut)
		if err != nil {
			return expired, err
		}
		if ok {
			req.Status = model.StatusTimedOut
			expired = append(expired, req)
		}
	}
	return expired, nil
}

func (v *Verifier) currentStatus(ctx context.Context, requestID string) (model.Status, error) {
	req, err := v.store.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	return req.Status, nil
}
