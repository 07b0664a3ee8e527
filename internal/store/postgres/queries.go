package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/groblegark/pairlock/internal/model"
	"github.com/groblegark/pairlock/internal/store"
)

// requestColumns is the column list used for SELECT statements on the
// requests table.
const requestColumns = `id, project_path, command_raw, command_cwd, command_display_redacted,
	risk_tier, requestor_session_id, requestor_agent, requestor_model, justification,
	min_approvals, require_different_model, status, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateSession(ctx context.Context, db executor, s *model.Session) error {
	// Agents re-register on reconnect; the row is refreshed in place.
	return db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, agent_name, program, model, project_path)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			agent_name = $2, program = $3, model = $4, project_path = $5
		RETURNING created_at`,
		s.ID, s.AgentName, s.Program, s.Model, s.ProjectPath,
	).Scan(&s.CreatedAt)
}

func queryGetSession(ctx context.Context, db executor, id string) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, agent_name, program, model, project_path, created_at
		FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func queryCreateRequest(ctx context.Context, db executor, r *model.Request) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO requests (
			id, project_path, command_raw, command_cwd, command_display_redacted,
			risk_tier, requestor_session_id, requestor_agent, requestor_model,
			justification, min_approvals, require_different_model, status
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)
		RETURNING created_at, updated_at`,
		r.ID,
		r.ProjectPath,
		r.Command.Raw,
		r.Command.Cwd,
		nullString(r.Command.DisplayRedacted),
		string(r.RiskTier),
		r.RequestorSessionID,
		r.RequestorAgent,
		nullString(r.RequestorModel),
		r.Justification.Reason,
		r.MinApprovals,
		r.RequireDifferentModel,
		string(r.Status),
	).Scan(&r.CreatedAt, &r.UpdatedAt)
}

func queryGetRequest(ctx context.Context, db executor, id string) (*model.Request, error) {
	row := db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

func queryListActionableRequests(ctx context.Context, db executor, tier model.RiskTier) ([]*model.Request, error) {
	q := `SELECT ` + requestColumns + ` FROM requests WHERE status IN ('pending', 'approved')`
	args := []any{}
	if tier != "" {
		q += ` AND risk_tier = $1`
		args = append(args, string(tier))
	}
	q += ` ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list actionable requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func queryListPendingOlderThan(ctx context.Context, db executor, cutoff time.Time) ([]*model.Request, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending older than: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func queryListTerminalRequestsSince(ctx context.Context, db executor, since time.Time) ([]*model.Request, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE status IN ('executed', 'denied', 'timed_out', 'escalated') AND updated_at >= $1
		ORDER BY updated_at ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("list terminal requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func queryCountPending(ctx context.Context, db executor) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE status = 'pending'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func queryCountPendingBySession(ctx context.Context, db executor, sessionID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE status = 'pending' AND requestor_session_id = $1`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending by session: %w", err)
	}
	return n, nil
}

func queryCompareAndSetStatus(ctx context.Context, db executor, id string, from, to model.Status) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE requests
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("compare and set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func queryCreateReview(ctx context.Context, db executor, rv *model.Review) error {
	// A reviewer gets one vote per request; re-reviewing replaces it.
	return db.QueryRowContext(ctx, `
		INSERT INTO reviews (request_id, reviewer_session_id, decision, comment)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id, reviewer_session_id)
		DO UPDATE SET decision = $3, comment = $4, created_at = NOW()
		RETURNING id, created_at`,
		rv.RequestID, rv.ReviewerSessionID, string(rv.Decision), rv.Comment,
	).Scan(&rv.ID, &rv.CreatedAt)
}

func queryListReviews(ctx context.Context, db executor, requestID string) ([]*model.Review, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, request_id, reviewer_session_id, decision, comment, created_at
		FROM reviews
		WHERE request_id = $1
		ORDER BY created_at ASC`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	return scanReviews(rows)
}

// queryCountDistinctApprovals counts approve reviews from distinct
// reviewers, never counting the requestor's own session. When the request
// requires a different model, reviewers whose session reports the same
// model as the requestor are excluded too.
func queryCountDistinctApprovals(ctx context.Context, db executor, requestID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT v.reviewer_session_id)
		FROM reviews v
		JOIN requests r ON r.id = v.request_id
		WHERE v.request_id = $1
		  AND v.decision = 'approve'
		  AND v.reviewer_session_id <> r.requestor_session_id
		  AND (
			NOT r.require_different_model
			OR COALESCE((SELECT s.model FROM sessions s WHERE s.id = v.reviewer_session_id), '')
				<> COALESCE(r.requestor_model, '')
		  )`,
		requestID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count approvals: %w", err)
	}
	return n, nil
}

func queryHasDenial(ctx context.Context, db executor, requestID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reviews WHERE request_id = $1 AND decision = 'deny'
		)`,
		requestID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check denial: %w", err)
	}
	return exists, nil
}

// notFound maps sql.ErrNoRows onto the store sentinel so callers never
// depend on database/sql directly.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
