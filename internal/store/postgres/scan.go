package postgres

import (
	"database/sql"

	"github.com/groblegark/pairlock/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRequest scans a single row into a model.Request.
// The row must contain columns in the order defined by requestColumns.
func scanRequest(row scannable) (*model.Request, error) {
	var r model.Request
	var (
		displayRedacted sql.NullString
		requestorModel  sql.NullString
	)

	err := row.Scan(
		&r.ID,
		&r.ProjectPath,
		&r.Command.Raw,
		&r.Command.Cwd,
		&displayRedacted,
		&r.RiskTier,
		&r.RequestorSessionID,
		&r.RequestorAgent,
		&requestorModel,
		&r.Justification.Reason,
		&r.MinApprovals,
		&r.RequireDifferentModel,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	r.Command.DisplayRedacted = displayRedacted.String
	r.RequestorModel = requestorModel.String

	return &r, nil
}

// scanRequests scans multiple rows into a slice of model.Request pointers.
func scanRequests(rows *sql.Rows) ([]*model.Request, error) {
	var reqs []*model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// scanSession scans a single row into a model.Session.
func scanSession(row scannable) (*model.Session, error) {
	var s model.Session
	var (
		program sql.NullString
		mdl     sql.NullString
	)
	err := row.Scan(
		&s.ID,
		&s.AgentName,
		&program,
		&mdl,
		&s.ProjectPath,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	s.Program = program.String
	s.Model = mdl.String
	return &s, nil
}

// scanReview scans a single row into a model.Review.
func scanReview(row scannable) (*model.Review, error) {
	var rv model.Review
	var comment sql.NullString
	err := row.Scan(
		&rv.ID,
		&rv.RequestID,
		&rv.ReviewerSessionID,
		&rv.Decision,
		&comment,
		&rv.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	rv.Comment = comment.String
	return &rv, nil
}

// scanReviews scans multiple rows into a slice of model.Review pointers.
func scanReviews(rows *sql.Rows) ([]*model.Review, error) {
	var reviews []*model.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reviews, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
