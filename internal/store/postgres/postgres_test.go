package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/groblegark/pairlock/internal/model"
	"github.com/groblegark/pairlock/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// requestRowColumns is the column list for scanRequest results.
var requestRowColumns = []string{
	"id", "project_path", "command_raw", "command_cwd", "command_display_redacted",
	"risk_tier", "requestor_session_id", "requestor_agent", "requestor_model", "justification",
	"min_approvals", "require_different_model", "status", "created_at", "updated_at",
}

// addRequestRow adds a minimal request row to a sqlmock.Rows.
func addRequestRow(rows *sqlmock.Rows, id, tier, status string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, "/work/project", "rm -rf build", "/work/project", nil,
		tier, "sess-1", "AgentA", nil, "cleaning stale artifacts",
		1, false, status, now, now,
	)
}

func TestCreateRequest(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO requests`).
		WithArgs(
			"req-1", "/work/project", "rm -rf build", "/work/project", nil,
			"dangerous", "sess-1", "AgentA", nil,
			"cleaning stale artifacts", 1, false, "pending",
		).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	s := &PostgresStore{db: db}
	req := &model.Request{
		ID:                 "req-1",
		ProjectPath:        "/work/project",
		Command:            model.CommandSpec{Raw: "rm -rf build", Cwd: "/work/project"},
		RiskTier:           model.TierDangerous,
		RequestorSessionID: "sess-1",
		RequestorAgent:     "AgentA",
		Justification:      model.Justification{Reason: "cleaning stale artifacts"},
		MinApprovals:       1,
		Status:             model.StatusPending,
	}
	if err := s.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if !req.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", req.CreatedAt, now)
	}
}

func TestGetRequest(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := addRequestRow(sqlmock.NewRows(requestRowColumns), "req-1", "dangerous", "pending", now)
	mock.ExpectQuery(`SELECT .+ FROM requests WHERE id = \$1`).
		WithArgs("req-1").
		WillReturnRows(rows)

	s := &PostgresStore{db: db}
	req, err := s.GetRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if req.ID != "req-1" || req.RiskTier != model.TierDangerous || req.Status != model.StatusPending {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.Command.Raw != "rm -rf build" {
		t.Errorf("Command.Raw = %q", req.Command.Raw)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT .+ FROM requests WHERE id = \$1`).
		WithArgs("req-missing").
		WillReturnError(sql.ErrNoRows)

	s := &PostgresStore{db: db}
	_, err := s.GetRequest(context.Background(), "req-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}
}

func TestListActionableRequests(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(requestRowColumns)
	addRequestRow(rows, "req-1", "dangerous", "pending", now)
	addRequestRow(rows, "req-2", "critical", "approved", now)
	mock.ExpectQuery(`SELECT .+ FROM requests WHERE status IN \('pending', 'approved'\) ORDER BY created_at ASC`).
		WillReturnRows(rows)

	s := &PostgresStore{db: db}
	reqs, err := s.ListActionableRequests(context.Background(), "")
	if err != nil {
		t.Fatalf("ListActionableRequests: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
}

func TestListActionableRequestsByTier(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := addRequestRow(sqlmock.NewRows(requestRowColumns), "req-2", "critical", "pending", now)
	mock.ExpectQuery(`SELECT .+ FROM requests WHERE status IN \('pending', 'approved'\) AND risk_tier = \$1`).
		WithArgs("critical").
		WillReturnRows(rows)

	s := &PostgresStore{db: db}
	reqs, err := s.ListActionableRequests(context.Background(), model.TierCritical)
	if err != nil {
		t.Fatalf("ListActionableRequests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ID != "req-2" {
		t.Fatalf("unexpected result: %+v", reqs)
	}
}

func TestCompareAndSetStatus(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE requests SET status = \$3, updated_at = NOW\(\) WHERE id = \$1 AND status = \$2`).
		WithArgs("req-1", "approved", "executing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &PostgresStore{db: db}
	ok, err := s.CompareAndSetStatus(context.Background(), "req-1", model.StatusApproved, model.StatusExecuting)
	if err != nil {
		t.Fatalf("CompareAndSetStatus: %v", err)
	}
	if !ok {
		t.Error("expected transition to succeed")
	}
}

func TestCompareAndSetStatusLost(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE requests SET status = \$3`).
		WithArgs("req-1", "approved", "executing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := &PostgresStore{db: db}
	ok, err := s.CompareAndSetStatus(context.Background(), "req-1", model.StatusApproved, model.StatusExecuting)
	if err != nil {
		t.Fatalf("CompareAndSetStatus: %v", err)
	}
	if ok {
		t.Error("expected transition to report lost race")
	}
}

func TestCreateReview(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO reviews`).
		WithArgs("req-1", "sess-2", "approve", "looks safe enough").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	s := &PostgresStore{db: db}
	rv := &model.Review{
		RequestID:         "req-1",
		ReviewerSessionID: "sess-2",
		Decision:          model.DecisionApprove,
		Comment:           "looks safe enough",
	}
	if err := s.CreateReview(context.Background(), rv); err != nil {
		t.Fatalf("CreateReview: %v", err)
	}
	if rv.ID != 7 {
		t.Errorf("ID = %d, want 7", rv.ID)
	}
}

func TestCountDistinctApprovals(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT COUNT\(DISTINCT v\.reviewer_session_id\)`).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	s := &PostgresStore{db: db}
	n, err := s.CountDistinctApprovals(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("CountDistinctApprovals: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestHasDenial(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	s := &PostgresStore{db: db}
	denied, err := s.HasDenial(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("HasDenial: %v", err)
	}
	if !denied {
		t.Error("expected denial")
	}
}

func TestCountPending(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM requests WHERE status = 'pending'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	s := &PostgresStore{db: db}
	n, err := s.CountPending(context.Background())
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestCountPendingBySession(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM requests WHERE status = 'pending' AND requestor_session_id = \$1`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	s := &PostgresStore{db: db}
	n, err := s.CountPendingBySession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("CountPendingBySession: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestCreateSession(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs("sess-1", "AgentA", "crush", "gpt-5", "/work/project").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	s := &PostgresStore{db: db}
	sess := &model.Session{
		ID:          "sess-1",
		AgentName:   "AgentA",
		Program:     "crush",
		Model:       "gpt-5",
		ProjectPath: "/work/project",
	}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !sess.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", sess.CreatedAt, now)
	}
}

func TestRunInTransaction(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE requests SET status`).
		WithArgs("req-1", "pending", "approved").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := &PostgresStore{db: db}
	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		ok, err := tx.CompareAndSetStatus(context.Background(), "req-1", model.StatusPending, model.StatusApproved)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("expected transition inside transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
}

func TestRunInTransactionRollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	s := &PostgresStore{db: db}
	wantErr := errors.New("boom")
	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
