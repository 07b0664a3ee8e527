// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/groblegark/pairlock/internal/model"
	"github.com/groblegark/pairlock/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *model.Session) error {
	return queryCreateSession(ctx, s.db, session)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return queryGetSession(ctx, s.db, id)
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.Request) error {
	return queryCreateRequest(ctx, s.db, req)
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	return queryGetRequest(ctx, s.db, id)
}

func (s *PostgresStore) ListActionableRequests(ctx context.Context, tier model.RiskTier) ([]*model.Request, error) {
	return queryListActionableRequests(ctx, s.db, tier)
}

func (s *PostgresStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Request, error) {
	return queryListPendingOlderThan(ctx, s.db, cutoff)
}

func (s *PostgresStore) ListTerminalRequestsSince(ctx context.Context, since time.Time) ([]*model.Request, error) {
	return queryListTerminalRequestsSince(ctx, s.db, since)
}

func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	return queryCountPending(ctx, s.db)
}

func (s *PostgresStore) CountPendingBySession(ctx context.Context, sessionID string) (int, error) {
	return queryCountPendingBySession(ctx, s.db, sessionID)
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, id string, from, to model.Status) (bool, error) {
	return queryCompareAndSetStatus(ctx, s.db, id, from, to)
}

func (s *PostgresStore) CreateReview(ctx context.Context, review *model.Review) error {
	return queryCreateReview(ctx, s.db, review)
}

func (s *PostgresStore) ListReviews(ctx context.Context, requestID string) ([]*model.Review, error) {
	return queryListReviews(ctx, s.db, requestID)
}

func (s *PostgresStore) CountDistinctApprovals(ctx context.Context, requestID string) (int, error) {
	return queryCountDistinctApprovals(ctx, s.db, requestID)
}

func (s *PostgresStore) HasDenial(ctx context.Context, requestID string) (bool, error) {
	return queryHasDenial(ctx, s.db, requestID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateSession(ctx context.Context, session *model.Session) error {
	return queryCreateSession(ctx, s.tx, session)
}

func (s *txStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return queryGetSession(ctx, s.tx, id)
}

func (s *txStore) CreateRequest(ctx context.Context, req *model.Request) error {
	return queryCreateRequest(ctx, s.tx, req)
}

func (s *txStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	return queryGetRequest(ctx, s.tx, id)
}

func (s *txStore) ListActionableRequests(ctx context.Context, tier model.RiskTier) ([]*model.Request, error) {
	return queryListActionableRequests(ctx, s.tx, tier)
}

func (s *txStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Request, error) {
	return queryListPendingOlderThan(ctx, s.tx, cutoff)
}

func (s *txStore) ListTerminalRequestsSince(ctx context.Context, since time.Time) ([]*model.Request, error) {
	return queryListTerminalRequestsSince(ctx, s.tx, since)
}

func (s *txStore) CountPending(ctx context.Context) (int, error) {
	return queryCountPending(ctx, s.tx)
}

func (s *txStore) CountPendingBySession(ctx context.Context, sessionID string) (int, error) {
	return queryCountPendingBySession(ctx, s.tx, sessionID)
}

func (s *txStore) CompareAndSetStatus(ctx context.Context, id string, from, to model.Status) (bool, error) {
	return queryCompareAndSetStatus(ctx, s.tx, id, from, to)
}

func (s *txStore) CreateReview(ctx context.Context, review *model.Review) error {
	return queryCreateReview(ctx, s.tx, review)
}

func (s *txStore) ListReviews(ctx context.Context, requestID string) ([]*model.Review, error) {
	return queryListReviews(ctx, s.tx, requestID)
}

func (s *txStore) CountDistinctApprovals(ctx context.Context, requestID string) (int, error) {
	return queryCountDistinctApprovals(ctx, s.tx, requestID)
}

func (s *txStore) HasDenial(ctx context.Context, requestID string) (bool, error) {
	return queryHasDenial(ctx, s.tx, requestID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
