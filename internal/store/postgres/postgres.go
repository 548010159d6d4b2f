// Package postgres stores message records in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool limits. Record writes are short single statements, so a small pool
// serves many concurrent requests.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// PostgresStore keeps records in the memory_request_logs table.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*PostgresStore)(nil)

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithClock overrides the source of created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *PostgresStore) { s.now = now }
}

// New connects to databaseURL and brings the schema up to date.
func New(ctx context.Context, databaseURL string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newStore(db, opts...), nil
}

func newStore(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.db.PingContext(ctx))
}

func (s *PostgresStore) InsertRecord(ctx context.Context, rec *model.Record) error {
	if err := store.PrepareInsert(rec, s.now()); err != nil {
		return err
	}
	return queryInsertRecord(ctx, s.db, rec)
}

func (s *PostgresStore) GetByRequestID(ctx context.Context, requestID string) (*model.Record, error) {
	return queryGetByRequestID(ctx, s.db, requestID)
}

func (s *PostgresStore) FindByGroup(ctx context.Context, filter model.RecordFilter) ([]*model.Record, error) {
	return queryFindByGroup(ctx, s.db, filter)
}

func (s *PostgresStore) FindByUser(ctx context.Context, userID string, limit int) ([]*model.Record, error) {
	return queryFindByUser(ctx, s.db, userID, limit)
}

func (s *PostgresStore) DeleteByGroup(ctx context.Context, groupID string) (int64, error) {
	return queryDeleteByGroup(ctx, s.db, groupID)
}

func (s *PostgresStore) ConfirmGroup(ctx context.Context, groupID string) (int64, error) {
	return queryConfirmGroup(ctx, s.db, groupID, s.now())
}

func (s *PostgresStore) ConfirmMessages(ctx context.Context, groupID string, messageIDs []string) (int64, error) {
	return queryConfirmMessages(ctx, s.db, groupID, messageIDs, s.now())
}

func (s *PostgresStore) CloseGroup(ctx context.Context, groupID string) (int64, error) {
	return queryCloseGroup(ctx, s.db, groupID, s.now())
}
