// Package sqlite implements the store.Store interface on an embedded SQLite
// database, for single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements store.Store on a SQLite file.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens (creating if needed) the SQLite database at path and applies
// pending migrations. A "sqlite://" or "file:" prefix on path is accepted.
func New(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path = strings.TrimPrefix(path, "sqlite://")

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Debug("sqlite store ready", "path", path)
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) InsertRecord(ctx context.Context, rec *model.Record) error {
	if err := store.PrepareInsert(rec, s.now()); err != nil {
		return err
	}
	row, err := toRow(rec)
	if err != nil {
		return store.Wrap("insert record", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO memory_request_logs (
			id, group_id, request_id, user_id, message_id, message_create_time,
			sender, sender_name, content, group_name, refer_list, raw_input, raw_input_str,
			version, endpoint_name, method, url, organization_id, space_id, event_id,
			sync_status, created_at, updated_at
		) VALUES (
			:id, :group_id, :request_id, :user_id, :message_id, :message_create_time,
			:sender, :sender_name, :content, :group_name, :refer_list, :raw_input, :raw_input_str,
			:version, :endpoint_name, :method, :url, :organization_id, :space_id, :event_id,
			:sync_status, :created_at, :updated_at
		)`, row)
	return store.Wrap("insert record", err)
}

func (s *SQLiteStore) GetByRequestID(ctx context.Context, requestID string) (*model.Record, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, `SELECT `+recordColumns+` FROM memory_request_logs
		WHERE request_id = ? ORDER BY created_at ASC, id ASC LIMIT 1`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("get by request id", err)
	}
	rec, err := row.toRecord()
	return rec, store.Wrap("get by request id", err)
}

func (s *SQLiteStore) FindByGroup(ctx context.Context, filter model.RecordFilter) ([]*model.Record, error) {
	where := []string{"group_id = ?"}
	args := []any{filter.GroupID}

	if filter.Status != nil {
		where = append(where, "sync_status = ?")
		args = append(args, int(*filter.Status))
	}
	if filter.Start != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Start.UTC().UnixMicro())
	}
	if filter.End != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.End.UTC().UnixMicro())
	}
	if filter.After != nil {
		at := filter.After.CreatedAt.UTC().UnixMicro()
		where = append(where, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, at, at, filter.After.ID)
	}
	args = append(args, model.ClampLimit(filter.Limit))

	q := `SELECT ` + recordColumns + ` FROM memory_request_logs WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at ASC, id ASC LIMIT ?`

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, store.Wrap("find by group", err)
	}
	recs, err := toRecords(rows)
	return recs, store.Wrap("find by group", err)
}

func (s *SQLiteStore) FindByUser(ctx context.Context, userID string, limit int) ([]*model.Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+recordColumns+` FROM memory_request_logs
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, model.ClampLimit(limit))
	if err != nil {
		return nil, store.Wrap("find by user", err)
	}
	recs, err := toRecords(rows)
	return recs, store.Wrap("find by user", err)
}

func (s *SQLiteStore) DeleteByGroup(ctx context.Context, groupID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_request_logs WHERE group_id = ?`, groupID)
	return rowsAffected("delete by group", res, err)
}

func (s *SQLiteStore) ConfirmGroup(ctx context.Context, groupID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_request_logs SET sync_status = ?, updated_at = ?
		WHERE group_id = ? AND sync_status = ?`,
		int(model.StatusAccumulating), s.stamp(), groupID, int(model.StatusLogged))
	return rowsAffected("confirm group", res, err)
}

func (s *SQLiteStore) ConfirmMessages(ctx context.Context, groupID string, messageIDs []string) (int64, error) {
	ids := store.CompactIDs(messageIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In(`
		UPDATE memory_request_logs SET sync_status = ?, updated_at = ?
		WHERE group_id = ? AND sync_status = ? AND message_id IN (?)`,
		int(model.StatusAccumulating), s.stamp(), groupID, int(model.StatusLogged), ids)
	if err != nil {
		return 0, store.Wrap("confirm messages", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	return rowsAffected("confirm messages", res, err)
}

func (s *SQLiteStore) CloseGroup(ctx context.Context, groupID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_request_logs SET sync_status = ?, updated_at = ?
		WHERE group_id = ? AND sync_status IN (?, ?)`,
		int(model.StatusConsumed), s.stamp(), groupID,
		int(model.StatusLogged), int(model.StatusAccumulating))
	return rowsAffected("close group", res, err)
}

func (s *SQLiteStore) stamp() int64 {
	return s.now().UTC().UnixMicro()
}

func rowsAffected(op string, res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, store.Wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Wrap(op, err)
	}
	return n, nil
}
