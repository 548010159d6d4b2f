package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
)

// recordColumns is the column list used for SELECT statements on memory_request_logs.
const recordColumns = `id, group_id, request_id, user_id, message_id, message_create_time,
	sender, sender_name, content, group_name, refer_list, raw_input, raw_input_str,
	version, endpoint_name, method, url, organization_id, space_id, event_id,
	sync_status, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryInsertRecord(ctx context.Context, db executor, r *model.Record) error {
	raw, err := jsonbBytes(r.RawInput)
	if err != nil {
		return store.Wrap("insert record", fmt.Errorf("encode raw_input: %w", err))
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO memory_request_logs (
			id, group_id, request_id, user_id, message_id, message_create_time,
			sender, sender_name, content, group_name, refer_list, raw_input, raw_input_str,
			version, endpoint_name, method, url, organization_id, space_id, event_id,
			sync_status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23
		)`,
		r.ID,
		r.GroupID,
		r.RequestID,
		nullString(r.UserID),
		nullString(r.MessageID),
		nullString(r.MessageCreateTime),
		nullString(r.Sender),
		nullString(r.SenderName),
		nullString(r.Content),
		nullString(r.GroupName),
		pq.Array(r.ReferList),
		raw,
		nullString(r.RawInputStr),
		nullString(r.Version),
		nullString(r.EndpointName),
		nullString(r.Method),
		nullString(r.URL),
		nullString(r.OrganizationID),
		nullString(r.SpaceID),
		nullString(r.EventID),
		int(r.SyncStatus),
		r.CreatedAt,
		r.UpdatedAt,
	)
	return store.Wrap("insert record", err)
}

func queryGetByRequestID(ctx context.Context, db executor, requestID string) (*model.Record, error) {
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM memory_request_logs
		WHERE request_id = $1 ORDER BY created_at ASC, id ASC LIMIT 1`, requestID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("get by request id", err)
	}
	return r, nil
}

func queryFindByGroup(ctx context.Context, db executor, filter model.RecordFilter) ([]*model.Record, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	whereClauses = append(whereClauses, "group_id = "+nextArg())
	args = append(args, filter.GroupID)

	if filter.Status != nil {
		whereClauses = append(whereClauses, "sync_status = "+nextArg())
		args = append(args, int(*filter.Status))
	}
	if filter.Start != nil {
		whereClauses = append(whereClauses, "created_at >= "+nextArg())
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		whereClauses = append(whereClauses, "created_at <= "+nextArg())
		args = append(args, filter.End.UTC())
	}
	if filter.After != nil {
		at, id := nextArg(), nextArg()
		whereClauses = append(whereClauses, "(created_at, id) > ("+at+", "+id+")")
		args = append(args, filter.After.CreatedAt.UTC(), filter.After.ID)
	}

	limitArg := nextArg()
	args = append(args, model.ClampLimit(filter.Limit))

	q := `SELECT ` + recordColumns + ` FROM memory_request_logs WHERE ` +
		strings.Join(whereClauses, " AND ") +
		` ORDER BY created_at ASC, id ASC LIMIT ` + limitArg

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, store.Wrap("find by group", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	return recs, store.Wrap("find by group", err)
}

func queryFindByUser(ctx context.Context, db executor, userID string, limit int) ([]*model.Record, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_request_logs
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, model.ClampLimit(limit))
	if err != nil {
		return nil, store.Wrap("find by user", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	return recs, store.Wrap("find by user", err)
}

func queryDeleteByGroup(ctx context.Context, db executor, groupID string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM memory_request_logs WHERE group_id = $1`, groupID)
	return rowsAffected("delete by group", res, err)
}

func queryConfirmGroup(ctx context.Context, db executor, groupID string, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE memory_request_logs SET sync_status = $1, updated_at = $2
		WHERE group_id = $3 AND sync_status = $4`,
		int(model.StatusAccumulating), now.UTC(), groupID, int(model.StatusLogged))
	return rowsAffected("confirm group", res, err)
}

func queryConfirmMessages(ctx context.Context, db executor, groupID string, messageIDs []string, now time.Time) (int64, error) {
	ids := store.CompactIDs(messageIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE memory_request_logs SET sync_status = $1, updated_at = $2
		WHERE group_id = $3 AND sync_status = $4 AND message_id = ANY($5)`,
		int(model.StatusAccumulating), now.UTC(), groupID, int(model.StatusLogged), pq.Array(ids))
	return rowsAffected("confirm messages", res, err)
}

func queryCloseGroup(ctx context.Context, db executor, groupID string, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE memory_request_logs SET sync_status = $1, updated_at = $2
		WHERE group_id = $3 AND sync_status IN ($4, $5)`,
		int(model.StatusConsumed), now.UTC(), groupID,
		int(model.StatusLogged), int(model.StatusAccumulating))
	return rowsAffected("close group", res, err)
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
