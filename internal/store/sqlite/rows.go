package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/memlog/internal/model"
)

const recordColumns = `id, group_id, request_id, user_id, message_id, message_create_time,
	sender, sender_name, content, group_name, refer_list, raw_input, raw_input_str,
	version, endpoint_name, method, url, organization_id, space_id, event_id,
	sync_status, created_at, updated_at`

// recordRow is the column mapping of memory_request_logs. List and map
// fields are stored as JSON text; timestamps as unix microseconds.
type recordRow struct {
	ID                string         `db:"id"`
	GroupID           string         `db:"group_id"`
	RequestID         string         `db:"request_id"`
	UserID            sql.NullString `db:"user_id"`
	MessageID         sql.NullString `db:"message_id"`
	MessageCreateTime sql.NullString `db:"message_create_time"`
	Sender            sql.NullString `db:"sender"`
	SenderName        sql.NullString `db:"sender_name"`
	Content           sql.NullString `db:"content"`
	GroupName         sql.NullString `db:"group_name"`
	ReferList         sql.NullString `db:"refer_list"`
	RawInput          sql.NullString `db:"raw_input"`
	RawInputStr       sql.NullString `db:"raw_input_str"`
	Version           sql.NullString `db:"version"`
	EndpointName      sql.NullString `db:"endpoint_name"`
	Method            sql.NullString `db:"method"`
	URL               sql.NullString `db:"url"`
	OrganizationID    sql.NullString `db:"organization_id"`
	SpaceID           sql.NullString `db:"space_id"`
	EventID           sql.NullString `db:"event_id"`
	SyncStatus        int            `db:"sync_status"`
	CreatedAt         int64          `db:"created_at"`
	UpdatedAt         int64          `db:"updated_at"`
}

func toRow(r *model.Record) (recordRow, error) {
	row := recordRow{
		ID:                r.ID,
		GroupID:           r.GroupID,
		RequestID:         r.RequestID,
		UserID:            nullString(r.UserID),
		MessageID:         nullString(r.MessageID),
		MessageCreateTime: nullString(r.MessageCreateTime),
		Sender:            nullString(r.Sender),
		SenderName:        nullString(r.SenderName),
		Content:           nullString(r.Content),
		GroupName:         nullString(r.GroupName),
		RawInputStr:       nullString(r.RawInputStr),
		Version:           nullString(r.Version),
		EndpointName:      nullString(r.EndpointName),
		Method:            nullString(r.Method),
		URL:               nullString(r.URL),
		OrganizationID:    nullString(r.OrganizationID),
		SpaceID:           nullString(r.SpaceID),
		EventID:           nullString(r.EventID),
		SyncStatus:        int(r.SyncStatus),
		CreatedAt:         r.CreatedAt.UTC().UnixMicro(),
		UpdatedAt:         r.UpdatedAt.UTC().UnixMicro(),
	}
	if r.ReferList != nil {
		b, err := json.Marshal(r.ReferList)
		if err != nil {
			return row, fmt.Errorf("encode refer_list: %w", err)
		}
		row.ReferList = nullString(string(b))
	}
	if r.RawInput != nil {
		b, err := json.Marshal(r.RawInput)
		if err != nil {
			return row, fmt.Errorf("encode raw_input: %w", err)
		}
		row.RawInput = nullString(string(b))
	}
	return row, nil
}

func (row recordRow) toRecord() (*model.Record, error) {
	r := &model.Record{
		ID:                row.ID,
		GroupID:           row.GroupID,
		RequestID:         row.RequestID,
		UserID:            row.UserID.String,
		MessageID:         row.MessageID.String,
		MessageCreateTime: row.MessageCreateTime.String,
		Sender:            row.Sender.String,
		SenderName:        row.SenderName.String,
		Content:           row.Content.String,
		GroupName:         row.GroupName.String,
		RawInputStr:       row.RawInputStr.String,
		Version:           row.Version.String,
		EndpointName:      row.EndpointName.String,
		Method:            row.Method.String,
		URL:               row.URL.String,
		OrganizationID:    row.OrganizationID.String,
		SpaceID:           row.SpaceID.String,
		EventID:           row.EventID.String,
		SyncStatus:        model.SyncStatus(row.SyncStatus),
		CreatedAt:         time.UnixMicro(row.CreatedAt).UTC(),
		UpdatedAt:         time.UnixMicro(row.UpdatedAt).UTC(),
	}
	if row.ReferList.Valid {
		if err := json.Unmarshal([]byte(row.ReferList.String), &r.ReferList); err != nil {
			return nil, fmt.Errorf("decode refer_list of %s: %w", row.ID, err)
		}
	}
	if row.RawInput.Valid {
		raw, err := model.DecodeObject([]byte(row.RawInput.String))
		if err != nil {
			return nil, fmt.Errorf("decode raw_input of %s: %w", row.ID, err)
		}
		r.RawInput = raw
	}
	return r, nil
}

func toRecords(rows []recordRow) ([]*model.Record, error) {
	recs := make([]*model.Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
