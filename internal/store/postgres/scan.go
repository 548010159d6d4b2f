package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/memlog/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a model.Record.
// The row must contain columns in the order defined by recordColumns.
func scanRecord(row scannable) (*model.Record, error) {
	var r model.Record
	var (
		userID            sql.NullString
		messageID         sql.NullString
		messageCreateTime sql.NullString
		sender            sql.NullString
		senderName        sql.NullString
		content           sql.NullString
		groupName         sql.NullString
		referList         []string
		rawInput          []byte
		rawInputStr       sql.NullString
		version           sql.NullString
		endpointName      sql.NullString
		method            sql.NullString
		url               sql.NullString
		organizationID    sql.NullString
		spaceID           sql.NullString
		eventID           sql.NullString
		status            int
	)

	err := row.Scan(
		&r.ID,
		&r.GroupID,
		&r.RequestID,
		&userID,
		&messageID,
		&messageCreateTime,
		&sender,
		&senderName,
		&content,
		&groupName,
		pq.Array(&referList),
		&rawInput,
		&rawInputStr,
		&version,
		&endpointName,
		&method,
		&url,
		&organizationID,
		&spaceID,
		&eventID,
		&status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.UserID = userID.String
	r.MessageID = messageID.String
	r.MessageCreateTime = messageCreateTime.String
	r.Sender = sender.String
	r.SenderName = senderName.String
	r.Content = content.String
	r.GroupName = groupName.String
	r.ReferList = referList
	r.RawInputStr = rawInputStr.String
	r.Version = version.String
	r.EndpointName = endpointName.String
	r.Method = method.String
	r.URL = url.String
	r.OrganizationID = organizationID.String
	r.SpaceID = spaceID.String
	r.EventID = eventID.String
	r.SyncStatus = model.SyncStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()

	if len(rawInput) > 0 {
		raw, err := model.DecodeObject(rawInput)
		if err != nil {
			return nil, err
		}
		r.RawInput = raw
	}

	return &r, nil
}

// scanRecords scans multiple rows into a slice of model.Record pointers.
func scanRecords(rows *sql.Rows) ([]*model.Record, error) {
	recs := []*model.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes encodes a raw input map for a JSONB column; nil stays NULL.
func jsonbBytes(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
