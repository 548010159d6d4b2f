// Package api holds the wire types shared by the memlog HTTP and gRPC
// servers and their clients.
package api

import (
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/memlog/internal/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "memlog.v1.RecordService"

// gRPC method names.
const (
	MethodHealth           = "Health"
	MethodIngestRecord     = "IngestRecord"
	MethodGetRecord        = "GetRecord"
	MethodListGroupRecords = "ListGroupRecords"
	MethodListUserRecords  = "ListUserRecords"
	MethodPurgeGroup       = "PurgeGroup"
	MethodConfirmWindow    = "ConfirmWindow"
	MethodReadWindow       = "ReadWindow"
	MethodCloseWindow      = "CloseWindow"
	MethodArchiveGroup     = "ArchiveGroup"
)

// FullMethod returns the gRPC path for method, e.g. "/memlog.v1.RecordService/Health".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// GetRecordRequest names a record by its request id.
type GetRecordRequest struct {
	RequestID string `json:"request_id"`
}

// ListGroupRecordsRequest filters a group's records. Status is a sync
// status name or number; empty or "all" matches every status. Start and End
// are ISO-8601.
type ListGroupRecordsRequest struct {
	GroupID string `json:"group_id"`
	Status  string `json:"status,omitempty"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type ListUserRecordsRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

type RecordsResponse struct {
	Records []*model.Record `json:"records"`
}

type PurgeGroupRequest struct {
	GroupID string `json:"group_id"`
	Confirm bool   `json:"confirm"`
}

type PurgeGroupResponse struct {
	GroupID string `json:"group_id"`
	Deleted int64  `json:"deleted"`
}

// ConfirmWindowRequest confirms records into a group's window. Messages and
// MessageIDs are merged; when both are empty every LOGGED record of the
// group is confirmed.
type ConfirmWindowRequest struct {
	GroupID    string          `json:"group_id,omitempty"`
	Messages   []model.Message `json:"messages,omitempty"`
	MessageIDs []string        `json:"message_ids,omitempty"`
}

// AllMessages returns Messages followed by a stub message per MessageIDs entry.
func (r *ConfirmWindowRequest) AllMessages() []model.Message {
	out := make([]model.Message, 0, len(r.Messages)+len(r.MessageIDs))
	out = append(out, r.Messages...)
	for _, id := range r.MessageIDs {
		out = append(out, model.Message{MessageID: id})
	}
	return out
}

type ReadWindowRequest struct {
	GroupID string `json:"group_id"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type ReadWindowResponse struct {
	GroupID  string           `json:"group_id"`
	Messages []*model.Message `json:"messages"`
}

// GroupRequest carries only a group id (CloseWindow, ArchiveGroup).
type GroupRequest struct {
	GroupID string `json:"group_id"`
}

// WindowResult is the outcome of a confirm or close.
type WindowResult struct {
	GroupID  string `json:"group_id"`
	Modified int64  `json:"modified"`
	Precise  bool   `json:"precise"`
}

// ArchiveResult is the outcome of an archive export.
type ArchiveResult struct {
	GroupID string `json:"group_id"`
	Object  string `json:"object"`
	Records int    `json:"records"`
}

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ToStruct converts a JSON-tagged value into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%T is not a JSON object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes a protobuf Struct into the JSON-tagged value v.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
