// Package listener turns observed inbound requests into LOGGED records.
package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/memlog/internal/events"
	"github.com/alfredjeanlab/memlog/internal/idgen"
	"github.com/alfredjeanlab/memlog/internal/mapper"
	"github.com/alfredjeanlab/memlog/internal/metrics"
	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
)

// ObservedRequest is one request seen by the API layer. Body is the raw
// request body; when it is a JSON object its message fields are lifted onto
// the record.
type ObservedRequest struct {
	RequestID      string          `json:"request_id,omitempty"`
	GroupID        string          `json:"group_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Version        string          `json:"version,omitempty"`
	EndpointName   string          `json:"endpoint_name,omitempty"`
	Method         string          `json:"method,omitempty"`
	URL            string          `json:"url,omitempty"`
	OrganizationID string          `json:"organization_id,omitempty"`
	SpaceID        string          `json:"space_id,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
	Body           json.RawMessage `json:"body,omitempty"`
}

// Listener inserts observed requests into the store.
type Listener struct {
	store     store.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New returns a Listener. A nil publisher drops events; a nil logger uses
// slog.Default.
func New(st store.Store, p events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Listener {
	if p == nil {
		p = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{store: st, publisher: p, metrics: m, logger: logger.With("component", "listener")}
}

// Observe builds a record from req and inserts it at LOGGED.
func (l *Listener) Observe(ctx context.Context, req ObservedRequest) (*model.Record, error) {
	rec, err := Build(req)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateRecord(rec); err != nil {
		return nil, err
	}
	if err := l.store.InsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("inserting record for request %s: %w", rec.RequestID, err)
	}

	l.metrics.RecordLogged()
	l.logger.Debug("record logged",
		"record_id", rec.ID, "group_id", rec.GroupID, "request_id", rec.RequestID, "message_id", rec.MessageID)
	if err := l.publisher.Publish(ctx, events.TopicRecordLogged, events.RecordLogged{Record: rec}); err != nil {
		l.logger.Warn("failed to publish event", "topic", events.TopicRecordLogged, "record_id", rec.ID, "error", err)
	}
	return rec, nil
}

// Run consumes JSON-encoded ObservedRequests until ch closes or ctx ends.
// Payloads that cannot be decoded or inserted are logged and skipped.
func (l *Listener) Run(ctx context.Context, ch <-chan []byte) error {
	l.logger.Info("listener started")
	defer l.logger.Info("listener stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var req ObservedRequest
			if err := json.Unmarshal(data, &req); err != nil {
				l.logger.Warn("skipping malformed observed request", "error", err, "bytes", len(data))
				continue
			}
			if _, err := l.Observe(ctx, req); err != nil {
				l.logger.Error("observe request", "request_id", req.RequestID, "group_id", req.GroupID, "error", err)
			}
		}
	}
}

// Build maps req onto a new Record without touching the store. A missing
// request id is minted; group_id and user_id fall back to the body.
func Build(req ObservedRequest) (*model.Record, error) {
	rec := &model.Record{
		RequestID:      req.RequestID,
		GroupID:        req.GroupID,
		UserID:         req.UserID,
		Version:        req.Version,
		EndpointName:   req.EndpointName,
		Method:         req.Method,
		URL:            req.URL,
		OrganizationID: req.OrganizationID,
		SpaceID:        req.SpaceID,
		EventID:        req.EventID,
	}

	if body := bytes.TrimSpace(req.Body); len(body) > 0 && !bytes.Equal(body, []byte("null")) {
		rec.RawInputStr = string(body)
		if data, err := model.DecodeObject(body); err == nil && data != nil {
			rec.RawInput = data
			lift(rec, data)
		}
	}

	if rec.RequestID == "" {
		id, err := idgen.RequestID()
		if err != nil {
			return nil, err
		}
		rec.RequestID = id
	}
	return rec, nil
}

// lift copies the simple-message fields of a body onto rec.
func lift(rec *model.Record, data map[string]any) {
	rec.MessageID = mapper.ScalarString(data["message_id"])
	rec.Sender = mapper.ScalarString(data["sender"])
	rec.SenderName = mapper.ScalarString(data["sender_name"])
	rec.Content = mapper.ScalarString(data["content"])
	rec.GroupName = mapper.ScalarString(data["group_name"])
	if v, ok := data["refer_list"]; ok {
		rec.ReferList = mapper.NormalizeReferList(v)
	}
	rec.MessageCreateTime = createTime(data["create_time"])

	if rec.GroupID == "" {
		rec.GroupID = mapper.ScalarString(data["group_id"])
	}
	if rec.UserID == "" {
		rec.UserID = mapper.ScalarString(data["user_id"])
	}
}

// createTime keeps string timestamps verbatim and renders numeric ones as
// RFC 3339 so the stored column is always ISO-8601.
func createTime(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	ts, err := mapper.ParseTimestamp(v)
	if err != nil || ts == nil {
		return ""
	}
	return ts.Format(time.RFC3339Nano)
}
