package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alfredjeanlab/memlog/internal/model"
)

// recordDoc is the BSON layout of one memory_request_logs document.
type recordDoc struct {
	ID                string   `bson:"_id"`
	GroupID           string   `bson:"group_id"`
	RequestID         string   `bson:"request_id"`
	UserID            string   `bson:"user_id,omitempty"`
	MessageID         string   `bson:"message_id,omitempty"`
	MessageCreateTime string   `bson:"message_create_time,omitempty"`
	Sender            string   `bson:"sender,omitempty"`
	SenderName        string   `bson:"sender_name,omitempty"`
	Content           string   `bson:"content,omitempty"`
	GroupName         string   `bson:"group_name,omitempty"`
	ReferList         []string `bson:"refer_list,omitempty"`

	RawInput    bson.M `bson:"raw_input,omitempty"`
	RawInputStr string `bson:"raw_input_str,omitempty"`

	Version      string `bson:"version,omitempty"`
	EndpointName string `bson:"endpoint_name,omitempty"`
	Method       string `bson:"method,omitempty"`
	URL          string `bson:"url,omitempty"`

	OrganizationID string `bson:"organization_id,omitempty"`
	SpaceID        string `bson:"space_id,omitempty"`
	EventID        string `bson:"event_id,omitempty"`

	SyncStatus int       `bson:"sync_status"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toDoc(r *model.Record) *recordDoc {
	return &recordDoc{
		ID:                r.ID,
		GroupID:           r.GroupID,
		RequestID:         r.RequestID,
		UserID:            r.UserID,
		MessageID:         r.MessageID,
		MessageCreateTime: r.MessageCreateTime,
		Sender:            r.Sender,
		SenderName:        r.SenderName,
		Content:           r.Content,
		GroupName:         r.GroupName,
		ReferList:         r.ReferList,
		RawInput:          bson.M(r.RawInput),
		RawInputStr:       r.RawInputStr,
		Version:           r.Version,
		EndpointName:      r.EndpointName,
		Method:            r.Method,
		URL:               r.URL,
		OrganizationID:    r.OrganizationID,
		SpaceID:           r.SpaceID,
		EventID:           r.EventID,
		SyncStatus:        int(r.SyncStatus),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (d *recordDoc) toRecord() *model.Record {
	r := &model.Record{
		ID:                d.ID,
		GroupID:           d.GroupID,
		RequestID:         d.RequestID,
		UserID:            d.UserID,
		MessageID:         d.MessageID,
		MessageCreateTime: d.MessageCreateTime,
		Sender:            d.Sender,
		SenderName:        d.SenderName,
		Content:           d.Content,
		GroupName:         d.GroupName,
		ReferList:         d.ReferList,
		RawInputStr:       d.RawInputStr,
		Version:           d.Version,
		EndpointName:      d.EndpointName,
		Method:            d.Method,
		URL:               d.URL,
		OrganizationID:    d.OrganizationID,
		SpaceID:           d.SpaceID,
		EventID:           d.EventID,
		SyncStatus:        model.SyncStatus(d.SyncStatus),
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
	if d.RawInput != nil {
		r.RawInput, _ = plain(map[string]any(d.RawInput)).(map[string]any)
	}
	return r
}

// plain converts decoded BSON containers into the map/slice shapes
// produced by encoding/json, so callers see one representation regardless
// of backend.
func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case primitive.M:
		return plain(map[string]any(t))
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		return plain([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case int32:
		return int64(t)
	}
	return v
}
