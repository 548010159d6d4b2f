package model

import "time"

// Message is the domain message handed to the extraction pipeline.
// It is rebuilt from a Record on every read and never persisted.
type Message struct {
	MessageID     string         `json:"message_id"`
	Sender        string         `json:"sender"`
	Content       string         `json:"content"`
	Timestamp     *time.Time     `json:"timestamp,omitempty"`
	SenderName    string         `json:"sender_name,omitempty"`
	GroupID       string         `json:"group_id,omitempty"`
	GroupName     string         `json:"group_name,omitempty"`
	ReferList     []string       `json:"refer_list"`
	ExtraMetadata map[string]any `json:"extra_metadata,omitempty"`
}

// RequestID returns the originating request id carried in ExtraMetadata.
func (m *Message) RequestID() string {
	if m == nil || m.ExtraMetadata == nil {
		return ""
	}
	s, _ := m.ExtraMetadata["request_id"].(string)
	return s
}
