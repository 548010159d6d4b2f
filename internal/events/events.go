package events

import (
	"context"

	"github.com/alfredjeanlab/memlog/internal/model"
)

// Event topic constants
const (
	TopicRecordLogged    = "memlog.record.logged"
	TopicWindowConfirmed = "memlog.window.confirmed"
	TopicWindowClosed    = "memlog.window.closed"
	TopicGroupPurged     = "memlog.group.purged"
	TopicGroupArchived   = "memlog.group.archived"

	// Inbound: observed requests published by the API gateway, consumed by the listener.
	TopicRequestObserved = "memlog.request.observed"

	// TopicAll matches every outbound lifecycle topic.
	TopicAll = "memlog.>"
)

// Lifecycle lists the outbound topics, in lifecycle order.
var Lifecycle = []string{
	TopicRecordLogged,
	TopicWindowConfirmed,
	TopicWindowClosed,
	TopicGroupPurged,
	TopicGroupArchived,
}

// Event types

type RecordLogged struct {
	Record *model.Record `json:"record"`
}

type WindowConfirmed struct {
	GroupID    string   `json:"group_id"`
	Modified   int64    `json:"modified"`
	Precise    bool     `json:"precise"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

type WindowClosed struct {
	GroupID  string `json:"group_id"`
	Modified int64  `json:"modified"`
}

type GroupPurged struct {
	GroupID string `json:"group_id"`
	Deleted int64  `json:"deleted"`
}

type GroupArchived struct {
	GroupID string `json:"group_id"`
	Object  string `json:"object"`
	Records int    `json:"records"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
