package model

import (
	"fmt"
	"strings"
	"time"
)

// SyncStatus is the lifecycle flag carried by every request log record.
type SyncStatus int

const (
	// StatusLogged marks a record written by the listener and not yet
	// confirmed into an accumulation window.
	StatusLogged SyncStatus = -1
	// StatusAccumulating marks a record inside the current open window.
	StatusAccumulating SyncStatus = 0
	// StatusConsumed marks a record that a closed window has used. Terminal.
	StatusConsumed SyncStatus = 1
)

// String returns the lower-case name of the status.
func (s SyncStatus) String() string {
	switch s {
	case StatusLogged:
		return "logged"
	case StatusAccumulating:
		return "accumulating"
	case StatusConsumed:
		return "consumed"
	}
	return fmt.Sprintf("SyncStatus(%d)", int(s))
}

// IsValid checks whether the status is one of the three known states.
func (s SyncStatus) IsValid() bool {
	switch s {
	case StatusLogged, StatusAccumulating, StatusConsumed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s SyncStatus) IsTerminal() bool {
	return s == StatusConsumed
}

// CanAdvanceTo reports whether a record in status s may move to next.
// Status only ever advances; LOGGED may skip straight to CONSUMED.
func (s SyncStatus) CanAdvanceTo(next SyncStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return next > s
}

// ParseSyncStatus accepts a status name ("logged", "accumulating",
// "consumed") or its numeric form ("-1", "0", "1").
func ParseSyncStatus(v string) (SyncStatus, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "logged", "-1":
		return StatusLogged, nil
	case "accumulating", "0":
		return StatusAccumulating, nil
	case "consumed", "1":
		return StatusConsumed, nil
	}
	return 0, fmt.Errorf("invalid sync status %q", v)
}

// Record is one captured inbound conversational request.
type Record struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id" validate:"required,max=256"`
	RequestID string `json:"request_id" validate:"required,max=256"`
	UserID    string `json:"user_id,omitempty" validate:"max=256"`

	MessageID         string   `json:"message_id,omitempty" validate:"max=256"`
	MessageCreateTime string   `json:"message_create_time,omitempty"`
	Sender            string   `json:"sender,omitempty" validate:"max=256"`
	SenderName        string   `json:"sender_name,omitempty"`
	Content           string   `json:"content,omitempty"`
	GroupName         string   `json:"group_name,omitempty"`
	ReferList         []string `json:"refer_list,omitempty"`

	RawInput    map[string]any `json:"raw_input,omitempty"`
	RawInputStr string         `json:"raw_input_str,omitempty"`

	Version      string `json:"version,omitempty" validate:"max=64"`
	EndpointName string `json:"endpoint_name,omitempty" validate:"max=256"`
	Method       string `json:"method,omitempty" validate:"max=16"`
	URL          string `json:"url,omitempty" validate:"max=2048"`

	OrganizationID string `json:"organization_id,omitempty" validate:"max=256"`
	SpaceID        string `json:"space_id,omitempty" validate:"max=256"`
	EventID        string `json:"event_id,omitempty" validate:"max=256"`

	SyncStatus SyncStatus `json:"sync_status" validate:"sync_status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
