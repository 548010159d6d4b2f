package window

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/memlog/internal/model"
)

// ConversationData is the boolean-result form of the window contract.
// Failures are logged and reported as false or an empty slice, so callers
// cannot tell "nothing matched" from "the store failed". New code should use
// Repository.
type ConversationData interface {
	SaveConversationData(ctx context.Context, messages []model.Message, groupID string) bool
	GetConversationData(ctx context.Context, groupID, startTime, endTime string, limit int) []*model.Message
	DeleteConversationData(ctx context.Context, groupID string) bool
}

// Legacy adapts a Repository to ConversationData.
type Legacy struct {
	repo   Repository
	logger *slog.Logger
}

// NewLegacy wraps repo. A nil logger uses slog.Default.
func NewLegacy(repo Repository, logger *slog.Logger) *Legacy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Legacy{repo: repo, logger: logger.With("component", "window.legacy")}
}

// SaveConversationData confirms the messages into the group's window. Zero
// records confirmed is still success.
func (l *Legacy) SaveConversationData(ctx context.Context, messages []model.Message, groupID string) bool {
	if _, err := l.repo.ConfirmWindow(ctx, groupID, messages); err != nil {
		l.logger.Error("save conversation data", "group_id", groupID, "error", err)
		return false
	}
	return true
}

// GetConversationData reads the group's window. startTime and endTime are
// ISO-8601; empty means unbounded. An unparsable bound yields no messages.
func (l *Legacy) GetConversationData(ctx context.Context, groupID, startTime, endTime string, limit int) []*model.Message {
	start, err := ParseBound(startTime)
	if err != nil {
		l.logger.Error("get conversation data: bad start_time", "group_id", groupID, "error", err)
		return []*model.Message{}
	}
	end, err := ParseBound(endTime)
	if err != nil {
		l.logger.Error("get conversation data: bad end_time", "group_id", groupID, "error", err)
		return []*model.Message{}
	}

	msgs, err := l.repo.ReadWindow(ctx, groupID, ReadOptions{Start: start, End: end, Limit: limit})
	if err != nil {
		l.logger.Error("get conversation data", "group_id", groupID, "error", err)
		return []*model.Message{}
	}
	return msgs
}

// DeleteConversationData closes the group's window: its records are marked
// CONSUMED and kept. It never removes data.
func (l *Legacy) DeleteConversationData(ctx context.Context, groupID string) bool {
	if _, err := l.repo.CloseWindow(ctx, groupID); err != nil {
		l.logger.Error("delete conversation data", "group_id", groupID, "error", err)
		return false
	}
	return true
}

var boundLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseBound parses an optional ISO-8601 time bound. Zone-less values are UTC
// and an empty string is no bound.
func ParseBound(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	var firstErr error
	for _, layout := range boundLayouts {
		t, err := time.ParseInLocation(layout, v, time.UTC)
		if err == nil {
			t = t.UTC()
			return &t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
