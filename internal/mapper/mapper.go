// Package mapper rebuilds domain messages from stored request log records.
//
// Conversion tries three sources in order and uses the first that yields
// a message id and a sender:
//
//  1. raw_input_str, decoded as a JSON object
//  2. raw_input, the already-parsed payload
//  3. the record's discrete message fields
//
// The third tier always succeeds for a record that has any identity, so a
// stored record is only ever dropped when it is corrupt.
package mapper

import (
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/memlog/internal/metrics"
	"github.com/alfredjeanlab/memlog/internal/model"
)

// ReconstructionError reports a record that no tier could turn into a message.
type ReconstructionError struct {
	RecordID string
	Reason   string
}

func (e *ReconstructionError) Error() string {
	if e.RecordID == "" {
		return "reconstruct message: " + e.Reason
	}
	return fmt.Sprintf("reconstruct message from %s: %s", e.RecordID, e.Reason)
}

// Mapper converts records to messages. The zero value is not usable; call New.
type Mapper struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Mapper. Both arguments may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Mapper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mapper{logger: logger.With("component", "mapper"), metrics: m}
}

// Convert rebuilds the message carried by rec.
func (m *Mapper) Convert(rec *model.Record) (*model.Message, error) {
	if rec == nil {
		m.metrics.MapperTier(metrics.TierFailed)
		return nil, &ReconstructionError{Reason: "nil record"}
	}

	if rec.RawInputStr != "" {
		if data, err := model.DecodeObject([]byte(rec.RawInputStr)); err != nil {
			m.logger.Debug("raw_input_str not usable, falling back",
				"record_id", rec.ID, "error", err)
		} else if msg := m.fromSimpleMessage(data, rec.RequestID); msg != nil {
			m.metrics.MapperTier(metrics.TierRawInputStr)
			return msg, nil
		}
	}

	if rec.RawInput != nil {
		if msg := m.fromSimpleMessage(rec.RawInput, rec.RequestID); msg != nil {
			m.metrics.MapperTier(metrics.TierRawInput)
			return msg, nil
		}
	}

	msg, err := m.fromFields(rec)
	if err != nil {
		m.metrics.MapperTier(metrics.TierFailed)
		return nil, err
	}
	m.metrics.MapperTier(metrics.TierFields)
	return msg, nil
}

// ToMessage is the lenient form of Convert: failures are logged and
// reported as nil.
func (m *Mapper) ToMessage(rec *model.Record) *model.Message {
	msg, err := m.Convert(rec)
	if err != nil {
		m.logger.Error("convert record", "error", err)
		return nil
	}
	return msg
}

// ToMessageList converts each record independently, preserving order and
// skipping any record whose conversion fails.
func (m *Mapper) ToMessageList(recs []*model.Record) []*model.Message {
	out := make([]*model.Message, 0, len(recs))
	for _, rec := range recs {
		msg, err := m.safeConvert(rec)
		if err != nil {
			id := ""
			if rec != nil {
				id = rec.ID
			}
			m.logger.Error("skip record", "record_id", id, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out
}

// safeConvert runs Convert and turns a panic on malformed stored data into
// an error for that record alone.
func (m *Mapper) safeConvert(rec *model.Record) (msg *model.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.MapperTier(metrics.TierFailed)
			id := ""
			if rec != nil {
				id = rec.ID
			}
			msg, err = nil, &ReconstructionError{RecordID: id, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return m.Convert(rec)
}

// fromSimpleMessage extracts a message from a payload of the form
// {"message_id": ..., "sender": ..., "content": ..., ...}. It returns nil
// when the payload lacks a message id or sender.
func (m *Mapper) fromSimpleMessage(data map[string]any, requestID string) *model.Message {
	if data == nil {
		return nil
	}
	messageID := ScalarString(data["message_id"])
	sender := ScalarString(data["sender"])
	if messageID == "" || sender == "" {
		return nil
	}

	ts, err := ParseTimestamp(data["create_time"])
	if err != nil {
		m.logger.Warn("unparsable create_time", "value", data["create_time"], "error", err)
	}

	msg := &model.Message{
		MessageID:  messageID,
		Sender:     sender,
		Content:    ScalarString(data["content"]),
		Timestamp:  ts,
		SenderName: ScalarString(data["sender_name"]),
		GroupID:    ScalarString(data["group_id"]),
		GroupName:  ScalarString(data["group_name"]),
		ReferList:  NormalizeReferList(data["refer_list"]),
	}
	if requestID != "" {
		msg.ExtraMetadata = map[string]any{"request_id": requestID}
	}
	return msg
}

// fromFields builds a message from the record's own columns.
func (m *Mapper) fromFields(rec *model.Record) (*model.Message, error) {
	messageID := rec.MessageID
	if messageID == "" {
		messageID = rec.ID
	}
	if messageID == "" {
		return nil, &ReconstructionError{Reason: "record has neither message_id nor id"}
	}

	timestamp, err := ParseTimestamp(rec.MessageCreateTime)
	if err != nil {
		m.logger.Warn("unparsable message_create_time",
			"record_id", rec.ID, "value", rec.MessageCreateTime, "error", err)
	}

	refs := rec.ReferList
	if refs == nil {
		refs = []string{}
	}
	msg := &model.Message{
		MessageID:  messageID,
		Sender:     rec.Sender,
		Content:    rec.Content,
		Timestamp:  timestamp,
		SenderName: rec.SenderName,
		GroupID:    rec.GroupID,
		GroupName:  rec.GroupName,
		ReferList:  refs,
	}
	if rec.RequestID != "" {
		msg.ExtraMetadata = map[string]any{"request_id": rec.RequestID}
	}
	return msg, nil
}
