// Package store defines the persistence contract for request log records.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/memlog/internal/idgen"
	"github.com/alfredjeanlab/memlog/internal/model"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// StorageError wraps a failure of the underlying backend: connectivity,
// write conflicts, query errors and context cancellation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Wrap returns err wrapped in a *StorageError for op, or nil when err is
// nil. ErrNotFound passes through unwrapped.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Store defines the persistence interface for request log records.
//
// The transition methods are bulk conditional updates: the precondition on
// sync_status is part of the match filter, so each record moves at most once
// even under concurrent callers. They return the number of records changed.
type Store interface {
	// Records
	InsertRecord(ctx context.Context, rec *model.Record) error
	GetByRequestID(ctx context.Context, requestID string) (*model.Record, error)
	FindByGroup(ctx context.Context, filter model.RecordFilter) ([]*model.Record, error) // ascending created_at
	FindByUser(ctx context.Context, userID string, limit int) ([]*model.Record, error)    // newest first
	DeleteByGroup(ctx context.Context, groupID string) (int64, error)                     // administrative only

	// Sync state transitions
	ConfirmGroup(ctx context.Context, groupID string) (int64, error)                         // LOGGED -> ACCUMULATING
	ConfirmMessages(ctx context.Context, groupID string, messageIDs []string) (int64, error) // same, by message_id
	CloseGroup(ctx context.Context, groupID string) (int64, error)                           // LOGGED|ACCUMULATING -> CONSUMED

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// CompactIDs drops empty ids and duplicates, keeping first-seen order.
func CompactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// PrepareInsert fills the store-owned fields of rec before it is written
// and validates the result: an id when none is set, LOGGED status, and UTC
// timestamps at microsecond precision. Invalid records fail with a
// *model.ValidationError.
func PrepareInsert(rec *model.Record, now time.Time) error {
	if rec == nil {
		return model.ValidateRecord(nil)
	}
	if rec.ID == "" {
		id, err := idgen.RecordID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	rec.SyncStatus = model.StatusLogged
	now = now.UTC().Truncate(time.Microsecond)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	} else {
		rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Microsecond)
	}
	rec.UpdatedAt = now
	return model.ValidateRecord(rec)
}
