// Package memory is an in-process store.Store. It holds records in a map
// guarded by one mutex and applies the same status guards as the database
// backends. Data does not survive a restart.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
)

var errClosed = errors.New("memory store is closed")

// MemoryStore implements store.Store in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*model.Record
	closed  bool
	now     func() time.Time
}

var _ store.Store = (*MemoryStore)(nil)

// New returns an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{records: make(map[string]*model.Record), now: time.Now}
}

// SetClock replaces the time source used for created_at and updated_at.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap(op, err)
	}
	if s.closed {
		return store.Wrap(op, errClosed)
	}
	return nil
}

func (s *MemoryStore) InsertRecord(ctx context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "insert record"); err != nil {
		return err
	}
	if err := store.PrepareInsert(rec, s.now()); err != nil {
		return store.Wrap("insert record", err)
	}
	if _, dup := s.records[rec.ID]; dup {
		return store.Wrap("insert record", errors.New("duplicate id "+rec.ID))
	}
	s.records[rec.ID] = clone(rec)
	return nil
}

func (s *MemoryStore) GetByRequestID(ctx context.Context, requestID string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "get by request id"); err != nil {
		return nil, err
	}
	var found *model.Record
	for _, r := range s.records {
		if r.RequestID != requestID {
			continue
		}
		if found == nil || r.CreatedAt.Before(found.CreatedAt) ||
			(r.CreatedAt.Equal(found.CreatedAt) && r.ID < found.ID) {
			found = r
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return clone(found), nil
}

func (s *MemoryStore) FindByGroup(ctx context.Context, filter model.RecordFilter) ([]*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "find by group"); err != nil {
		return nil, err
	}
	out := s.match(func(r *model.Record) bool {
		if r.GroupID != filter.GroupID {
			return false
		}
		if filter.Status != nil && r.SyncStatus != *filter.Status {
			return false
		}
		if filter.Start != nil && r.CreatedAt.Before(*filter.Start) {
			return false
		}
		if filter.End != nil && r.CreatedAt.After(*filter.End) {
			return false
		}
		if filter.After != nil && filter.After.Before(r) {
			return false
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, filter.Limit), nil
}

func (s *MemoryStore) FindByUser(ctx context.Context, userID string, n int) ([]*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "find by user"); err != nil {
		return nil, err
	}
	out := s.match(func(r *model.Record) bool { return r.UserID == userID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return limit(out, n), nil
}

func (s *MemoryStore) DeleteByGroup(ctx context.Context, groupID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "delete by group"); err != nil {
		return 0, err
	}
	var n int64
	for id, r := range s.records {
		if r.GroupID == groupID {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ConfirmGroup(ctx context.Context, groupID string) (int64, error) {
	return s.transition(ctx, "confirm group", model.StatusAccumulating, func(r *model.Record) bool {
		return r.GroupID == groupID && r.SyncStatus == model.StatusLogged
	})
}

func (s *MemoryStore) ConfirmMessages(ctx context.Context, groupID string, messageIDs []string) (int64, error) {
	ids := store.CompactIDs(messageIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return s.transition(ctx, "confirm messages", model.StatusAccumulating, func(r *model.Record) bool {
		if r.GroupID != groupID || r.SyncStatus != model.StatusLogged {
			return false
		}
		_, ok := want[r.MessageID]
		return ok
	})
}

func (s *MemoryStore) CloseGroup(ctx context.Context, groupID string) (int64, error) {
	return s.transition(ctx, "close group", model.StatusConsumed, func(r *model.Record) bool {
		return r.GroupID == groupID && !r.SyncStatus.IsTerminal()
	})
}

func (s *MemoryStore) transition(ctx context.Context, op string, next model.SyncStatus, pred func(*model.Record) bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, op); err != nil {
		return 0, err
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	var n int64
	for _, r := range s.records {
		if pred(r) && r.SyncStatus.CanAdvanceTo(next) {
			r.SyncStatus = next
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begin(ctx, "ping")
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// match returns clones of every record satisfying pred. Callers hold mu.
func (s *MemoryStore) match(pred func(*model.Record) bool) []*model.Record {
	out := []*model.Record{}
	for _, r := range s.records {
		if pred(r) {
			out = append(out, clone(r))
		}
	}
	return out
}

func limit(recs []*model.Record, n int) []*model.Record {
	n = model.ClampLimit(n)
	if len(recs) > n {
		return recs[:n]
	}
	return recs
}

func clone(r *model.Record) *model.Record {
	c := *r
	if r.ReferList != nil {
		c.ReferList = append([]string(nil), r.ReferList...)
	}
	if r.RawInput != nil {
		c.RawInput = make(map[string]any, len(r.RawInput))
		for k, v := range r.RawInput {
			c.RawInput[k] = v
		}
	}
	return &c
}
