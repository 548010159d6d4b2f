package model

import "time"

const (
	// DefaultLimit is applied when a query does not name a limit.
	DefaultLimit = 100
	// MaxLimit caps every record query.
	MaxLimit = 1000
)

// RecordFilter holds criteria for querying the records of one group.
type RecordFilter struct {
	GroupID string      `json:"group_id"`
	Status  *SyncStatus `json:"status,omitempty"` // nil matches every status
	Start   *time.Time  `json:"start,omitempty"`  // inclusive lower bound on created_at
	End     *time.Time  `json:"end,omitempty"`    // inclusive upper bound on created_at
	After   *Cursor     `json:"after,omitempty"`
	Limit   int         `json:"limit,omitempty"`
}

// Cursor is a position in (created_at, id) order. A filter with After set
// returns only records strictly past it.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// CursorAt returns the position of r.
func CursorAt(r *Record) *Cursor {
	return &Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// Before reports whether r sorts at or before c.
func (c *Cursor) Before(r *Record) bool {
	if !r.CreatedAt.Equal(c.CreatedAt) {
		return r.CreatedAt.Before(c.CreatedAt)
	}
	return r.ID <= c.ID
}

// StatusPtr returns a pointer to s, for building filters inline.
func StatusPtr(s SyncStatus) *SyncStatus {
	return &s
}

// ClampLimit maps a requested limit onto [1, MaxLimit], using DefaultLimit
// for zero or negative values.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}
