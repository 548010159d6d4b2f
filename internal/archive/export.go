package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
)

// header is the first JSONL line written by ExportGroupJSONL.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	GroupID   string    `json:"group_id"`
	Timestamp time.Time `json:"timestamp"`
}

// trailer is the last line; it is written once every page has been streamed.
type trailer struct {
	Type        string      `json:"type"`
	RecordCount int         `json:"record_count"`
	Statuses    statusTally `json:"statuses"`
}

type statusTally struct {
	Logged       int `json:"logged"`
	Accumulating int `json:"accumulating"`
	Consumed     int `json:"consumed"`
}

func (t *statusTally) add(s model.SyncStatus) {
	switch s {
	case model.StatusLogged:
		t.Logged++
	case model.StatusAccumulating:
		t.Accumulating++
	case model.StatusConsumed:
		t.Consumed++
	}
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string        `json:"type"`
	Data *model.Record `json:"data"`
}

// ExportGroupJSONL writes every record of the group, whatever its status, as
// JSONL to w: a header line, one line per record in (created_at, id) order,
// then a trailer with the per-status tallies. Records are fetched and written
// one page at a time. It returns the number of records written.
func ExportGroupJSONL(ctx context.Context, s store.Store, groupID string, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:   "2",
		Type:      "header",
		GroupID:   groupID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	var (
		n      int
		tally  statusTally
		cursor *model.Cursor
	)
	for {
		page, err := s.FindByGroup(ctx, model.RecordFilter{
			GroupID: groupID,
			After:   cursor,
			Limit:   model.MaxLimit,
		})
		if err != nil {
			return n, fmt.Errorf("list records of %s: %w", groupID, err)
		}
		for _, r := range page {
			if err := enc.Encode(record{Type: "record", Data: r}); err != nil {
				return n, fmt.Errorf("encode record %s: %w", r.ID, err)
			}
			tally.add(r.SyncStatus)
			n++
		}
		if len(page) < model.MaxLimit {
			break
		}
		cursor = model.CursorAt(page[len(page)-1])
	}

	if err := enc.Encode(trailer{Type: "trailer", RecordCount: n, Statuses: tally}); err != nil {
		return n, fmt.Errorf("encode trailer: %w", err)
	}
	return n, nil
}
