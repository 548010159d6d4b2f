package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store/memory"
)

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func seedGroup(t *testing.T, st *memory.MemoryStore, groupID string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := &model.Record{
			GroupID:   groupID,
			RequestID: fmt.Sprintf("req-%s-%d", groupID, i),
			MessageID: fmt.Sprintf("m%04d", i),
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		}
		if err := st.InsertRecord(context.Background(), rec); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
	}
}

func decodeLine(t *testing.T, line string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(line), v); err != nil {
		t.Fatalf("unmarshal %s: %v", line, err)
	}
}

func TestExportGroupJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := ExportGroupJSONL(context.Background(), memory.New(), "g1", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 2 {
		t.Fatalf("expected header and trailer, got %d lines", len(lines))
	}
	var h header
	decodeLine(t, lines[0], &h)
	if h.Version != "2" || h.Type != "header" || h.GroupID != "g1" {
		t.Fatalf("unexpected header: %+v", h)
	}
	var tr trailer
	decodeLine(t, lines[1], &tr)
	if tr != (trailer{Type: "trailer"}) {
		t.Fatalf("unexpected trailer: %+v", tr)
	}
}

func TestExportGroupJSONL_AllStatusesInOrder(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedGroup(t, st, "g1", 3, base)
	seedGroup(t, st, "g2", 1, base)
	if _, err := st.ConfirmMessages(ctx, "g1", []string{"m0000"}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CloseGroup(ctx, "g2"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := ExportGroupJSONL(ctx, st, "g1", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := nonEmptyLines(buf.String())
	if n != 3 || len(lines) != 5 {
		t.Fatalf("n = %d, lines = %d:\n%s", n, len(lines), buf.String())
	}

	for i, line := range lines[1:4] {
		var r struct {
			Type string       `json:"type"`
			Data model.Record `json:"data"`
		}
		decodeLine(t, line, &r)
		if r.Type != "record" || r.Data.MessageID != fmt.Sprintf("m%04d", i) {
			t.Errorf("line %d = %s", i+1, line)
		}
	}

	var tr trailer
	decodeLine(t, lines[4], &tr)
	want := trailer{Type: "trailer", RecordCount: 3, Statuses: statusTally{Logged: 2, Accumulating: 1}}
	if tr != want {
		t.Errorf("trailer = %+v, want %+v", tr, want)
	}
}

func TestExportGroupJSONL_PagesPastMaxLimit(t *testing.T) {
	st := memory.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := model.MaxLimit + 250
	seedGroup(t, st, "big", total, base)

	var buf bytes.Buffer
	n, err := ExportGroupJSONL(context.Background(), st, "big", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != total {
		t.Errorf("exported %d records, want %d", n, total)
	}
	if lines := nonEmptyLines(buf.String()); len(lines) != total+2 {
		t.Errorf("lines = %d, want %d", len(lines), total+2)
	}
}

func TestExportGroupJSONL_SharedTimestampBeyondPage(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := model.MaxLimit + 500
	for i := 0; i < total; i++ {
		rec := &model.Record{
			GroupID:   "tied",
			RequestID: fmt.Sprintf("req-%d", i),
			MessageID: fmt.Sprintf("m%04d", i),
			CreatedAt: at,
		}
		if err := st.InsertRecord(ctx, rec); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
	}

	var buf bytes.Buffer
	n, err := ExportGroupJSONL(ctx, st, "tied", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != total {
		t.Fatalf("exported %d of %d records", n, total)
	}

	lines := nonEmptyLines(buf.String())
	seen := make(map[string]bool, total)
	for _, line := range lines[1 : len(lines)-1] {
		var r record
		decodeLine(t, line, &r)
		if seen[r.Data.ID] {
			t.Fatalf("record %s exported twice", r.Data.ID)
		}
		seen[r.Data.ID] = true
	}
	if len(seen) != total {
		t.Errorf("distinct records = %d, want %d", len(seen), total)
	}
}
