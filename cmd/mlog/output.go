package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/ui"
)

var stdout io.Writer = os.Stdout

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Fprintln(stdout, string(data))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

// contentWidth is how much of a message body fits in a table row. Wide
// terminals get everything past the other columns.
func contentWidth(def int) int {
	f, ok := stdout.(*os.File)
	if !ok {
		return def
	}
	if w := ui.Width(f, 0) - 70; w > def {
		return w
	}
	return def
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func printRecordTable(r *model.Record) {
	fmt.Fprintf(stdout, "ID:          %s\n", r.ID)
	fmt.Fprintf(stdout, "Request ID:  %s\n", r.RequestID)
	fmt.Fprintf(stdout, "Group:       %s\n", r.GroupID)
	if r.GroupName != "" {
		fmt.Fprintf(stdout, "Group Name:  %s\n", r.GroupName)
	}
	fmt.Fprintf(stdout, "Status:      %s\n", ui.RenderStatus(r.SyncStatus))
	if r.UserID != "" {
		fmt.Fprintf(stdout, "User:        %s\n", r.UserID)
	}
	if r.MessageID != "" {
		fmt.Fprintf(stdout, "Message ID:  %s\n", r.MessageID)
	}
	if r.Sender != "" {
		fmt.Fprintf(stdout, "Sender:      %s\n", r.Sender)
	}
	if r.Content != "" {
		fmt.Fprintf(stdout, "Content:     %s\n", r.Content)
	}
	if len(r.ReferList) > 0 {
		fmt.Fprintf(stdout, "Refers To:   %s\n", strings.Join(r.ReferList, ", "))
	}
	fmt.Fprintf(stdout, "Created At:  %s\n", formatTime(r.CreatedAt))
	fmt.Fprintf(stdout, "Updated At:  %s\n", formatTime(r.UpdatedAt))
}

func printRecordListTable(recs []*model.Record) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST ID\tSTATUS\tMESSAGE ID\tSENDER\tCREATED\tCONTENT")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RequestID,
			ui.RenderStatus(r.SyncStatus),
			r.MessageID,
			r.Sender,
			formatTime(r.CreatedAt),
			truncate(r.Content, contentWidth(50)),
		)
	}
	w.Flush()
	fmt.Fprintf(stdout, "\n%d records\n", len(recs))
}

func printMessagesTable(msgs []*model.Message) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE ID\tSENDER\tTIMESTAMP\tCONTENT")
	for _, m := range msgs {
		ts := ""
		if m.Timestamp != nil {
			ts = formatTime(*m.Timestamp)
		}
		sender := m.Sender
		if m.SenderName != "" {
			sender = m.SenderName + " (" + m.Sender + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.MessageID, sender, ts, truncate(m.Content, contentWidth(60)))
	}
	w.Flush()
	fmt.Fprintf(stdout, "\n%d messages\n", len(msgs))
}

func printWindowResult(verb string, res *api.WindowResult) {
	if jsonOutput {
		printJSON(res)
		return
	}
	mode := ""
	if res.Precise {
		mode = " (by message id)"
	}
	fmt.Fprintf(stdout, "%s %d record(s) in group %s%s\n", verb, res.Modified, res.GroupID, mode)
}
