package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:     "record <request-id>",
	Short:   "Show the first record logged for a request id",
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := recordClient.GetRecord(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(rec)
		} else {
			printRecordTable(rec)
		}
		return nil
	},
}

var recordsCmd = &cobra.Command{
	Use:     "records <group-id>",
	Short:   "List a group's records, oldest first",
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		limit, _ := cmd.Flags().GetInt("limit")

		recs, err := recordClient.ListGroupRecords(context.Background(), api.ListGroupRecordsRequest{
			GroupID: args[0],
			Status:  status,
			Start:   start,
			End:     end,
			Limit:   limit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(recs)
		} else {
			printRecordListTable(recs)
		}
		return nil
	},
}

var userRecordsCmd = &cobra.Command{
	Use:     "user-records <user-id>",
	Short:   "List a user's records, newest first",
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := recordClient.ListUserRecords(context.Background(), args[0], limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(recs)
		} else {
			printRecordListTable(recs)
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Log observed requests read as JSON lines from a file or stdin",
	Long: `Log observed requests as LOGGED records.

Each input line is a JSON object with request_id, group_id, user_id and a
body holding the message payload. Blank lines are skipped.`,
	GroupID: "records",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		reqs, err := readObservedRequests(in)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			rec, err := recordClient.IngestRecord(context.Background(), req)
			if err != nil {
				return fmt.Errorf("ingesting request %s: %w", req.RequestID, err)
			}
			if jsonOutput {
				printJSON(rec)
			} else {
				fmt.Fprintf(stdout, "Logged %s (group %s, message %s)\n", rec.RequestID, rec.GroupID, rec.MessageID)
			}
		}
		return nil
	},
}

// readObservedRequests parses one ObservedRequest per non-blank line.
func readObservedRequests(r io.Reader) ([]listener.ObservedRequest, error) {
	var out []listener.ObservedRequest
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var req listener.ObservedRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, req)
	}
	return out, scanner.Err()
}

var purgeCmd = &cobra.Command{
	Use:   "purge <group-id>",
	Short: "Permanently delete every record of a group",
	Long: `Permanently delete every record of a group.

Closing a window never deletes anything; purge is the only way records
leave the store. It requires --yes.`,
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to purge group %s without --yes", args[0])
		}
		n, err := recordClient.PurgeGroup(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(api.PurgeGroupResponse{GroupID: args[0], Deleted: n})
		} else {
			fmt.Fprintf(stdout, "Deleted %d record(s) from group %s\n", n, args[0])
		}
		return nil
	},
}

func init() {
	recordsCmd.Flags().String("status", "", "filter by status (logged, accumulating, consumed, all)")
	recordsCmd.Flags().String("start", "", "earliest created_at (ISO-8601)")
	recordsCmd.Flags().String("end", "", "latest created_at (ISO-8601)")
	recordsCmd.Flags().Int("limit", 0, "maximum records (default 100, max 1000)")

	userRecordsCmd.Flags().Int("limit", 0, "maximum records (default 100, max 1000)")

	purgeCmd.Flags().Bool("yes", false, "confirm permanent deletion")
}
