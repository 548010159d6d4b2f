package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:     "archive <group-id>",
	Short:   "Export a group's records to the configured archive now",
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := recordClient.ArchiveGroup(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
		} else {
			fmt.Fprintf(stdout, "Archived %d record(s) of group %s to %s\n", res.Records, res.GroupID, res.Object)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check server health",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status, err := recordClient.Health(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{"status": status})
		} else {
			fmt.Fprintln(stdout, status)
		}
		return nil
	},
}
