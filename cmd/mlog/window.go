package main

import (
	"context"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/spf13/cobra"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm <group-id> [message-id...]",
	Short: "Move LOGGED records into the open window",
	Long: `Move LOGGED records of a group to ACCUMULATING.

With message ids only the matching records move; without, every LOGGED
record of the group does. Records already past LOGGED are left alone.`,
	GroupID: "window",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := recordClient.ConfirmWindow(context.Background(), api.ConfirmWindowRequest{
			GroupID:    args[0],
			MessageIDs: args[1:],
		})
		if err != nil {
			return err
		}
		printWindowResult("Confirmed", res)
		return nil
	},
}

var windowCmd = &cobra.Command{
	Use:     "window <group-id>",
	Short:   "Show the messages in a group's open window",
	GroupID: "window",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		limit, _ := cmd.Flags().GetInt("limit")

		msgs, err := recordClient.ReadWindow(context.Background(), api.ReadWindowRequest{
			GroupID: args[0],
			Start:   start,
			End:     end,
			Limit:   limit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(msgs)
		} else {
			printMessagesTable(msgs)
		}
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <group-id>",
	Short: "Mark a group's LOGGED and ACCUMULATING records CONSUMED",
	Long: `Close a group's window. Every LOGGED or ACCUMULATING record becomes
CONSUMED. Records are kept; use purge to delete them.`,
	GroupID: "window",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := recordClient.CloseWindow(context.Background(), args[0])
		if err != nil {
			return err
		}
		printWindowResult("Consumed", res)
		return nil
	},
}

func init() {
	windowCmd.Flags().String("start", "", "earliest created_at (ISO-8601)")
	windowCmd.Flags().String("end", "", "latest created_at (ISO-8601)")
	windowCmd.Flags().Int("limit", 0, "maximum messages (default 100, max 1000)")
}
