package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"debate_live/internal/bridge"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the rooms created by the current identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		sess, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		rooms, err := sess.remote.ListRooms(ctx, sess.identity.UserID)
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No rooms yet.")
			return nil
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Room", "Topic", "Pro", "Con", "Leading", "Created"})
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		for _, r := range rooms {
			table.Append([]string{
				r.ID,
				r.Topic,
				strconv.FormatUint(r.Votes.Pro, 10),
				strconv.FormatUint(r.Votes.Con, 10),
				bridge.Winner(r.Votes),
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		table.Render()
		return nil
	},
}
