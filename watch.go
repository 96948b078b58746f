package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"debate_live/internal/apperrors"
	"debate_live/internal/bridge"
	"debate_live/internal/protocol"
)

var watchCmd = &cobra.Command{
	Use:   "watch ROOM",
	Short: "Follow a debate room live, optionally voting or chatting",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	flags := watchCmd.Flags()
	flags.String("vote", "", "cast one vote for pro or con after joining")
	flags.String("say", "", "send one chat message after joining")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	roomID := args[0]

	vote, _ := cmd.Flags().GetString("vote")
	side := protocol.Side(strings.ToLower(vote))
	if vote != "" && !side.Valid() {
		return fmt.Errorf("--vote must be pro or con")
	}
	say, _ := cmd.Flags().GetString("say")

	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	br, err := bridge.Open(ctx, sess.remote, roomID, logger)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), apperrors.UserMessage(err))
		return err
	}
	defer br.Close()

	out := newPrinter(cmd.OutOrStdout())
	out.remember(sess.identity)
	out.room(br.Document())

	conn, err := sess.manager.Connect(ctx)
	if err != nil {
		return err
	}
	if err := conn.Join(ctx, roomID); err != nil {
		return err
	}

	if side != "" {
		if _, err := br.CastVote(ctx, side); err != nil {
			out.system("%s", apperrors.UserMessage(err))
		}
	}
	if say != "" {
		// 自己的訊息不會被轉發回來，送出後自行合併並保存
		entry, err := conn.SendChat(ctx, say)
		if err != nil {
			out.system("%s", apperrors.UserMessage(err))
		} else if err := br.Record(ctx, entry); err != nil {
			out.system("%s", apperrors.UserMessage(err))
		}
	}

	events := conn.Events()
	for {
		select {
		case change := <-br.Updates():
			out.change(change)
		case evt, ok := <-events:
			if !ok {
				out.system("connection lost, reconnecting")
				events = reconnectEvents(ctx, sess.manager)
				continue
			}
			applyEvent(evt, br, out)
		case <-ctx.Done():
			drainUpdates(br, out)
			return nil
		}
	}
}
