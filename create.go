package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"debate_live/internal/store"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a debate room and print its ID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("--topic is required")
		}

		ctx := cmd.Context()
		sess, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		doc, err := sess.remote.CreateRoom(ctx, store.Document{Topic: topic})
		if err != nil {
			return err
		}

		base := strings.TrimRight(cfg.Client.ServerURL, "/")
		fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
		fmt.Fprintf(cmd.ErrOrStderr(), "invite QR: %s/api/rooms/%s/qr\n", base, url.PathEscape(doc.ID))
		return nil
	},
}

func init() {
	createCmd.Flags().String("topic", "", "debate topic")
}
