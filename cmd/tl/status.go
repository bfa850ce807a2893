package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/trunkline/internal/consensus"
	"github.com/zulandar/trunkline/internal/lease"
	"github.com/zulandar/trunkline/internal/models"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show poller lease, cursors, and backlog counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			holder, renewedAt, held := lease.Holder(conn)
			if held {
				fmt.Fprintf(out, "Poller lease: %s (renewed %s ago)\n",
					holder, time.Since(renewedAt).Round(time.Second))
			} else {
				fmt.Fprintln(out, "Poller lease: unheld")
			}

			var cursors []models.ChannelCursor
			if err := conn.Order("channel_id").Find(&cursors).Error; err != nil {
				return fmt.Errorf("status: load cursors: %w", err)
			}
			if len(cursors) == 0 {
				fmt.Fprintln(out, "Cursors: none (nothing ingested yet)")
			}
			for _, c := range cursors {
				fmt.Fprintf(out, "Cursor %s: %s (updated %s ago)\n",
					c.ChannelID, c.LastSeq, time.Since(c.UpdatedAt).Round(time.Second))
			}

			var unread int64
			err = conn.Model(&models.InboxEvent{}).
				Where("status = ?", models.EventUnread).
				Count(&unread).Error
			if err != nil {
				return fmt.Errorf("status: count unread: %w", err)
			}
			fmt.Fprintf(out, "Unread events: %d\n", unread)

			pending, err := consensus.ListPending(conn)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pending consensus requests: %d\n", len(pending))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	return cmd
}
