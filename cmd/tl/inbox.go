package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/trunkline/internal/operator"
)

func newInboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Read the shared inbox",
	}

	cmd.AddCommand(newInboxListCmd())
	cmd.AddCommand(newInboxReadCmd())
	cmd.AddCommand(newInboxMentionsCmd())
	return cmd
}

func newInboxListCmd() *cobra.Command {
	var (
		configPath string
		channel    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unread events",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			events, err := operator.Unread(conn, channel)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No unread events.")
				return nil
			}
			for _, ev := range events {
				where := ev.ChannelID
				if ev.ThreadRoot != "" {
					where = fmt.Sprintf("%s/%s", ev.ChannelID, ev.ThreadRoot)
				}
				fmt.Fprintf(out, "[%s] %s %s: %s\n", ev.SeqToken, where, ev.SenderID, ev.Body)
			}
			fmt.Fprintf(out, "%d unread\n", len(events))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	cmd.Flags().StringVar(&channel, "channel", "", "filter by channel (default: all)")
	return cmd
}

func newInboxReadCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		actor      string
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Mark a channel's unread events as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			if channel == "" {
				channel = cfg.Platform.Channel
			}
			if actor == "" {
				actor = cfg.Identity
			}
			n, err := operator.MarkRead(conn, channel, actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d events read in %s\n", n, channel)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	cmd.Flags().StringVar(&channel, "channel", "", "channel to mark (default: coordination channel)")
	cmd.Flags().StringVar(&actor, "actor", "", "reader identity (default: configured identity)")
	return cmd
}

func newInboxMentionsCmd() *cobra.Command {
	var (
		configPath string
		identity   string
	)

	cmd := &cobra.Command{
		Use:   "mentions",
		Short: "Drain the mention queue for an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			if identity == "" {
				identity = cfg.Identity
			}
			notices, err := operator.PullMentions(conn, identity)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(notices) == 0 {
				fmt.Fprintf(out, "No mentions for %s.\n", identity)
				return nil
			}
			for _, n := range notices {
				fmt.Fprintf(out, "[%s %s] %s\n", n.ChannelID, n.SeqToken, n.Excerpt)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	cmd.Flags().StringVar(&identity, "identity", "", "identity to drain (default: configured identity)")
	return cmd
}
