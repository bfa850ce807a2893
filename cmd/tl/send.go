package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/config"
	"github.com/zulandar/trunkline/internal/operator"
)

func newSendCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		thread     string
		as         string
	)

	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Post a message through the gateway",
		Long:  "Posts to the coordination channel (or --channel), watermarks the cursor, and watches the new thread for replies.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if channel == "" {
				channel = cfg.Platform.Channel
			}

			ctx := context.Background()
			svc, err := operator.New(ctx, operator.Opts{Config: cfg})
			if err != nil {
				return err
			}
			defer svc.Close()

			seq, err := svc.SendMessage(ctx, channel, strings.Join(args, " "), chat.PostOpts{
				ThreadRoot: thread,
				Username:   as,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s (seq %s)\n", channel, seq)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	cmd.Flags().StringVar(&channel, "channel", "", "target channel (default: coordination channel)")
	cmd.Flags().StringVar(&thread, "thread", "", "reply into this thread root")
	cmd.Flags().StringVar(&as, "as", "", "sender display override")
	return cmd
}
