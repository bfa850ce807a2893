package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/trunkline/internal/digest"
	"github.com/zulandar/trunkline/internal/operator"
)

func newDigestCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		previewLen int
		perGroup   int
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Summarize the unread backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			events, err := operator.Unread(conn, channel)
			if err != nil {
				return err
			}
			d := digest.Build(events, digest.Opts{
				PreviewLen:  previewLen,
				MaxPerGroup: perGroup,
			})
			fmt.Fprintln(cmd.OutOrStdout(), digest.Format(d))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	cmd.Flags().StringVar(&channel, "channel", "", "filter by channel (default: all)")
	cmd.Flags().IntVar(&previewLen, "preview", 0, "preview length per message (default 140)")
	cmd.Flags().IntVar(&perGroup, "per-group", 0, "previews kept per conversation (default 5)")
	return cmd
}
