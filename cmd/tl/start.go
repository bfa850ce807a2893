package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/trunkline/internal/config"
	"github.com/zulandar/trunkline/internal/operator"
	"github.com/zulandar/trunkline/internal/statusapi"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the Trunkline daemon",
		Long:  "Polls the chat platform into the shared store (when holding the poller lease), sweeps retention on schedule, and optionally serves the local status endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := operator.New(ctx, operator.Opts{Config: cfg})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Trunkline up as %s on %s (channel %s)\n",
		svc.Self(), cfg.Platform.Kind, cfg.Platform.Channel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if cfg.Status.Listen != "" {
		go func() {
			err := statusapi.Start(ctx, statusapi.StartOpts{Service: svc, Listen: cfg.Status.Listen})
			if err != nil {
				log.Printf("status endpoint: %v", err)
			}
		}()
		fmt.Fprintf(out, "Status endpoint on http://%s\n", cfg.Status.Listen)
	}

	if err := operator.NewDaemon(svc).Run(ctx); err != context.Canceled {
		return err
	}
	fmt.Fprintln(out, "Stopped.")
	return nil
}
