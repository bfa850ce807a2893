package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/trunkline/internal/config"
	"github.com/zulandar/trunkline/internal/consensus"
	"github.com/zulandar/trunkline/internal/models"
	"github.com/zulandar/trunkline/internal/operator"
)

func newConsensusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consensus",
		Short: "Channel-resolved approvals and permission grants",
	}

	cmd.AddCommand(newConsensusCreateCmd())
	cmd.AddCommand(newConsensusListCmd())
	cmd.AddCommand(newConsensusResolveCmd())
	return cmd
}

func newConsensusCreateCmd() *cobra.Command {
	var (
		configPath string
		kind       string
		deciders   []string
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "create [description...]",
		Short: "Open a request and post its prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := context.Background()
			svc, err := operator.New(ctx, operator.Opts{Config: cfg})
			if err != nil {
				return err
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			description := strings.Join(args, " ")

			var req *models.ConsensusRequest
			switch kind {
			case "approval":
				req, err = svc.CreateApproval(ctx, cfg.Identity, description, deciders)
				if err != nil {
					return err
				}
			case "permission":
				var needed bool
				req, needed, err = svc.CreatePermissionRequest(ctx, cfg.Identity, description, deciders)
				if err != nil {
					return err
				}
				if !needed {
					fmt.Fprintln(out, "No grant needed: command is not flagged as dangerous.")
					return nil
				}
			default:
				return fmt.Errorf("unknown kind %q (approval or permission)", kind)
			}
			fmt.Fprintf(out, "Request %s pending (prompt %s)\n", req.ID, req.PromptSeq)

			if !wait {
				return nil
			}
			resolved, err := svc.AwaitConsensus(ctx, req.ID)
			if errors.Is(err, consensus.ErrTimeout) {
				fmt.Fprintln(out, "Timed out; request stays pending and can still be resolved.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Resolved: %s by %s\n", resolved.Status, resolved.Decider)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	cmd.Flags().StringVar(&kind, "kind", "approval", "request kind: approval or permission")
	cmd.Flags().StringSliceVar(&deciders, "decider", nil, "identities to mention in the prompt")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until resolved or timeout")
	return cmd
}

func newConsensusListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			pending, err := consensus.ListPending(conn)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				fmt.Fprintln(out, "No pending requests.")
				return nil
			}
			for _, req := range pending {
				fmt.Fprintf(out, "%s  %-10s  %s  (from %s, prompt %s)\n",
					req.ID, req.Kind, req.Description, req.Requestor, req.PromptSeq)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	return cmd
}

func newConsensusResolveCmd() *cobra.Command {
	var (
		configPath string
		decider    string
	)

	cmd := &cobra.Command{
		Use:   "resolve <id> <approved|denied>",
		Short: "Resolve a request out of band",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			if decider == "" {
				decider = cfg.Identity
			}

			out := cmd.OutOrStdout()
			err = consensus.Resolve(conn, args[0], args[1], decider)
			var already *consensus.AlreadyResolvedError
			switch {
			case err == nil:
				fmt.Fprintf(out, "Resolved %s: %s by %s\n", args[0], args[1], decider)
				return nil
			case errors.As(err, &already):
				fmt.Fprintf(out, "Already resolved: %s by %s\n", already.Status, already.Decider)
				return nil
			default:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	cmd.Flags().StringVar(&decider, "decider", "", "deciding identity (default: configured identity)")
	return cmd
}
