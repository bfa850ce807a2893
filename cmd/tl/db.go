package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/trunkline/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Shared store management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the shared store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(conn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Store ready (%s)\n", cfg.Store.Driver)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	return cmd
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate every Trunkline table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes: this drops all cursors, inbox events, and consensus requests")
			}
			_, conn, err := openStore(configPath)
			if err != nil {
				return err
			}
			if err := db.Reset(conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Store reset")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Trunkline config file")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive reset")
	return cmd
}
