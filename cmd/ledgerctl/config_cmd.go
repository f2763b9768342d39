package main

import (
	"fmt"

	"github.com/danmuck/ledgerctl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write and validate ledgerd/ledgerctl config files",
	}

	var kind string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write a config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, args[0])
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "ledgerctl", "config kind: ledgerd|ledgerctl")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var validateKind string
	validateCmd := &cobra.Command{
		Use:   "validate PATH",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(args[0], validateKind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", validateKind, args[0])
			return nil
		},
	}
	validateCmd.Flags().StringVar(&validateKind, "kind", "ledgerctl", "config kind: ledgerd|ledgerctl")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
