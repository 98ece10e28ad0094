package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xhad/veritas/pkg/auth"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print an API token for --owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Server.SecretKey, cfg.Server.TokenTTL)
			if err != nil {
				return err
			}
			token, err := m.Generate(ownerID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
