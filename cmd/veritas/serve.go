package main

import (
	"github.com/spf13/cobra"
	"github.com/xhad/veritas/pkg/auth"
	"github.com/xhad/veritas/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			authManager, err := auth.NewManager(a.config.Server.SecretKey, a.config.Server.TokenTTL)
			if err != nil {
				return err
			}

			srv := server.NewWithConfig(server.Config{
				MaxUploadBytes: a.config.Server.MaxUploadBytes,
			}, a.chat, a.ingest, a.history, authManager,
				server.WithLogger(a.logger),
				server.WithGatherer(a.registry))
			return srv.Run(cmd.Context(), a.config.Server.Addr)
		},
	}
}
