package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configPath string
	ownerID    string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "veritas",
		Short:         "Answer questions from your own documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&ownerID, "owner", "local", "Owner the documents and questions belong to")

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newDeindexCmd(),
		newDocumentsCmd(),
		newChatCmd(),
		newTokenCmd(),
	)
	return root
}
