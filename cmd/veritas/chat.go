package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/pkg/chat"
	"go.uber.org/zap"
)

func newChatCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about the indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			color.Cyan("\nChat with your documents (type 'exit' to quit)")

			scanner := bufio.NewScanner(os.Stdin)
			userPrompt := color.New(color.FgGreen).PrintfFunc()
			assistantPrompt := color.New(color.FgCyan).PrintfFunc()
			sourcePrompt := color.New(color.FgHiBlack).PrintfFunc()

			for {
				userPrompt("\nYou: ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				query := strings.TrimSpace(scanner.Text())
				if query == "" {
					continue
				}
				if strings.EqualFold(query, "exit") {
					return nil
				}

				fmt.Print("\n")
				assistantPrompt("Assistant: ")
				onChunk := func(chunk string) error {
					assistantPrompt("%s", chunk)
					return nil
				}
				if !stream {
					onChunk = func(string) error { return nil }
				}

				resp, err := a.chat.QueryStream(cmd.Context(), ownerID, query, onChunk)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					var gen *chat.GenerationFailedError
					if errors.As(err, &gen) {
						color.Red("failed after %d attempts: %v", gen.Attempts, gen.Err)
						continue
					}
					color.Red("Error: %v", err)
					continue
				}
				if !stream {
					assistantPrompt("%s", resp.Response)
				}
				fmt.Print("\n")
				if !resp.Cached {
					_, err := a.history.Append(cmd.Context(), models.HistoryEntry{
						OwnerID:   ownerID,
						Query:     resp.Query,
						Response:  resp.Response,
						Sources:   resp.Sources,
						CreatedAt: resp.Timestamp,
					})
					if err != nil {
						a.logger.Warn("failed to record chat history", zap.Error(err))
					}
				}
				for _, src := range resp.Sources {
					sourcePrompt("  [%s] %s (%.2f)\n", src.DocumentID, src.Filename, src.RelevanceScore)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", true, "Print the answer as it is generated")
	return cmd
}
